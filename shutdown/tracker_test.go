package shutdown

import (
	"errors"
	"testing"
	"time"
)

func TestOperationTracker(t *testing.T) {
	tr := NewOperationTracker()
	if !tr.Start() || !tr.Start() {
		t.Fatal("Start() on open tracker = false")
	}
	if tr.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2", tr.ActiveCount())
	}

	tr.Close()
	if tr.Start() {
		t.Error("Start() after Close() = true")
	}
	if !tr.IsClosed() {
		t.Error("IsClosed() = false")
	}

	if err := tr.Wait(10 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait() with active ops = %v, want ErrWaitTimeout", err)
	}

	go func() {
		tr.Done()
		tr.Done()
	}()
	if err := tr.Wait(2 * time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after Done", tr.ActiveCount())
	}
}
