package shutdown

import "testing"

func TestSignalCounter(t *testing.T) {
	forced := 0
	c := NewSignalCounter(2, func() { forced++ })

	if n := c.Increment(); n != 1 || forced != 0 {
		t.Errorf("first signal: count %d, forced %d", n, forced)
	}
	if n := c.Increment(); n != 2 || forced != 1 {
		t.Errorf("second signal: count %d, forced %d", n, forced)
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d", c.Count())
	}

	NewSignalCounter(1, nil).Increment()
}
