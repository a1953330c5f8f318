package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeConfig, "configuration error"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{42, "unknown"},
	}
	for _, tt := range tests {
		if got := ExitCodeName(tt.code); got != tt.want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestIsSignalExit(t *testing.T) {
	for code, want := range map[int]bool{
		ExitCodeSuccess: false,
		ExitCodeError:   false,
		ExitCodeConfig:  false,
		ExitCodeSIGINT:  true,
		ExitCodeSIGTERM: true,
	} {
		if got := IsSignalExit(code); got != want {
			t.Errorf("IsSignalExit(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain error", errors.New("disk full"), ExitCodeError},
		{"config error", ErrMissingConfig("DB_PATH"), ExitCodeConfig},
		{"wrapped config error", fmt.Errorf("startup: %w", ErrMissingAuth(ProviderDeepAI)), ExitCodeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}
