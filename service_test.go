package main

import (
	"testing"
)

func TestHandleServiceCommand_NotAServiceCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{}},
		{"program only", []string{"easyretouch"}},
		{"unknown", []string{"easyretouch", "unknown"}},
		{"version", []string{"easyretouch", "version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if HandleServiceCommand(tt.args) {
				t.Errorf("HandleServiceCommand(%v) = true, want false", tt.args)
			}
		})
	}
}

func TestRunAsService_Interactive(t *testing.T) {
	// Tests always run interactively.
	isService, err := RunAsService()
	if err != nil {
		t.Errorf("RunAsService returned error: %v", err)
	}
	if isService {
		t.Error("RunAsService should return false in interactive/test mode")
	}
}
