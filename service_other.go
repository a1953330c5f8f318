//go:build !windows

package main

// RunAsService reports false: outside Windows the process is supervised
// by systemd or a container runtime and runs in the foreground.
func RunAsService() (bool, error) {
	return false, nil
}

// HandleServiceCommand handles no commands outside Windows.
func HandleServiceCommand(args []string) bool {
	return false
}
