//go:build windows

// service_windows.go runs EasyRetouch as a Windows service using
// github.com/kardianos/service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"

	"easyretouch/core"
)

// serviceStopTimeout bounds Stop; the shutdown manager's own timeout is
// shorter.
const serviceStopTimeout = 90 * time.Second

// Program implements service.Interface around run.
type Program struct {
	ctx    context.Context
	cancel context.CancelFunc
	exit   chan struct{}
	code   int
}

// Start is called when the service is started. It must not block.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.exit = make(chan struct{})

	go p.run()
	return nil
}

// Stop cancels run and waits for the graceful shutdown to finish.
func (p *Program) Stop(s service.Service) error {
	p.cancel()

	select {
	case <-p.exit:
	case <-time.After(serviceStopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}
	if p.code != core.ExitCodeSuccess {
		return fmt.Errorf("service stopped with exit code %d", p.code)
	}
	return nil
}

func (p *Program) run() {
	defer close(p.exit)
	// The service manager delivers stop requests; no signal handling here.
	p.code = run(p.ctx, false)
}

// ServiceConfig returns the service configuration for Windows.
func ServiceConfig() *service.Config {
	return &service.Config{
		Name:        "EasyRetouch",
		DisplayName: "EasyRetouch Photo Service",
		Description: "Photo retouch bot backend: presets, quota and neural enhancement",
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

func newService() (service.Service, error) {
	s, err := service.New(&Program{}, ServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// RunAsService runs the application under the service manager.
// Returns true if running as a service, false if running interactively.
func RunAsService() (bool, error) {
	if service.Interactive() {
		return false, nil
	}

	s, err := newService()
	if err != nil {
		return false, err
	}
	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run failed: %w", err)
	}
	return true, nil
}

// controlService performs one service manager action.
func controlService(action string) error {
	s, err := newService()
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	fmt.Printf("Service %s: ok\n", action)
	return nil
}

// ServiceStatus returns the current status of the Windows service.
func ServiceStatus() (service.Status, error) {
	s, err := newService()
	if err != nil {
		return service.StatusUnknown, err
	}
	status, err := s.Status()
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("failed to get service status: %w", err)
	}
	return status, nil
}

// PrintServiceUsage prints the help for service commands.
func PrintServiceUsage() {
	fmt.Println("EasyRetouch Service Management")
	fmt.Println()
	fmt.Println("Usage: easyretouch.exe <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  install    Install the application as a Windows service")
	fmt.Println("  uninstall  Remove the Windows service (alias: remove)")
	fmt.Println("  start      Start the Windows service")
	fmt.Println("  stop       Stop the Windows service")
	fmt.Println("  restart    Restart the Windows service")
	fmt.Println("  status     Show the current service status")
	fmt.Println("  version    Print version information")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Run without arguments to start the service in the foreground.")
}

// HandleServiceCommand handles service-related command-line arguments.
// Returns true if a service command was handled, false otherwise.
func HandleServiceCommand(args []string) bool {
	if len(args) < 2 {
		return false
	}

	var err error
	switch args[1] {
	case "install", "uninstall", "start", "stop", "restart":
		err = controlService(args[1])
	case "remove":
		err = controlService("uninstall")
	case "status":
		status, statusErr := ServiceStatus()
		if statusErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", statusErr)
			os.Exit(core.ExitCodeError)
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service is running")
		case service.StatusStopped:
			fmt.Println("Service is stopped")
		default:
			fmt.Println("Service status unknown")
		}
		return true
	case "help", "-h", "--help", "-help":
		PrintServiceUsage()
		return true
	default:
		return false
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	return true
}
