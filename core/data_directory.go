package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the application name used in data directory paths.
const AppName = "EasyRetouch"

// GetDataDirectory returns the platform-specific data directory: %APPDATA%\EasyRetouch
// on Windows and ~/.easyretouch elsewhere. It does not create the directory.
func GetDataDirectory() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return AppName
		}
		return filepath.Join(home, "AppData", "Roaming", AppName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".easyretouch"
	}
	return filepath.Join(home, ".easyretouch")
}

// GetDataFilePath returns the full path for a file within the data directory.
func GetDataFilePath(filename string) string {
	return filepath.Join(GetDataDirectory(), filename)
}
