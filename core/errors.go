package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig = "MISSING_CONFIG"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeMissingAuth   = "MISSING_AUTH"
	ErrCodeConfigFile    = "CONFIG_FILE"
	ErrCodeIncompatible  = "INCOMPATIBLE_CONFIG"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidValue returns an error for a value outside its allowed range.
func ErrInvalidValue(varName, value, action string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value for %s: %q", varName, value),
		Action:  action,
	}
}

// ErrMissingAuth returns an error for a neural provider without credentials.
func ErrMissingAuth(provider string) *ConfigError {
	var action string
	switch provider {
	case ProviderDeepAI:
		action = "Set DEEPAI_API_KEY in your .env file, or NEURO_PROVIDER=none to disable the neural preset"
	case ProviderOpenAI:
		action = "Set OPENAI_API_KEY in your .env file, or NEURO_PROVIDER=none to disable the neural preset"
	default:
		action = fmt.Sprintf("Set the required API key for %s in your .env file", provider)
	}
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", provider),
		Action:  action,
	}
}

// ErrConfigFile returns an error for an unreadable or malformed CONFIG_FILE.
func ErrConfigFile(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFile,
		Message: fmt.Sprintf("Cannot load config file %s: %v", path, cause),
		Action:  "Fix the YAML or unset CONFIG_FILE",
	}
}

// ErrIncompatible returns an error for settings that cannot work together.
func ErrIncompatible(reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeIncompatible,
		Message: "Incompatible configuration: " + reason,
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
