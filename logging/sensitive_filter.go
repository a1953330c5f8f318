package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces every value the filter considers sensitive.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match credentials that may appear inside free-form
// strings: error messages, URLs, echoed headers.
var sensitivePatterns = []*regexp.Regexp{
	// OpenAI keys: sk-... and sk-proj-...
	regexp.MustCompile(`(sk-[a-zA-Z0-9_-]{20,})`),
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),

	// Azure storage connection strings and account keys
	regexp.MustCompile(`(?i)(DefaultEndpointsProtocol=[^;]+;[^"'\s]+)`),
	regexp.MustCompile(`(?i)(AccountKey=[^;"'\s]+)`),
	// SAS signature query parameter
	regexp.MustCompile(`(?i)(sig=[a-zA-Z0-9%/+=]{16,})`),

	// key=value / key: value assignments
	regexp.MustCompile(`(?i)(api[-_]?key\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;&]{8,})`),
}

// sensitiveFieldNames are substrings of field or variable names whose values
// are always redacted, whatever they look like.
var sensitiveFieldNames = []string{
	"API_KEY",
	"APIKEY",
	"AUTHORIZATION",
	"CONNECTION_STRING",
	"PASSWORD",
	"SECRET",
	"TOKEN",
}

// RedactSensitiveData replaces every credential-shaped substring of value.
//
// This is a pure function with no side effects.
//
// Example:
//
//	RedactSensitiveData("upload failed: api-key: 2c0c1a52-79f3-4a6c")
//	// "upload failed: [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field name designates a credential.
// The check is case-insensitive and matches on substrings, so
// "deepai_api_key" and "AZURE_STORAGE_CONNECTION_STRING" both qualify.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether value contains any credential pattern.
func ContainsSensitiveData(value string) bool {
	if value == "" {
		return false
	}
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
