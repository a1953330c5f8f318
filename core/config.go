package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Neural provider names accepted in NEURO_PROVIDER.
const (
	ProviderDeepAI = "deepai"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Artifact backends accepted in ARTIFACT_BACKEND.
const (
	ArtifactLocal  = "local"
	ArtifactAzBlob = "azblob"
)

// responseMargin is the time left to encode and write a response after
// a selection gives up.
const responseMargin = 15 * time.Second

// Config holds all configuration values
type Config struct {
	// Server
	Port     int
	AdminIDs []string

	// Storage and logging
	DBPath               string
	LogFile              string
	LogLevel             string
	DevMode              bool
	HistoryRetentionDays int

	// Sessions and quota
	MaxFreeRetouches     int
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	RateLimitPerMinute   int
	MaxImageBytes        int64
	MaxImagePixels       int64

	// Local filters
	FilterBackend string
	FilterTimeout time.Duration
	MaxConcurrent int
	Brightness    float64
	Contrast      float64

	// Neural enhancement
	NeuroProvider    string
	NeuroTimeout     time.Duration
	NeuroRetries     int
	NeuroBackoff     time.Duration
	DeepAIAPIKey     string
	DeepAIURL        string
	DeepAIByURL      bool
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIImageModel string

	// Artifact staging for the neural call
	ArtifactBackend       string
	ArtifactDir           string
	AzureConnectionString string
	AzureContainer        string
	ArtifactURLTTL        time.Duration

	AllowSelfSignedCerts bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Port:                 8080,
		DBPath:               GetDataFilePath("retouch.db"),
		LogFile:              "easyretouch.log",
		HistoryRetentionDays: 90,
		MaxFreeRetouches:     5,
		SessionIdleTimeout:   15 * time.Minute,
		SessionSweepInterval: time.Minute,
		RateLimitPerMinute:   20,
		MaxImageBytes:        20 << 20,
		MaxImagePixels:       40_000_000,
		FilterBackend:        "native",
		FilterTimeout:        2 * time.Minute,
		MaxConcurrent:        4,
		Brightness:           30,
		Contrast:             0,
		NeuroProvider:        ProviderDeepAI,
		NeuroTimeout:         60 * time.Second,
		NeuroRetries:         1,
		NeuroBackoff:         2 * time.Second,
		DeepAIURL:            "https://api.deepai.org/api/torch-srgan",
		ArtifactBackend:      ArtifactLocal,
		AzureContainer:       "retouch-artifacts",
		ArtifactURLTTL:       15 * time.Minute,
	}
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE. Pointer
// fields distinguish "unset" from a zero value.
type fileConfig struct {
	Port             *int     `yaml:"port"`
	AdminIDs         []string `yaml:"admin_ids"`
	DBPath           string   `yaml:"db_path"`
	MaxFreeRetouches *int     `yaml:"max_free_retouches"`
	MaxImageBytes    string   `yaml:"max_image_bytes"`
	Filters          struct {
		Backend       string   `yaml:"backend"`
		MaxConcurrent *int     `yaml:"max_concurrent"`
		Brightness    *float64 `yaml:"brightness"`
		Contrast      *float64 `yaml:"contrast"`
	} `yaml:"filters"`
	Neuro struct {
		Provider string `yaml:"provider"`
		Timeout  string `yaml:"timeout"`
		Retries  *int   `yaml:"retries"`
		DeepAI   struct {
			URL   string `yaml:"url"`
			ByURL *bool  `yaml:"by_url"`
		} `yaml:"deepai"`
		OpenAI struct {
			BaseURL string `yaml:"base_url"`
			Model   string `yaml:"model"`
		} `yaml:"openai"`
	} `yaml:"neuro"`
	Artifacts struct {
		Backend   string `yaml:"backend"`
		Dir       string `yaml:"dir"`
		Container string `yaml:"container"`
	} `yaml:"artifacts"`
}

// LoadConfigFile applies the YAML overlay at path onto c.
func (c *Config) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrConfigFile(path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ErrConfigFile(path, err)
	}

	if f.Port != nil {
		c.Port = *f.Port
	}
	if len(f.AdminIDs) > 0 {
		c.AdminIDs = f.AdminIDs
	}
	setString(&c.DBPath, f.DBPath)
	if f.MaxFreeRetouches != nil {
		c.MaxFreeRetouches = *f.MaxFreeRetouches
	}
	if f.MaxImageBytes != "" {
		n, err := humanize.ParseBytes(f.MaxImageBytes)
		if err != nil {
			return ErrInvalidValue("max_image_bytes", f.MaxImageBytes, "use a size such as 20MiB")
		}
		c.MaxImageBytes = int64(n)
	}

	setString(&c.FilterBackend, f.Filters.Backend)
	if f.Filters.MaxConcurrent != nil {
		c.MaxConcurrent = *f.Filters.MaxConcurrent
	}
	if f.Filters.Brightness != nil {
		c.Brightness = *f.Filters.Brightness
	}
	if f.Filters.Contrast != nil {
		c.Contrast = *f.Filters.Contrast
	}

	setString(&c.NeuroProvider, f.Neuro.Provider)
	if f.Neuro.Timeout != "" {
		d, err := time.ParseDuration(f.Neuro.Timeout)
		if err != nil {
			return ErrInvalidValue("neuro.timeout", f.Neuro.Timeout, "use a duration such as 60s")
		}
		c.NeuroTimeout = d
	}
	if f.Neuro.Retries != nil {
		c.NeuroRetries = *f.Neuro.Retries
	}
	setString(&c.DeepAIURL, f.Neuro.DeepAI.URL)
	if f.Neuro.DeepAI.ByURL != nil {
		c.DeepAIByURL = *f.Neuro.DeepAI.ByURL
	}
	setString(&c.OpenAIBaseURL, f.Neuro.OpenAI.BaseURL)
	setString(&c.OpenAIImageModel, f.Neuro.OpenAI.Model)

	setString(&c.ArtifactBackend, f.Artifacts.Backend)
	setString(&c.ArtifactDir, f.Artifacts.Dir)
	setString(&c.AzureContainer, f.Artifacts.Container)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadConfig builds the configuration from defaults, the optional
// CONFIG_FILE overlay, then environment variables. The environment wins.
// Secrets are read from the environment only. When no provider is named
// anywhere, DeepAI is used if DEEPAI_API_KEY is set and neural
// enhancement is off otherwise.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	c.NeuroProvider = ""
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := c.LoadConfigFile(path); err != nil {
			return nil, err
		}
	}

	c.Port = ParseIntEnv("PORT", c.Port)
	if ids := ParseListEnv("ADMIN_IDS"); ids != nil {
		c.AdminIDs = ids
	}

	c.DBPath = GetEnvOrDefault("DB_PATH", c.DBPath)
	c.LogFile = GetEnvOrDefault("LOG_FILE", c.LogFile)
	c.LogLevel = GetEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.DevMode = ParseBoolEnv("DEV_MODE", c.DevMode)
	c.HistoryRetentionDays = ParseIntEnv("HISTORY_RETENTION_DAYS", c.HistoryRetentionDays)

	c.MaxFreeRetouches = ParseIntEnv("MAX_FREE_RETOUCHES", c.MaxFreeRetouches)
	c.SessionIdleTimeout = ParseDurationEnv("SESSION_IDLE_TIMEOUT", int(c.SessionIdleTimeout/time.Second))
	c.SessionSweepInterval = ParseDurationEnv("SESSION_SWEEP_INTERVAL", int(c.SessionSweepInterval/time.Second))
	c.RateLimitPerMinute = ParseIntEnv("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	if v := os.Getenv("MAX_IMAGE_BYTES"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return nil, ErrInvalidValue("MAX_IMAGE_BYTES", v, "Use a byte count or a size such as 20MiB")
		}
		c.MaxImageBytes = int64(n)
	}
	c.MaxImagePixels = int64(ParseIntEnv("MAX_IMAGE_PIXELS", int(c.MaxImagePixels)))

	c.FilterBackend = GetEnvOrDefault("FILTER_BACKEND", c.FilterBackend)
	c.FilterTimeout = ParseDurationEnv("FILTER_TIMEOUT", int(c.FilterTimeout/time.Second))
	c.MaxConcurrent = ParseIntEnv("MAX_CONCURRENT", c.MaxConcurrent)

	c.NeuroProvider = strings.ToLower(GetEnvOrDefault("NEURO_PROVIDER", c.NeuroProvider))
	c.NeuroTimeout = ParseDurationEnv("NEURO_TIMEOUT", int(c.NeuroTimeout/time.Second))
	c.NeuroRetries = ParseIntEnv("NEURO_RETRIES", c.NeuroRetries)
	c.NeuroBackoff = ParseDurationEnv("NEURO_BACKOFF", int(c.NeuroBackoff/time.Second))
	c.DeepAIAPIKey = os.Getenv("DEEPAI_API_KEY")
	c.DeepAIURL = GetEnvOrDefault("DEEPAI_URL", c.DeepAIURL)
	c.DeepAIByURL = ParseBoolEnv("DEEPAI_BY_URL", c.DeepAIByURL)
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAIBaseURL = GetEnvOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIImageModel = GetEnvOrDefault("OPENAI_IMAGE_MODEL", c.OpenAIImageModel)

	c.ArtifactBackend = strings.ToLower(GetEnvOrDefault("ARTIFACT_BACKEND", c.ArtifactBackend))
	c.ArtifactDir = GetEnvOrDefault("ARTIFACT_DIR", c.ArtifactDir)
	c.AzureConnectionString = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	c.AzureContainer = GetEnvOrDefault("AZURE_STORAGE_CONTAINER", c.AzureContainer)
	c.ArtifactURLTTL = ParseDurationEnv("ARTIFACT_URL_TTL", int(c.ArtifactURLTTL/time.Second))

	c.AllowSelfSignedCerts = ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", c.AllowSelfSignedCerts)

	if c.NeuroProvider == "" {
		c.NeuroProvider = ProviderNone
		if c.DeepAIAPIKey != "" {
			c.NeuroProvider = ProviderDeepAI
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges and the combinations the neural path needs.
func (c *Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return ErrInvalidValue("PORT", fmt.Sprint(c.Port), "Use a port between 1 and 65535")
	case c.DBPath == "":
		return ErrMissingConfig("DB_PATH")
	case c.MaxFreeRetouches < 0:
		return ErrInvalidValue("MAX_FREE_RETOUCHES", fmt.Sprint(c.MaxFreeRetouches), "Use zero or a positive number")
	case c.MaxConcurrent < 1:
		return ErrInvalidValue("MAX_CONCURRENT", fmt.Sprint(c.MaxConcurrent), "Use at least 1")
	case c.MaxImageBytes <= 0:
		return ErrInvalidValue("MAX_IMAGE_BYTES", fmt.Sprint(c.MaxImageBytes), "Use a positive size")
	case c.MaxImagePixels <= 0:
		return ErrInvalidValue("MAX_IMAGE_PIXELS", fmt.Sprint(c.MaxImagePixels), "Use a positive pixel count")
	case c.FilterTimeout <= 0:
		return ErrInvalidValue("FILTER_TIMEOUT", c.FilterTimeout.String(), "Use a positive number of seconds")
	case c.NeuroRetries < 0:
		return ErrInvalidValue("NEURO_RETRIES", fmt.Sprint(c.NeuroRetries), "Use zero or a positive number")
	case c.NeuroTimeout <= 0:
		return ErrInvalidValue("NEURO_TIMEOUT", c.NeuroTimeout.String(), "Use a positive number of seconds")
	case c.NeuroBackoff < 0:
		return ErrInvalidValue("NEURO_BACKOFF", c.NeuroBackoff.String(), "Use zero or a positive number of seconds")
	case c.HistoryRetentionDays < 0:
		return ErrInvalidValue("HISTORY_RETENTION_DAYS", fmt.Sprint(c.HistoryRetentionDays), "Use zero to keep history forever")
	}

	switch c.FilterBackend {
	case "native", "opencv":
	default:
		return ErrInvalidValue("FILTER_BACKEND", c.FilterBackend, "Use native or opencv")
	}

	switch c.ArtifactBackend {
	case ArtifactLocal:
	case ArtifactAzBlob:
		if c.AzureConnectionString == "" {
			return ErrMissingConfig("AZURE_STORAGE_CONNECTION_STRING")
		}
	default:
		return ErrInvalidValue("ARTIFACT_BACKEND", c.ArtifactBackend, "Use local or azblob")
	}

	switch c.NeuroProvider {
	case ProviderNone:
	case ProviderDeepAI:
		if c.DeepAIAPIKey == "" {
			return ErrMissingAuth(ProviderDeepAI)
		}
		if c.DeepAIByURL && c.ArtifactBackend != ArtifactAzBlob {
			return ErrIncompatible("DEEPAI_BY_URL needs ARTIFACT_BACKEND=azblob so the service can fetch the image")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrMissingAuth(ProviderOpenAI)
		}
		if c.ArtifactBackend != ArtifactLocal {
			return ErrIncompatible("NEURO_PROVIDER=openai uploads a local file and needs ARTIFACT_BACKEND=local")
		}
	default:
		return ErrInvalidValue("NEURO_PROVIDER", c.NeuroProvider, "Use deepai, openai or none")
	}
	return nil
}

// RetouchTimeout bounds one preset selection: the local filters plus
// every neural attempt and the backoff between them.
func (c *Config) RetouchTimeout() time.Duration {
	d := c.FilterTimeout
	if c.NeuroProvider != ProviderNone {
		d += c.NeuroTimeout*time.Duration(c.NeuroRetries+1) + c.NeuroBackoff*time.Duration(c.NeuroRetries)
	}
	return d
}

// HTTPWriteTimeout is the server write deadline. It outlasts
// RetouchTimeout so a selection always ends before its response is cut.
func (c *Config) HTTPWriteTimeout() time.Duration {
	return c.RetouchTimeout() + responseMargin
}

// MaxImageSize returns MaxImageBytes for display, e.g. "20 MiB".
func (c *Config) MaxImageSize() string {
	return humanize.IBytes(uint64(c.MaxImageBytes))
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on AllowSelfSignedCerts
// This should be used for all HTTP requests to external APIs to ensure TLS configuration is respected
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}
