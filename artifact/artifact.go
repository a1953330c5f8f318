// Package artifact stages short-lived copies of an image for remote
// enhancement services that cannot take the bytes inline: some need a local
// file to stream from, others a URL they can fetch.
//
// An artifact lives for exactly one remote call. Scope stages it, runs the
// call and releases it on every exit path.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easyretouch/logging"
)

// Artifact errors
var (
	ErrEmptyPayload = errors.New("artifact: empty payload")
	ErrInvalidKey   = errors.New("artifact: invalid key")
	ErrNotFound     = errors.New("artifact: not found")
	// ErrUnsupported is returned when a store cannot provide the handle a
	// provider requires (e.g. a URL from the local store).
	ErrUnsupported = errors.New("artifact: store cannot satisfy requirement")
)

// Requirement describes what a remote provider needs to receive an image.
type Requirement int

const (
	// None means the provider takes the bytes inline.
	None Requirement = iota
	// LocalFile means the provider streams from a file on disk.
	LocalFile
	// FetchURL means the provider downloads the image from a URL.
	FetchURL
)

// String returns the requirement name.
func (r Requirement) String() string {
	switch r {
	case LocalFile:
		return "local_file"
	case FetchURL:
		return "fetch_url"
	default:
		return "none"
	}
}

// Handle references one staged artifact.
type Handle struct {
	// Key identifies the artifact inside its store.
	Key string
	// Path is set by stores that keep a local file.
	Path string
	// URL is set by stores that expose the artifact over HTTP.
	URL string
	// ContentType of the staged bytes.
	ContentType string
	// Size in bytes.
	Size int
}

// Store stages and releases artifacts.
type Store interface {
	// Stage persists data and returns a handle for it.
	Stage(ctx context.Context, key string, data []byte, contentType string) (*Handle, error)
	// Release removes the artifact. Releasing an already removed artifact
	// is not an error.
	Release(ctx context.Context, h *Handle) error
	// Supports reports whether handles from this store satisfy req.
	Supports(req Requirement) bool
	// Name identifies the store in logs.
	Name() string
}

// NewKey returns a unique artifact key with the given extension.
func NewKey(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("retouch-%s.%s", uuid.NewString(), ext)
}

// validateKey rejects keys that could escape the store's namespace.
func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Scope stages data in store, passes the handle to fn and releases the
// artifact when fn returns, whether it succeeded, failed or panicked.
// Release uses a context detached from ctx's cancellation so a timed-out
// call still cleans up.
func Scope(ctx context.Context, store Store, data []byte, contentType string, logger *logging.Logger, fn func(h *Handle) error) error {
	h, err := store.Stage(ctx, NewKey(extension(contentType)), data, contentType)
	if err != nil {
		return fmt.Errorf("stage artifact: %w", err)
	}

	defer func() {
		if rerr := store.Release(context.WithoutCancel(ctx), h); rerr != nil {
			logger.Warn("artifact release failed",
				zap.String("store", store.Name()),
				zap.String("key", h.Key),
				zap.Error(rerr))
		}
	}()

	return fn(h)
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}
