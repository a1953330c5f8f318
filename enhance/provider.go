// Package enhance sends a grid to a remote neural enhancement service and
// returns the enhanced grid.
//
// Whatever goes wrong on the remote side (transport error, HTTP error,
// malformed response, missing result, undecodable bytes, timeout) the caller
// only ever sees ErrUnavailable.
package enhance

import (
	"context"
	"errors"
	"fmt"

	"easyretouch/artifact"
)

// ErrUnavailable is the single failure the enhancer reports to callers.
var ErrUnavailable = errors.New("enhance: neural enhancement unavailable")

// Provider names accepted in configuration.
const (
	ProviderDeepAI = "deepai"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Input is what a provider receives for one attempt.
type Input struct {
	// PNG is the lossless encoding of the grid.
	PNG []byte
	// Artifact is the staged copy of PNG when the provider's Requirement is
	// not artifact.None; nil otherwise.
	Artifact *artifact.Handle
}

// Result is a provider's answer: either the enhanced bytes inline or a
// reference the Downloader can fetch.
type Result struct {
	Data []byte
	URL  string
}

// empty reports whether the provider returned no usable reference.
func (r Result) empty() bool {
	return len(r.Data) == 0 && r.URL == ""
}

// Provider is one remote enhancement backend.
type Provider interface {
	// Name identifies the provider in logs and history.
	Name() string
	// Requirement states how the provider needs to receive the image.
	Requirement() artifact.Requirement
	// Submit performs one remote call.
	Submit(ctx context.Context, in Input) (Result, error)
}

// permanentError marks a failure that retrying cannot fix, such as a
// rejected API key.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the enhancer does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// statusError builds the error for an unexpected HTTP status. Client errors
// other than timeouts and throttling are permanent.
func statusError(provider string, code int, body string) error {
	err := fmt.Errorf("%s: unexpected status %d: %s", provider, code, body)
	if code >= 400 && code < 500 && code != 408 && code != 429 {
		return Permanent(err)
	}
	return err
}

// Disabled is the provider used when no neural backend is configured.
type Disabled struct{}

// Name implements Provider.
func (Disabled) Name() string { return ProviderNone }

// Requirement implements Provider.
func (Disabled) Requirement() artifact.Requirement { return artifact.None }

// Submit implements Provider. It always fails permanently.
func (Disabled) Submit(context.Context, Input) (Result, error) {
	return Result{}, Permanent(errors.New("no neural provider configured"))
}
