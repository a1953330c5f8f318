// Package preset maps the four retouch presets to their filter chains and
// runs them.
package preset

import (
	"errors"
	"fmt"
	"strings"
)

// Preset is the closed set of retouch presets offered to users.
type Preset int

const (
	// Light corrects exposure after a brightness lift.
	Light Preset = iota + 1
	// Beauty smooths skin, removes noise and sharpens.
	Beauty
	// Pro runs the full local chain.
	Pro
	// Neuro sends the image to the remote enhancement service. Pro users only.
	Neuro
)

// ErrUnknownPreset is returned by Parse for an unrecognised name.
var ErrUnknownPreset = errors.New("preset: unknown preset")

var names = map[Preset]string{
	Light:  "light",
	Beauty: "beauty",
	Pro:    "pro",
	Neuro:  "neuro",
}

var labels = map[Preset]string{
	Light:  "Light ✨",
	Beauty: "Beauty 💄",
	Pro:    "Pro 🎯",
	Neuro:  "Neural 🧠",
}

// All returns every preset in menu order.
func All() []Preset {
	return []Preset{Light, Beauty, Pro, Neuro}
}

// Parse resolves a preset name. Matching is case-insensitive and accepts
// the "preset:" prefix used by older callback payloads.
func Parse(s string) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimPrefix(key, "preset:")
	for p, name := range names {
		if name == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

// String returns the wire name (light, beauty, pro, neuro).
func (p Preset) String() string {
	if name, ok := names[p]; ok {
		return name
	}
	return fmt.Sprintf("preset(%d)", int(p))
}

// Label returns the menu caption.
func (p Preset) Label() string {
	if label, ok := labels[p]; ok {
		return label
	}
	return p.String()
}

// Valid reports whether p is one of the defined presets.
func (p Preset) Valid() bool {
	_, ok := names[p]
	return ok
}

// RequiresPro reports whether the preset is gated on the Pro flag rather
// than on the free allowance.
func (p Preset) RequiresPro() bool {
	return p == Neuro
}

// Local reports whether the preset runs entirely in-process.
func (p Preset) Local() bool {
	return p == Light || p == Beauty || p == Pro
}

// MarshalText implements encoding.TextMarshaler.
func (p Preset) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPreset, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Preset) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
