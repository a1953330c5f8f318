package retouch

import (
	"fmt"

	"easyretouch/preset"
)

// Kind classifies what the transport should render.
type Kind int

const (
	// Instruction is plain guidance text.
	Instruction Kind = iota
	// Menu offers the preset choices.
	Menu
	// Delivered carries the comparison image.
	Delivered
	// Denied is a business refusal (quota or Pro gate).
	Denied
	// Failed is a user-facing error.
	Failed
)

// String returns the kind name used in logs and JSON.
func (k Kind) String() string {
	switch k {
	case Instruction:
		return "instruction"
	case Menu:
		return "menu"
	case Delivered:
		return "delivered"
	case Denied:
		return "denied"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// User-visible texts. Internal failure detail never reaches these.
const (
	InstructionsText = "Send your photo as a file, without compression.\n\n" +
		"From a phone: tap the paperclip, choose File, pick the photo from the gallery and send it.\n" +
		"From a computer: paperclip, select the file, untick \"Compress image\" and send.\n\n" +
		"Supported formats: JPG, PNG, WebP, BMP, TIFF."
	MenuText                   = "Choose a retouch style:"
	StartHintText              = "Send /retouch to start a new retouch."
	SessionMissingText         = "Image not found. Please start again with /retouch."
	SupersededText             = "This retouch was replaced by a newer one."
	CancelledText              = "Operation cancelled."
	LimitReachedText           = "You have used all free retouches. Get Pro access for unlimited processing."
	BadImageText               = "Couldn't read your image. Please send a JPG, PNG or WebP file."
	NeuroRequiresProText       = "Neural retouch is available for Pro users only."
	EnhancementUnavailableText = "Neural enhancement is unavailable right now, try a local preset."
	GenericFailureText         = "Something went wrong. Please try again."
)

// Outcome is the single result shape of every Manager entry point.
type Outcome struct {
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Text      string          `json:"text"`
	Presets   []preset.Preset `json:"presets,omitempty"`
	// Image and ContentType are set for Delivered only.
	Image       []byte `json:"-"`
	ContentType string `json:"-"`
}

func instruction(sessionID, text string) Outcome {
	return Outcome{Kind: Instruction, SessionID: sessionID, Text: text}
}

func denied(sessionID, text string) Outcome {
	return Outcome{Kind: Denied, SessionID: sessionID, Text: text}
}

func failed(sessionID, text string) Outcome {
	return Outcome{Kind: Failed, SessionID: sessionID, Text: text}
}

func menu(sessionID string) Outcome {
	return Outcome{Kind: Menu, SessionID: sessionID, Text: MenuText, Presets: preset.All()}
}

func delivered(sessionID string, p preset.Preset, image []byte, contentType string) Outcome {
	return Outcome{
		Kind:        Delivered,
		SessionID:   sessionID,
		Text:        fmt.Sprintf("Retouch result: %s", p.Label()),
		Image:       image,
		ContentType: contentType,
	}
}
