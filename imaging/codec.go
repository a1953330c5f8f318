package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Codec errors
var (
	// ErrDecode is returned for any buffer that is not a complete, recognised
	// still image. Callers map it to the "bad image" outcome.
	ErrDecode   = errors.New("imaging: cannot decode image")
	ErrTooLarge = errors.New("imaging: image exceeds size limit")
	ErrEncode   = errors.New("imaging: cannot encode image")
)

// DefaultMaxPixels caps Width*Height for Decode. At four bytes per pixel
// the decoded frame stays under about 160 MiB.
const DefaultMaxPixels = 40_000_000

// JPEGQuality is the quality used for every delivered artifact.
const JPEGQuality = 92

// ContentTypeJPEG is the media type of Encode and EncodeSideBySide output.
const ContentTypeJPEG = "image/jpeg"

// Decode turns an encoded image (JPEG, PNG, GIF, BMP, TIFF or WebP) into a Grid.
//
// A truncated or corrupt buffer never yields a partial grid: the decoders
// report an error and Decode wraps it in ErrDecode. Zero-sized images are
// rejected the same way.
//
// The header is read first and images above DefaultMaxPixels are refused
// before any pixel buffer is allocated.
//
// This is a pure function with no side effects.
func Decode(data []byte) (*Grid, error) {
	return decode(data, DefaultMaxPixels)
}

func decode(data []byte, maxPixels int64) (*Grid, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %w: %dx%d is over %d pixels", ErrDecode, ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	g, err := FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	return g, nil
}

// DecodeLimited is Decode with caller-supplied bounds on the encoded size
// and on the pixel count. A maxBytes of zero or less disables the size
// check; a maxPixels of zero or less falls back to DefaultMaxPixels.
func DecodeLimited(data []byte, maxBytes, maxPixels int64) (*Grid, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxBytes)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return decode(data, maxPixels)
}

// Encode produces a JPEG of the grid at JPEGQuality.
func Encode(g *Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, g.ToNRGBA(), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// EncodePNG produces a lossless PNG of the grid. Used when the grid leaves
// the process for further processing rather than for display.
func EncodePNG(g *Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, g.ToNRGBA()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Compose builds the before/after comparison canvas.
//
// The canvas is left.Width+right.Width wide and max(left.Height,
// right.Height) tall. left is pasted at the origin and right immediately to
// its right; the uncovered area of the shorter grid stays black. Neither
// input is rescaled, so Crop(0, 0, left.Width, left.Height) returns left
// exactly and Crop(left.Width, 0, right.Width, right.Height) returns right.
func Compose(left, right *Grid) (*Grid, error) {
	if err := left.Validate(); err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	if err := right.Validate(); err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, left.Width+right.Width, max(left.Height, right.Height)))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(image.Black), image.Point{}, draw.Src)
	draw.Draw(canvas, left.Bounds(), left.ToNRGBA(), image.Point{}, draw.Src)
	draw.Draw(canvas, right.Bounds().Add(image.Pt(left.Width, 0)), right.ToNRGBA(), image.Point{}, draw.Src)

	return fromNRGBA(canvas), nil
}

// EncodeSideBySide composes left and right and encodes the canvas as JPEG.
func EncodeSideBySide(left, right *Grid) ([]byte, error) {
	canvas, err := Compose(left, right)
	if err != nil {
		return nil, err
	}
	return Encode(canvas)
}
