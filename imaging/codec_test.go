package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// patternGrid returns a deterministic, non-uniform grid.
func patternGrid(t *testing.T, w, h int) *Grid {
	t.Helper()
	g, err := NewGrid(w, h)
	if err != nil {
		t.Fatalf("NewGrid(%d, %d) error = %v", w, h, err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := g.offset(x, y)
			g.Pix[i] = uint8((x*37 + y*11) % 256)
			g.Pix[i+1] = uint8((x*5 + y*53) % 256)
			g.Pix[i+2] = uint8((x*x + y*7) % 256)
		}
	}
	return g
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			src.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	valid := encodePNG(t, src)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
		wantW   int
		wantH   int
	}{
		{name: "valid png", data: valid, wantW: 100, wantH: 80},
		{name: "empty buffer", data: nil, wantErr: ErrDecode},
		{name: "not an image", data: []byte("definitely not an image"), wantErr: ErrDecode},
		{name: "truncated png", data: valid[:len(valid)/2], wantErr: ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				if g != nil {
					t.Errorf("Decode() returned a grid alongside an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error = %v", err)
			}
			if g.Width != tt.wantW || g.Height != tt.wantH {
				t.Errorf("Decode() size = %dx%d, want %dx%d", g.Width, g.Height, tt.wantW, tt.wantH)
			}
			r, gg, b := g.At(10, 20)
			if r != 10 || gg != 20 || b != 128 {
				t.Errorf("At(10, 20) = (%d, %d, %d), want (10, 20, 128)", r, gg, b)
			}
		})
	}
}

func TestDecodeLimited(t *testing.T) {
	data := encodePNG(t, image.NewRGBA(image.Rect(0, 0, 4, 4)))

	if _, err := DecodeLimited(data, int64(len(data)-1), 0); !errors.Is(err, ErrTooLarge) {
		t.Errorf("DecodeLimited() over limit error = %v, want ErrTooLarge", err)
	}
	if _, err := DecodeLimited(data, 0, 0); err != nil {
		t.Errorf("DecodeLimited() with no limit error = %v", err)
	}
	if _, err := DecodeLimited(data, 0, 15); !errors.Is(err, ErrTooLarge) {
		t.Errorf("DecodeLimited() over pixel limit error = %v, want ErrTooLarge", err)
	}
	if _, err := DecodeLimited(data, 0, 16); err != nil {
		t.Errorf("DecodeLimited() at pixel limit error = %v", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring a w x h
// greyscale image, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	binary.Write(&ihdr, binary.BigEndian, w)
	binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 0, 0, 0, 0})

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(ihdr.Len()-4))
	buf.Write(ihdr.Bytes())
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return buf.Bytes()
}

func TestDecode_RejectsHugeDimensions(t *testing.T) {
	data := pngHeader(12000, 12000)

	g, err := Decode(data)
	if !errors.Is(err, ErrTooLarge) || !errors.Is(err, ErrDecode) {
		t.Fatalf("Decode() error = %v, want ErrTooLarge and ErrDecode", err)
	}
	if g != nil {
		t.Error("Decode() returned a grid for an oversized image")
	}
}

func TestDecodeDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{200, 100, 50, 0})
	g, err := Decode(encodePNG(t, src))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if r, gg, b := g.At(0, 0); r != 200 || gg != 100 || b != 50 {
		t.Errorf("At(0, 0) = (%d, %d, %d), want (200, 100, 50)", r, gg, b)
	}
}

func TestEncode(t *testing.T) {
	g := patternGrid(t, 30, 20)
	data, err := Encode(g)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 30 || cfg.Height != 20 {
		t.Errorf("JPEG size = %dx%d, want 30x20", cfg.Width, cfg.Height)
	}

	if _, err := Encode(&Grid{}); !errors.Is(err, ErrEmptyGrid) {
		t.Errorf("Encode(empty) error = %v, want ErrEmptyGrid", err)
	}
}

func TestEncodePNGIsLossless(t *testing.T) {
	g := patternGrid(t, 17, 9)
	data, err := EncodePNG(g)
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !back.Equal(g) {
		t.Error("PNG round trip changed pixel content")
	}
}

func TestComposeCropRoundTrip(t *testing.T) {
	tests := []struct {
		name           string
		lw, lh, rw, rh int
	}{
		{name: "same size", lw: 100, lh: 80, rw: 100, rh: 80},
		{name: "left taller", lw: 7, lh: 13, rw: 5, rh: 3},
		{name: "right taller", lw: 4, lh: 2, rw: 9, rh: 11},
		{name: "single pixels", lw: 1, lh: 1, rw: 1, rh: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left := patternGrid(t, tt.lw, tt.lh)
			right := patternGrid(t, tt.rw, tt.rh)
			// Make the halves distinguishable.
			for i := range right.Pix {
				right.Pix[i] = 255 - right.Pix[i]
			}

			canvas, err := Compose(left, right)
			if err != nil {
				t.Fatalf("Compose() error = %v", err)
			}
			if canvas.Width != tt.lw+tt.rw || canvas.Height != max(tt.lh, tt.rh) {
				t.Fatalf("canvas = %dx%d, want %dx%d", canvas.Width, canvas.Height, tt.lw+tt.rw, max(tt.lh, tt.rh))
			}

			gotLeft, err := canvas.Crop(0, 0, tt.lw, tt.lh)
			if err != nil {
				t.Fatalf("Crop(left) error = %v", err)
			}
			if !gotLeft.Equal(left) {
				t.Error("left half does not round trip")
			}
			gotRight, err := canvas.Crop(tt.lw, 0, tt.rw, tt.rh)
			if err != nil {
				t.Fatalf("Crop(right) error = %v", err)
			}
			if !gotRight.Equal(right) {
				t.Error("right half does not round trip")
			}

			// Background below the shorter grid is black.
			if tt.lh < canvas.Height {
				if r, g, b := canvas.At(0, canvas.Height-1); r|g|b != 0 {
					t.Errorf("background = (%d, %d, %d), want black", r, g, b)
				}
			}
		})
	}
}

func TestEncodeSideBySide(t *testing.T) {
	left := patternGrid(t, 100, 80)
	right := patternGrid(t, 100, 80)

	data, err := EncodeSideBySide(left, right)
	if err != nil {
		t.Fatalf("EncodeSideBySide() error = %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 80 {
		t.Errorf("side-by-side size = %dx%d, want 200x80", cfg.Width, cfg.Height)
	}

	if _, err := EncodeSideBySide(left, &Grid{}); !errors.Is(err, ErrEmptyGrid) {
		t.Errorf("EncodeSideBySide(empty right) error = %v, want ErrEmptyGrid", err)
	}
}

func TestCropOutOfBounds(t *testing.T) {
	g := patternGrid(t, 4, 4)
	if _, err := g.Crop(2, 2, 3, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Crop() error = %v, want ErrOutOfBounds", err)
	}
	if _, err := g.Crop(0, 0, 0, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Crop(zero width) error = %v, want ErrOutOfBounds", err)
	}
}
