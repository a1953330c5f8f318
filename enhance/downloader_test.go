package enhance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDownloader_DownloadBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("pngdata"))
		case "/blob":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("blobdata"))
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html></html>"))
		case "/big.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte(strings.Repeat("x", 64)))
		case "/empty.png":
			w.Header().Set("Content-Type", "image/png")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), 32)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"image", "/ok.png", "pngdata", false},
		{"octet stream", "/blob", "blobdata", false},
		{"html rejected", "/page", "", true},
		{"too large", "/big.png", "", true},
		{"empty body", "/empty.png", "", true},
		{"not found", "/missing", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _, err := d.DownloadBytes(context.Background(), srv.URL+tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DownloadBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(data) != tt.want {
				t.Errorf("DownloadBytes() = %q, want %q", data, tt.want)
			}
		})
	}

	if _, _, err := d.DownloadBytes(context.Background(), ""); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestIsImageContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"image/jpeg", true},
		{"IMAGE/PNG; charset=binary", true},
		{"application/octet-stream", true},
		{"application/json", false},
		{"text/plain", false},
	}
	for _, tt := range tests {
		if got := isImageContentType(tt.ct); got != tt.want {
			t.Errorf("isImageContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
