//go:build !opencv || !cgo

// Stub for builds without OpenCV.
// Build with -tags opencv (and cgo enabled) to get the real backend.

package imaging

func newOpenCV() (Filters, error) {
	return nil, ErrBackendUnavailable
}
