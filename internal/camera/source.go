// Package camera provides the frame source boundary for the video channel.
// Sources hand back already-encoded JPEG frames; the broadcaster never
// inspects pixel data.
package camera

import "context"

// Source produces encoded JPEG frames.
type Source interface {
	// CaptureFrame returns the next frame. It may block for the capture
	// interval and must honour ctx cancellation.
	CaptureFrame(ctx context.Context) ([]byte, error)

	// Close releases the capture device.
	Close() error
}

// Opener creates a frame source. The broadcaster reopens through it with
// backoff after a capture failure.
type Opener func() (Source, error)
