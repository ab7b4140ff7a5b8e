package repositories

import "context"

// AudioRenderer abstracts the audio output device. Render blocks until the
// buffer has been played out (or ctx is cancelled), which is what lets the
// playback driver keep chunks strictly sequential.
//
// The renderer is owned exclusively by the playback driver; observers tap
// the stream through a decorator, they never write.
type AudioRenderer interface {
	// Render plays one PCM buffer to completion.
	Render(ctx context.Context, pcm []byte) error
	// Flush discards anything still buffered in the device.
	Flush()
	// Close releases the output device.
	Close() error
}
