package repositories

import "context"

// TextToSpeech synthesizes speech as a stream of PCM chunks. Used by the
// simulator harness to produce a realistic chunked feed.
type TextToSpeech interface {
	// Synthesize converts text to audio, delivering chunks on the returned
	// channel. The channel closes when synthesis finishes or ctx is cancelled.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
