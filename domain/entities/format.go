package entities

import "time"

// AudioFormat describes the PCM layout of the incoming stream.
// The transport delivers fixed-bit-depth linear PCM at a known sample rate.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	BitDepth   int `json:"bit_depth"`
	Channels   int `json:"channels"`
}

// DefaultAudioFormat is the format the agent service streams by default.
var DefaultAudioFormat = AudioFormat{
	SampleRate: 24000,
	BitDepth:   16,
	Channels:   1,
}

// BytesPerSecond returns the raw data rate for this format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * (f.BitDepth / 8) * f.Channels
}

// Duration estimates playback time for a payload of byteLen bytes.
func (f AudioFormat) Duration(byteLen int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(byteLen) / float64(bps) * float64(time.Second))
}

// BytesForDuration returns how many bytes cover the given duration.
func (f AudioFormat) BytesForDuration(d time.Duration) int {
	return int(float64(f.BytesPerSecond()) * d.Seconds())
}
