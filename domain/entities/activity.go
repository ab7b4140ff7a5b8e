package entities

import "time"

// ActivitySample represents one periodic energy measurement of the live
// output signal.
type ActivitySample struct {
	RMS            float64   `json:"rms"`
	Peak           float64   `json:"peak"`
	ConsecutiveLow int       `json:"consecutive_low"`
	MeasuredAt     time.Time `json:"measured_at"`
}

// AboveFloor reports whether the sample carries audible energy relative to
// the given noise floor.
func (s ActivitySample) AboveFloor(floor float64) bool {
	return s.RMS >= floor
}
