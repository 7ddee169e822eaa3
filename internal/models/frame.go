package models

import "time"

// FrameEncoding names the wire encoding of a Frame payload.
type FrameEncoding string

const (
	EncodingJPEG FrameEncoding = "jpeg"
	EncodingRaw  FrameEncoding = "raw"
)

// Frame is one rendered tick of a Session's engine output, spec §3 "Frame".
// Consumers order frames by (Generation, Counter); a Generation bump
// invalidates any Counter ordering from the prior generation (no-lost-reset
// invariant, spec §8).
type Frame struct {
	SessionID   string        `json:"session_id"`
	Generation  int           `json:"generation"`
	Counter     uint64        `json:"counter"`
	CapturedAt  time.Time     `json:"captured_at"`
	Encoding    FrameEncoding `json:"encoding"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Payload     []byte        `json:"payload"`
	ResetMarker bool          `json:"reset_marker,omitempty"`
}

// Less orders frames per the single-producer ordering invariant: frames from
// a later generation always sort after any frame from an earlier one,
// regardless of counter.
func (f Frame) Less(other Frame) bool {
	if f.Generation != other.Generation {
		return f.Generation < other.Generation
	}
	return f.Counter < other.Counter
}
