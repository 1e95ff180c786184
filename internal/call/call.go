// Package call defines the boundary contract with the voice call platform.
// The platform joins/leaves calls, emits speech activity events per
// participant, and delivers decoded PCM audio for subscribed participants.
package call

import (
	"context"
	"time"
)

// EventType identifies a speech activity transition.
type EventType int

const (
	// SpeechStart marks the beginning of a speech burst for a participant.
	SpeechStart EventType = iota
	// SpeechStop marks the end of a speech burst for a participant.
	SpeechStop
)

// Event is a timestamped speech activity signal for one participant.
type Event struct {
	Participant string
	Type        EventType
	Timestamp   time.Time
}

// Handle is a live connection to one voice call. Implementations deliver
// events and audio from their own goroutines; callers must be safe for
// concurrent invocation.
type Handle interface {
	// Notify registers fn to receive speech activity events. The returned
	// cancel function unregisters it.
	Notify(fn func(Event)) (cancel func())

	// Subscribe begins delivering decoded audio for one participant as
	// interleaved stereo 16-bit little-endian PCM in arbitrary chunk
	// sizes. The returned cancel function stops delivery.
	Subscribe(participant string, fn func(pcm []byte)) (cancel func(), err error)

	// Leave severs the connection to the call.
	Leave(ctx context.Context) error
}

// LabelResolver maps a participant id to a human-readable display label.
// Implementations return the raw id when no better label is known.
type LabelResolver func(participant string) string
