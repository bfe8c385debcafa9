// Package stt defines the contract between recognition backends and the
// transcription session.
package stt

import (
	"context"
	"time"
)

// Mode selects the recognition variant of a session.
type Mode int

const (
	// ModeDiarized attributes each result to a speaker.
	ModeDiarized Mode = iota
	// ModeContinuous is plain continuous recognition.
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeDiarized:
		return "diarized"
	case ModeContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// EventKind identifies a recognition event.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventNoMatch
	EventCanceled
	EventSessionStopped
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventNoMatch:
		return "nomatch"
	case EventCanceled:
		return "canceled"
	case EventSessionStopped:
		return "session_stopped"
	default:
		return "unknown"
	}
}

// CancellationReason says why a session was canceled.
type CancellationReason int

const (
	CancelEndOfStream CancellationReason = iota
	CancelError
)

func (r CancellationReason) String() string {
	switch r {
	case CancelEndOfStream:
		return "EndOfStream"
	case CancelError:
		return "Error"
	default:
		return "Unknown"
	}
}

// UnknownSpeaker is reported by a backend that ran diarization but could not
// attribute a result.
const UnknownSpeaker = "Unknown"

// Result is one recognized phrase.
type Result struct {
	Text string
	// Offset from the start of the audio.
	Offset time.Duration
	// SpeakerID is an opaque backend id. Empty when not diarized.
	SpeakerID string
}

// Event is emitted by an Adapter on its event channel.
type Event struct {
	Kind   EventKind
	Result Result

	// Set for EventCanceled.
	Reason       CancellationReason
	ErrorCode    string
	ErrorDetails string
}

// Adapter is one recognition session against a backend.
type Adapter interface {
	// Start opens the audio file and begins recognition. Events are delivered
	// on the returned channel, which is closed when the backend is done.
	Start(ctx context.Context, audioPath string) (<-chan Event, error)

	// Stop ends recognition and releases the stream, the audio file and the
	// client. It is safe to call more than once.
	Stop(ctx context.Context) error
}

// Factory creates adapters for a recognition mode.
type Factory interface {
	NewAdapter(ctx context.Context, mode Mode) (Adapter, error)
	// Provider names the backend for logs and metrics.
	Provider() string
}

// Callback receives results dispatched by a session.
type Callback interface {
	// OnPartial is called for interim results.
	OnPartial(r Result)

	// OnFinal is called for each final result with text.
	OnFinal(r Result)

	// OnNoMatch is called when a final result carried no speech.
	OnNoMatch()
}
