// Package mock provides a scripted STT adapter for offline runs and tests.
// Each recognition mode replays its own script of events, so a test can make
// the diarized session fail while the continuous one succeeds.
package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"speech2text/internal/service/stt"
)

// ProviderName identifies this backend in logs and metrics.
const ProviderName = "mock"

// Script is what one session replays.
type Script struct {
	Events []stt.Event
	// StartErr makes Start fail before any event is emitted.
	StartErr error
	// Delay is slept before each event.
	Delay time.Duration
}

// DefaultScripts provides a short two-speaker meeting.
var DefaultScripts = map[stt.Mode]Script{
	stt.ModeDiarized: {Events: []stt.Event{
		Partial("本日は"),
		Final("本日はお集まりいただきありがとうございます。", 0, "Guest-1"),
		Partial("よろしく"),
		Final("よろしくお願いします。", 5*time.Second, "Guest-2"),
		NoMatch(),
		Final("それでは議題に入りましょう。", 12*time.Second, "Guest-1"),
		Stopped(),
	}},
	stt.ModeContinuous: {Events: []stt.Event{
		Partial("本日は"),
		Final("本日はお集まりいただきありがとうございます。", 0, ""),
		Final("よろしくお願いします。", 5*time.Second, ""),
		Final("それでは議題に入りましょう。", 12*time.Second, ""),
		Stopped(),
	}},
}

// Partial builds an interim result event.
func Partial(text string) stt.Event {
	return stt.Event{Kind: stt.EventPartial, Result: stt.Result{Text: text}}
}

// Final builds a final result event.
func Final(text string, offset time.Duration, speaker string) stt.Event {
	return stt.Event{Kind: stt.EventFinal, Result: stt.Result{Text: text, Offset: offset, SpeakerID: speaker}}
}

// NoMatch builds a no-match event.
func NoMatch() stt.Event {
	return stt.Event{Kind: stt.EventNoMatch}
}

// Stopped builds a session-stopped event.
func Stopped() stt.Event {
	return stt.Event{Kind: stt.EventSessionStopped}
}

// CanceledWithError builds an error cancellation event.
func CanceledWithError(code, details string) stt.Event {
	return stt.Event{Kind: stt.EventCanceled, Reason: stt.CancelError, ErrorCode: code, ErrorDetails: details}
}

// Factory creates scripted adapters and remembers them for inspection.
type Factory struct {
	mu       sync.Mutex
	scripts  map[stt.Mode]Script
	adapters []*Adapter
}

// NewFactory creates a factory replaying DefaultScripts.
func NewFactory() *Factory {
	scripts := make(map[stt.Mode]Script, len(DefaultScripts))
	for mode, s := range DefaultScripts {
		scripts[mode] = s
	}
	return &Factory{scripts: scripts}
}

// SetScript replaces the script for mode.
func (f *Factory) SetScript(mode stt.Mode, s Script) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[mode] = s
	return f
}

// FailStart makes Start fail for mode.
func (f *Factory) FailStart(mode stt.Mode, err error) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scripts[mode]
	s.StartErr = err
	f.scripts[mode] = s
	return f
}

// CancelWithError makes the session for mode end with an error cancellation
// after its results.
func (f *Factory) CancelWithError(mode stt.Mode, code, details string) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scripts[mode]
	events := make([]stt.Event, 0, len(s.Events)+1)
	for _, ev := range s.Events {
		if ev.Kind == stt.EventSessionStopped || ev.Kind == stt.EventCanceled {
			continue
		}
		events = append(events, ev)
	}
	s.Events = append(events, CanceledWithError(code, details))
	f.scripts[mode] = s
	return f
}

// NewAdapter returns an adapter replaying the script for mode.
func (f *Factory) NewAdapter(ctx context.Context, mode stt.Mode) (stt.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := New(mode, f.scripts[mode])
	f.adapters = append(f.adapters, a)
	return a, nil
}

// Provider returns the backend name.
func (f *Factory) Provider() string {
	return ProviderName
}

// Adapters returns the adapters created so far, in order.
func (f *Factory) Adapters() []*Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Adapter(nil), f.adapters...)
}

// Adapter implements stt.Adapter by replaying a Script.
type Adapter struct {
	mode   stt.Mode
	script Script

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an adapter for mode replaying s.
func New(mode stt.Mode, s Script) *Adapter {
	return &Adapter{mode: mode, script: s}
}

// Mode returns the recognition mode.
func (a *Adapter) Mode() stt.Mode {
	return a.mode
}

// Start checks that the audio file exists and replays the script.
func (a *Adapter) Start(ctx context.Context, audioPath string) (<-chan stt.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil, errors.New("adapter already stopped")
	}
	if a.started {
		return nil, errors.New("adapter already started")
	}
	if a.script.StartErr != nil {
		return nil, a.script.StartErr
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.started = true
	a.cancel = cancel
	a.done = make(chan struct{})

	events := make(chan stt.Event)
	go a.replay(runCtx, events)
	return events, nil
}

func (a *Adapter) replay(ctx context.Context, events chan<- stt.Event) {
	defer close(a.done)
	defer close(events)

	for _, ev := range a.script.Events {
		if a.script.Delay > 0 {
			select {
			case <-time.After(a.script.Delay):
			case <-ctx.Done():
				return
			}
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the replay. It is safe to call more than once.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped reports whether Stop was called.
func (a *Adapter) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}
