// Package transcript formats recognized results into transcript lines.
package transcript

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"speech2text/internal/i18n"
	"speech2text/internal/service/stt"
)

// Segment is one final recognized phrase in arrival order.
type Segment struct {
	Offset    time.Duration
	SpeakerID string
	Text      string
}

// FormatTimestamp renders d as mm:ss. Minutes wrap at 60, so hour-long
// audio repeats minute values.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", (total/60)%60, total%60)
}

// SpeakerMap assigns 1-based display ids to opaque speaker ids in
// first-seen order.
type SpeakerMap struct {
	ids map[string]int
}

// NewSpeakerMap creates an empty map.
func NewSpeakerMap() *SpeakerMap {
	return &SpeakerMap{ids: make(map[string]int)}
}

// Lookup returns the display id for speaker, assigning the next one on first
// sight. The empty id is never numbered.
func (m *SpeakerMap) Lookup(speaker string) int {
	if speaker == "" {
		return 0
	}
	if id, ok := m.ids[speaker]; ok {
		return id
	}
	id := len(m.ids) + 1
	m.ids[speaker] = id
	return id
}

// Len returns the number of distinct speakers seen.
func (m *SpeakerMap) Len() int {
	return len(m.ids)
}

// Builder collects final results into a transcript. It implements stt.Callback.
type Builder struct {
	mu       sync.Mutex
	printer  *i18n.Printer
	progress io.Writer
	diarized bool
	speakers *SpeakerMap
	segments []Segment
	lines    []string
}

// NewBuilder creates a builder. Each formatted line is echoed to progress.
// Speaker labels are added only when diarized is true.
func NewBuilder(p *i18n.Printer, progress io.Writer, diarized bool) *Builder {
	if progress == nil {
		progress = io.Discard
	}
	return &Builder{
		printer:  p,
		progress: progress,
		diarized: diarized,
		speakers: NewSpeakerMap(),
	}
}

// OnPartial ignores interim results.
func (b *Builder) OnPartial(stt.Result) {}

// OnFinal appends a formatted line.
func (b *Builder) OnFinal(r stt.Result) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	line := fmt.Sprintf("[%s] %s%s", FormatTimestamp(r.Offset), b.label(r.SpeakerID), text)
	b.segments = append(b.segments, Segment{Offset: r.Offset, SpeakerID: r.SpeakerID, Text: text})
	b.lines = append(b.lines, line)
	fmt.Fprintln(b.progress, line)
}

// OnNoMatch prints the no-match line. Nothing is added to the transcript.
func (b *Builder) OnNoMatch() {
	b.printer.Fprintln(b.progress, i18n.MsgNoMatch)
}

// The backend's unknown-speaker sentinel is printed as-is, never numbered.
func (b *Builder) label(speaker string) string {
	if !b.diarized || speaker == "" {
		return ""
	}
	if speaker == stt.UnknownSpeaker {
		return speaker + ": "
	}
	return b.printer.Sprintf(i18n.MsgSpeakerLabel, b.speakers.Lookup(speaker))
}

// Segments returns the collected segments.
func (b *Builder) Segments() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Segment(nil), b.segments...)
}

// Speakers returns the number of distinct numbered speakers.
func (b *Builder) Speakers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speakers.Len()
}

// Empty reports whether no line was collected.
func (b *Builder) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(strings.Join(b.lines, "\n")) == ""
}

// String returns the lines joined by newlines, or the localized fallback
// sentence when nothing was recognized.
func (b *Builder) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := strings.TrimSpace(strings.Join(b.lines, "\n"))
	if text == "" {
		return b.printer.Sprintf(i18n.MsgNotRecognized)
	}
	return text
}
