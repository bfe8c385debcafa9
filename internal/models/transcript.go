// Package models defines the data structures for pipeline events.
package models

// Event types
const (
	EventTypeTranscriptCompleted = "speech2text.transcript.completed"
	EventTypeAnalysisCompleted   = "speech2text.analysis.completed"
)

// TranscriptCompleted is published after the transcript file is written.
type TranscriptCompleted struct {
	EventType   string `json:"eventType"`
	RunID       string `json:"runId"`
	Timestamp   int64  `json:"timestamp"`
	AudioFile   string `json:"audioFile"`
	AudioDigest string `json:"audioDigest,omitempty"`
	OutputPath  string `json:"outputPath"`
	Tier        string `json:"tier"`
	Segments    int    `json:"segments"`
	Speakers    int    `json:"speakers"`
	Chars       int    `json:"chars"`
}

// AnalysisCompleted is published after the analysis file is written.
type AnalysisCompleted struct {
	EventType   string `json:"eventType"`
	RunID       string `json:"runId"`
	Timestamp   int64  `json:"timestamp"`
	AudioFile   string `json:"audioFile"`
	AudioDigest string `json:"audioDigest,omitempty"`
	OutputPath  string `json:"outputPath"`
	Deployment  string `json:"deployment"`
	Chars       int    `json:"chars"`
}
