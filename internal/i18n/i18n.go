// Package i18n holds the console and result strings shown to the user.
//
// Keys are the English format strings; the Japanese catalog is registered in
// the default x/text catalog at init. Japanese is the default locale.
package i18n

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. Each one is also the English rendering.
const (
	MsgUsage            = "Usage: speech2text <audio file path>"
	MsgUsageExample     = "Example: speech2text /path/to/audio.wav"
	MsgFileNotFound     = "Error: file not found: %s"
	MsgErrorOccurred    = "An error occurred: %s"
	MsgInvalidSettings  = "%s settings are invalid. Check appsettings.json."
	MsgTranscribeStart  = "Starting transcription of the audio file..."
	MsgTranscribeDone   = "Transcription complete: %s"
	MsgAnalysisStart    = "Starting AI analysis..."
	MsgAnalysisDone     = "AI analysis complete: %s"
	MsgNoMatch          = "NOMATCH: speech could not be recognized."
	MsgNotRecognized    = "Audio could not be recognized."
	MsgSpeakerLabel     = "Speaker %d: "
	MsgDiarizedCanceled = "Speaker recognition was canceled: %s"
	MsgContinuousCancel = "Speech recognition was canceled: %s"
	MsgErrorDetails     = "Error details: %s"
	MsgDiarizedStopped  = "Speaker recognition session ended."
	MsgContinuousStop   = "Speech recognition session ended."
	MsgDiarizedError    = "Speaker recognition error: %s"
	MsgRetryContinuous  = "Retrying with plain recognition without speaker attribution..."
	MsgContinuousError  = "Speech recognition error: %s"
	MsgAnalysisFailed   = "An error occurred during AI analysis: %s"
	MsgAnalysisStatus   = "An error occurred during AI analysis: %s - %s"
	MsgAnalysisEmpty    = "Could not retrieve the analysis result."

	MsgGroupSpeech  = "Speech service"
	MsgGroupOpenAI  = "Azure OpenAI"
	MsgGroupPrompts = "AI prompt"
)

var japanese = map[string]string{
	MsgUsage:            "使用方法: speech2text <音声ファイルパス>",
	MsgUsageExample:     "例: speech2text /path/to/audio.wav",
	MsgFileNotFound:     "エラー: ファイルが見つかりません: %s",
	MsgErrorOccurred:    "エラーが発生しました: %s",
	MsgInvalidSettings:  "%sの設定が不正です。appsettings.jsonを確認してください。",
	MsgTranscribeStart:  "音声ファイルの文字起こしを開始しています...",
	MsgTranscribeDone:   "文字起こし完了: %s",
	MsgAnalysisStart:    "AI分析を開始しています...",
	MsgAnalysisDone:     "AI分析完了: %s",
	MsgNoMatch:          "NOMATCH: 音声を認識できませんでした。",
	MsgNotRecognized:    "音声を認識できませんでした。",
	MsgSpeakerLabel:     "話者%d: ",
	MsgDiarizedCanceled: "話者認識がキャンセルされました: %s",
	MsgContinuousCancel: "音声認識がキャンセルされました: %s",
	MsgErrorDetails:     "エラー詳細: %s",
	MsgDiarizedStopped:  "話者認識セッションが終了しました。",
	MsgContinuousStop:   "音声認識セッションが終了しました。",
	MsgDiarizedError:    "話者認識エラー: %s",
	MsgRetryContinuous:  "話者認識なしの通常認識で再試行します...",
	MsgContinuousError:  "音声認識エラー: %s",
	MsgAnalysisFailed:   "AI分析中にエラーが発生しました: %s",
	MsgAnalysisStatus:   "AI分析中にエラーが発生しました: %s - %s",
	MsgAnalysisEmpty:    "分析結果を取得できませんでした。",

	MsgGroupSpeech:  "音声認識サービス",
	MsgGroupOpenAI:  "Azure OpenAI",
	MsgGroupPrompts: "AIプロンプト",
}

func init() {
	for key, msg := range japanese {
		if err := message.SetString(language.Japanese, key, msg); err != nil {
			panic(fmt.Sprintf("i18n: register %q: %v", key, err))
		}
	}
}

// Printer renders catalog messages for one locale.
type Printer struct {
	p *message.Printer
}

// New returns a Printer for locale. Unknown or empty locales fall back to Japanese.
func New(locale string) *Printer {
	tag := language.Japanese
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			base, _ := parsed.Base()
			if base.String() == "en" {
				tag = language.English
			}
		}
	}
	return &Printer{p: message.NewPrinter(tag)}
}

// Sprintf formats the message for key.
func (p *Printer) Sprintf(key string, args ...any) string {
	return p.p.Sprintf(key, args...)
}

// GroupName returns the display name of a settings group ("speech",
// "openai", "prompts"). Unknown groups are returned unchanged.
func (p *Printer) GroupName(group string) string {
	switch group {
	case "speech":
		return p.Sprintf(MsgGroupSpeech)
	case "openai":
		return p.Sprintf(MsgGroupOpenAI)
	case "prompts":
		return p.Sprintf(MsgGroupPrompts)
	default:
		return group
	}
}

// Fprintln writes the message for key followed by a newline.
func (p *Printer) Fprintln(w io.Writer, key string, args ...any) {
	fmt.Fprintln(w, p.p.Sprintf(key, args...))
}
