// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech2text/internal/config"
	"speech2text/internal/observability"
	"speech2text/internal/observability/metrics"
	"speech2text/internal/service/audio"
	"speech2text/internal/service/stt"
)

// ProviderName identifies this backend in logs and metrics.
const ProviderName = "google"

const eventBuffer = 64

// DefaultStreamLimit keeps each stream under the service's duration cap.
const DefaultStreamLimit = 290 * time.Second

// Config holds Google STT configuration.
type Config struct {
	APIKey string
	Region string
	// Endpoint overrides the regional endpoint derived from Region.
	Endpoint     string
	LanguageCode string
	// AudioEncoding and SampleRateHz override the values read from the
	// file header when set.
	AudioEncoding  string
	SampleRateHz   int
	InterimResults bool
	MinSpeakers    int
	MaxSpeakers    int
	// StreamLimit is the most audio sent on one stream before rolling over
	// to a new one. The service rejects streams longer than about 305s.
	StreamLimit time.Duration
}

// DefaultConfig returns the recognition defaults.
func DefaultConfig() Config {
	return Config{
		Region:         "global",
		LanguageCode:   "ja-JP",
		InterimResults: true,
		MinSpeakers:    1,
		MaxSpeakers:    6,
		StreamLimit:    DefaultStreamLimit,
	}
}

// ConfigFromSettings maps the speech settings group onto a Config.
func ConfigFromSettings(s config.SpeechConfig) Config {
	cfg := DefaultConfig()
	cfg.APIKey = s.SubscriptionKey
	cfg.Region = s.Region
	cfg.Endpoint = s.Endpoint
	if s.Language != "" {
		cfg.LanguageCode = s.Language
	}
	cfg.AudioEncoding = s.AudioEncoding
	cfg.SampleRateHz = s.SampleRateHz
	if s.MinSpeakers > 0 {
		cfg.MinSpeakers = s.MinSpeakers
	}
	if s.MaxSpeakers > 0 {
		cfg.MaxSpeakers = s.MaxSpeakers
	}
	if s.StreamLimit > 0 {
		cfg.StreamLimit = s.StreamLimit
	}
	return cfg
}

// Endpoint returns the gRPC endpoint for cfg.
func Endpoint(cfg Config) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	region := strings.ToLower(strings.TrimSpace(cfg.Region))
	if region == "" || region == "global" {
		return "speech.googleapis.com:443"
	}
	return region + "-speech.googleapis.com:443"
}

// Factory creates Google adapters.
type Factory struct {
	cfg Config
}

// NewFactory creates a factory for cfg.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// NewAdapter returns an adapter for mode. The client is dialed in Start.
func (f *Factory) NewAdapter(ctx context.Context, mode stt.Mode) (stt.Adapter, error) {
	return New(f.cfg, mode), nil
}

// Provider returns the backend name.
func (f *Factory) Provider() string {
	return ProviderName
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text streaming.
type Adapter struct {
	cfg  Config
	mode stt.Mode

	mu      sync.Mutex
	client  *speech.Client
	src     *audio.Source
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a new Google STT adapter.
func New(cfg Config, mode stt.Mode) *Adapter {
	return &Adapter{cfg: cfg, mode: mode}
}

// Start opens the audio file, dials the service and sends the streaming config.
// One goroutine pumps audio, another maps responses to events.
func (a *Adapter) Start(ctx context.Context, audioPath string) (<-chan stt.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil, errors.New("adapter already stopped")
	}
	if a.client != nil {
		return nil, errors.New("adapter already started")
	}

	src, err := audio.Open(audioPath)
	if err != nil {
		return nil, err
	}

	endpoint := Endpoint(a.cfg)
	client, err := speech.NewClient(ctx,
		option.WithAPIKey(a.cfg.APIKey),
		option.WithEndpoint(endpoint),
		option.WithGRPCDialOption(grpc.WithChainUnaryInterceptor(observability.UnaryClientInterceptor(metrics.DefaultMetrics))),
		option.WithGRPCDialOption(grpc.WithChainStreamInterceptor(observability.StreamClientInterceptor(metrics.DefaultMetrics))),
	)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	open := func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return client.StreamingRecognize(ctx)
	}
	stream, err := a.openStream(streamCtx, open, src.Format)
	if err != nil {
		cancel()
		client.Close()
		src.Close()
		return nil, err
	}

	a.client = client
	a.src = src
	a.cancel = cancel

	log.Debug().
		Str("endpoint", endpoint).
		Str("mode", a.mode.String()).
		Str("encoding", src.Format.Encoding).
		Int("sampleRateHz", src.Format.SampleRateHz).
		Dur("streamLimit", a.cfg.StreamLimit).
		Msg("Recognition stream opened")

	events := make(chan stt.Event, eventBuffer)
	a.wg.Add(1)
	go a.run(streamCtx, open, stream, src, events)

	return events, nil
}

// Stop cancels the stream, waits for both goroutines and releases the
// client and the audio file.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel, client, src := a.cancel, a.client, a.src
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for recognition stream: %w", ctx.Err()))
	}

	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close speech client: %w", err))
		}
	}
	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audio file: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) streamingConfig(f audio.Format) *speechpb.StreamingRecognizeRequest {
	encoding := f.Encoding
	if a.cfg.AudioEncoding != "" {
		encoding = a.cfg.AudioEncoding
	}
	sampleRate := f.SampleRateHz
	if a.cfg.SampleRateHz > 0 {
		sampleRate = a.cfg.SampleRateHz
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(encoding),
		SampleRateHertz:            int32(sampleRate),
		AudioChannelCount:          int32(f.Channels),
		LanguageCode:               a.cfg.LanguageCode,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
	}
	if a.mode == stt.ModeDiarized {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(a.cfg.MinSpeakers),
			MaxSpeakerCount:          int32(a.cfg.MaxSpeakers),
		}
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: a.cfg.InterimResults,
			},
		},
	}
}

// streamOpener opens one StreamingRecognize stream.
type streamOpener func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// openStream opens a stream and sends the streaming config on it.
func (a *Adapter) openStream(ctx context.Context, open streamOpener, f audio.Format) (speechpb.Speech_StreamingRecognizeClient, error) {
	stream, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open recognition stream: %w", err)
	}
	if err := stream.Send(a.streamingConfig(f)); err != nil {
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}
	return stream, nil
}

// run drives one stream after another until the payload is exhausted. Each
// stream carries at most StreamLimit of audio, and the finals of later
// streams are shifted by the audio sent before them. All streams feed the
// same event channel.
func (a *Adapter) run(ctx context.Context, open streamOpener, stream speechpb.Speech_StreamingRecognizeClient, src *audio.Source, events chan<- stt.Event) {
	defer a.wg.Done()
	defer close(events)

	var offset time.Duration
	for n := 1; ; n++ {
		pumped := make(chan pumpResult, 1)
		go func(stream speechpb.Speech_StreamingRecognizeClient) {
			pumped <- a.sendAudio(stream, src)
		}(stream)

		clean := a.receive(ctx, stream, offset, events)
		sent := <-pumped
		if !clean {
			return
		}
		if sent.eof {
			emit(ctx, events, stt.Event{Kind: stt.EventSessionStopped})
			return
		}

		offset += sent.audio
		log.Debug().
			Int("stream", n+1).
			Dur("offset", offset).
			Str("mode", a.mode.String()).
			Msg("Rolling over to a new recognition stream")

		next, err := a.openStream(ctx, open, src.Format)
		if err != nil {
			if ctx.Err() != nil {
				emit(ctx, events, stt.Event{Kind: stt.EventCanceled, Reason: stt.CancelEndOfStream})
				return
			}
			emit(ctx, events, canceledEvent(status.Convert(err)))
			return
		}
		stream = next
	}
}

type pumpResult struct {
	// audio is the playback time sent on the stream.
	audio time.Duration
	// eof reports that the whole payload has been sent.
	eof bool
}

// sendAudio streams ChunkInterval-sized chunks until the payload ends or the
// stream limit is reached, then half-closes. Send errors end the pump; the
// receiver reports the stream error. Payloads without a fixed byte rate are
// never split.
func (a *Adapter) sendAudio(stream speechpb.Speech_StreamingRecognizeClient, src *audio.Source) pumpResult {
	var res pumpResult

	buf := src.ChunkBuffer()
	for {
		if a.cfg.StreamLimit > 0 && res.audio >= a.cfg.StreamLimit {
			res.eof = src.Remaining() == 0
			break
		}
		chunk, err := src.NextChunk(buf)
		if err == io.EOF {
			res.eof = true
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read audio chunk")
			res.eof = true
			break
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: chunk,
			},
		}); err != nil {
			return res
		}
		res.audio += src.Format.Duration(len(chunk))
	}

	if err := stream.CloseSend(); err != nil {
		log.Debug().Err(err).Msg("CloseSend failed")
	}
	return res
}

// receive maps responses to events until the stream ends. It reports whether
// the service closed the stream cleanly. offset is added to final results.
func (a *Adapter) receive(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, offset time.Duration, events chan<- stt.Event) bool {
	var lastEnd time.Duration
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return true
		}
		if err != nil {
			if ctx.Err() != nil {
				emit(ctx, events, stt.Event{Kind: stt.EventCanceled, Reason: stt.CancelEndOfStream})
				return false
			}
			emit(ctx, events, canceledEvent(status.Convert(err)))
			return false
		}

		for _, ev := range mapResponse(resp, a.mode, &lastEnd) {
			if ev.Kind == stt.EventFinal {
				ev.Result.Offset += offset
			}
			if !emit(ctx, events, ev) {
				return false
			}
			if ev.Kind == stt.EventCanceled {
				return false
			}
		}
	}
}

func emit(ctx context.Context, events chan<- stt.Event, ev stt.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func canceledEvent(st *status.Status) stt.Event {
	if st.Code() == codes.Canceled {
		return stt.Event{Kind: stt.EventCanceled, Reason: stt.CancelEndOfStream}
	}
	return stt.Event{
		Kind:         stt.EventCanceled,
		Reason:       stt.CancelError,
		ErrorCode:    st.Code().String(),
		ErrorDetails: st.Message(),
	}
}

// mapResponse converts one streaming response into events. lastEnd carries the
// end time of the previous result across responses.
func mapResponse(resp *speechpb.StreamingRecognizeResponse, mode stt.Mode, lastEnd *time.Duration) []stt.Event {
	if resp.GetError() != nil {
		return []stt.Event{canceledEvent(status.FromProto(resp.GetError()))}
	}

	var out []stt.Event
	for _, r := range resp.GetResults() {
		var alt *speechpb.SpeechRecognitionAlternative
		if len(r.GetAlternatives()) > 0 {
			alt = r.GetAlternatives()[0]
		}
		text := strings.TrimSpace(alt.GetTranscript())

		if !r.GetIsFinal() {
			if text != "" {
				out = append(out, stt.Event{Kind: stt.EventPartial, Result: stt.Result{Text: text}})
			}
			continue
		}

		if text == "" {
			out = append(out, stt.Event{Kind: stt.EventNoMatch})
		} else {
			res := stt.Result{Text: text, Offset: *lastEnd}
			words := currentWords(alt.GetWords(), *lastEnd)
			if len(words) > 0 {
				res.Offset = words[0].GetStartTime().AsDuration()
			}
			if mode == stt.ModeDiarized {
				res.SpeakerID = dominantSpeaker(words)
			}
			out = append(out, stt.Event{Kind: stt.EventFinal, Result: res})
		}

		if end := r.GetResultEndTime(); end != nil {
			*lastEnd = end.AsDuration()
		}
	}
	return out
}

// currentWords drops the words of earlier results. With diarization on, the
// service repeats every word recognized so far in each final result, so only
// words starting at or after the previous result end belong to this one.
func currentWords(words []*speechpb.WordInfo, lastEnd time.Duration) []*speechpb.WordInfo {
	for i, w := range words {
		if w.GetStartTime().AsDuration() >= lastEnd {
			return words[i:]
		}
	}
	return words
}

// dominantSpeaker returns the speaker tag covering most words. Ties go to the
// tag seen first. Tag 0 means the service could not attribute the word.
func dominantSpeaker(words []*speechpb.WordInfo) string {
	counts := make(map[int32]int)
	var order []int32
	for _, w := range words {
		tag := w.GetSpeakerTag()
		if tag == 0 {
			continue
		}
		if counts[tag] == 0 {
			order = append(order, tag)
		}
		counts[tag]++
	}

	if len(order) == 0 {
		return stt.UnknownSpeaker
	}
	best := order[0]
	for _, tag := range order[1:] {
		if counts[tag] > counts[best] {
			best = tag
		}
	}
	return strconv.Itoa(int(best))
}

// parseAudioEncoding converts string encoding to Google's enum.
// Unknown names fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
