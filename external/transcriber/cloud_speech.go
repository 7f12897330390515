package transcriber

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	maxDiarizedSpeakers   = 6
	pcmBytesPerSample     = 2
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	defaultLanguage string
	location        string
	model           string
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		defaultLanguage: cfg.Language,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	language := cfg.Language
	if language == "" {
		language = t.defaultLanguage
	}
	slog.Info("starting cloud speech streaming", "session_id", cfg.SessionID, "location", t.location, "language", language, "model", t.model)

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
	streamingConfig := t.streamingConfig(cfg, language)
	sendConfig := func(s speechpb.Speech_StreamingRecognizeClient) error {
		return s.Send(&speechpb.StreamingRecognizeRequest{
			Recognizer:       recognizer,
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{StreamingConfig: streamingConfig},
		})
	}
	if err := sendConfig(stream); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, err
	}
	slog.Info("cloud speech stream initialized", "session_id", cfg.SessionID)

	w := &streamWriter{
		sessionID:      cfg.SessionID,
		stream:         stream,
		receiver:       receiver,
		bytesPerSecond: float64(cfg.SampleRate * cfg.Channels * pcmBytesPerSample),
		newStreamFn: func() (speechpb.Speech_StreamingRecognizeClient, error) {
			next, err := client.StreamingRecognize(ctx)
			if err != nil {
				return nil, err
			}
			if err := sendConfig(next); err != nil {
				_ = next.CloseSend()
				return nil, err
			}
			return next, nil
		},
		closeFn: func() error {
			return client.Close()
		},
	}
	w.startReceiver(stream, 0)

	return w, nil
}

func (t *CloudSpeechTranscriber) streamingConfig(cfg transcriber.StreamConfig, language string) *speechpb.StreamingRecognitionConfig {
	features := &speechpb.RecognitionFeatures{
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: true,
	}
	if cfg.Channels > 1 {
		features.MultiChannelMode = speechpb.RecognitionFeatures_SEPARATE_RECOGNITION_PER_CHANNEL
	}
	if cfg.Diarize {
		features.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			MinSpeakerCount: 1,
			MaxSpeakerCount: maxDiarizedSpeakers,
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Model:         t.model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(cfg.SampleRate),
					AudioChannelCount: int32(cfg.Channels),
				},
			},
			Features: features,
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
			InterimResults:            cfg.InterimResults,
			EnableVoiceActivityEvents: true,
		},
	}
}

type streamWriter struct {
	sessionID      string
	mu             sync.Mutex
	closed         bool
	stream         speechpb.Speech_StreamingRecognizeClient
	receiver       transcriber.ResultReceiver
	bytesWritten   int64
	bytesPerSecond float64
	newStreamFn    func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn        func() error
}

func (w *streamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	}
	if err := w.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return err
		}
		slog.Warn("transcriber send failed with reconnectable error; reconnecting", "error", err, "session_id", w.sessionID)
		if err := w.reconnectLocked(); err != nil {
			return fmt.Errorf("reconnect stream: %w", err)
		}
		if err := w.stream.Send(req); err != nil {
			return err
		}
	}
	w.bytesWritten += int64(len(pcm))
	return nil
}

func (w *streamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.stream.CloseSend(); err != nil {
		_ = w.closeFn()
		return err
	}
	return w.closeFn()
}

// reconnectLocked replaces an aborted stream. Offsets reported by the new
// stream restart at zero, so its receiver shifts them by the audio already
// sent.
func (w *streamWriter) reconnectLocked() error {
	slog.Warn("transcriber stream aborted; reconnecting", "session_id", w.sessionID)
	_ = w.stream.CloseSend()
	next, err := w.newStreamFn()
	if err != nil {
		slog.Error("failed to reconnect transcriber stream", "error", err, "session_id", w.sessionID)
		return err
	}
	w.stream = next
	w.startReceiver(next, float64(w.bytesWritten)/w.bytesPerSecond)
	slog.Info("transcriber stream reconnected", "session_id", w.sessionID)
	return nil
}

func (w *streamWriter) startReceiver(stream speechpb.Speech_StreamingRecognizeClient, offsetSeconds float64) {
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF || strings.Contains(err.Error(), "context canceled") {
					slog.Info("transcriber receive loop stopped", "reason", err.Error(), "session_id", w.sessionID)
					return
				}
				if isReconnectableStreamError(err) {
					slog.Warn("transcriber receive loop ended with reconnectable abort", "error", err, "session_id", w.sessionID)
					return
				}
				w.receiver.OnError(err)
				return
			}
			speechFinal := resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END
			for _, result := range resp.GetResults() {
				if r, ok := cloudSpeechResult(result, offsetSeconds, speechFinal); ok {
					w.receiver.OnResult(r)
				}
			}
		}
	}()
}

func cloudSpeechResult(result *speechpb.StreamingRecognitionResult, offsetSeconds float64, speechFinal bool) (transcriber.Result, bool) {
	if len(result.GetAlternatives()) == 0 {
		return transcriber.Result{}, false
	}
	alt := result.GetAlternatives()[0]
	r := transcriber.Result{
		Transcript:  alt.GetTranscript(),
		IsFinal:     result.GetIsFinal(),
		SpeechFinal: speechFinal,
	}
	// channel tags are 1-based
	if tag := int(result.GetChannelTag()); tag > 0 {
		r.ChannelIndex = tag - 1
	}
	start := result.GetResultEndOffset().AsDuration().Seconds()
	words := alt.GetWords()
	if len(words) > 0 && words[0].GetStartOffset() != nil {
		start = words[0].GetStartOffset().AsDuration().Seconds()
	}
	r.StartSeconds = offsetSeconds + start
	for _, word := range words {
		if id, ok := speakerLabelID(word.GetSpeakerLabel()); ok {
			r.SpeakerID = &id
			break
		}
	}
	return r, true
}

// speakerLabelID maps Cloud Speech labels ("1", "2", ...) onto 0-based
// cluster ids.
func speakerLabelID(label string) (int, bool) {
	if label == "" {
		return 0, false
	}
	n, err := strconv.Atoi(label)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func isReconnectableStreamError(err error) bool {
	if err == io.EOF || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
