package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/gorilla/websocket"
)

const (
	deepgramHandshakeTimeout = 10 * time.Second
	deepgramWriteTimeout     = 5 * time.Second
)

var (
	deepgramKeepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
	deepgramCloseStreamMessage = []byte(`{"type":"CloseStream"}`)
)

type DeepgramConfig struct {
	APIKey   string
	Model    string
	URL      string
	Language string
}

// DeepgramTranscriber streams linear16 PCM to Deepgram's live endpoint over
// a websocket.
type DeepgramTranscriber struct {
	apiKey          string
	model           string
	listenURL       string
	defaultLanguage string
	dialer          *websocket.Dialer
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		apiKey:          cfg.APIKey,
		model:           strings.TrimSpace(cfg.Model),
		listenURL:       cfg.URL,
		defaultLanguage: cfg.Language,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: deepgramHandshakeTimeout,
		},
	}
}

func (t *DeepgramTranscriber) StartStreaming(ctx context.Context, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	endpoint, err := t.endpoint(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("starting deepgram streaming", "session_id", cfg.SessionID, "model", t.model, "channels", cfg.Channels, "sample_rate", cfg.SampleRate)

	header := http.Header{}
	header.Set("Authorization", "Token "+t.apiKey)
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial deepgram: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}

	s := &deepgramStream{conn: conn, sessionID: cfg.SessionID}
	go s.receive(receiver)
	slog.Info("deepgram stream initialized", "session_id", cfg.SessionID)
	return s, nil
}

func (t *DeepgramTranscriber) endpoint(cfg transcriber.StreamConfig) (string, error) {
	u, err := url.Parse(t.listenURL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	language := cfg.Language
	if language == "" {
		language = t.defaultLanguage
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	if cfg.Channels > 1 {
		q.Set("multichannel", "true")
	}
	q.Set("diarize", strconv.FormatBool(cfg.Diarize))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("punctuate", "true")
	if t.model != "" {
		q.Set("model", t.model)
	}
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramStream struct {
	conn      *websocket.Conn
	sessionID string

	mu     sync.Mutex
	closed bool
}

func (s *deepgramStream) Write(pcm []byte) error {
	return s.send(websocket.BinaryMessage, pcm)
}

func (s *deepgramStream) KeepAlive() error {
	return s.send(websocket.TextMessage, deepgramKeepAliveMessage)
}

func (s *deepgramStream) send(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, deepgramCloseStreamMessage); err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("send close stream: %w", err)
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *deepgramStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *deepgramStream) receive(receiver transcriber.ResultReceiver) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				slog.Info("deepgram receive loop stopped", "session_id", s.sessionID)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				receiver.OnError(fmt.Errorf("deepgram closed the stream: %w", err))
				return
			}
			receiver.OnError(fmt.Errorf("deepgram receive: %w", err))
			return
		}
		result, ok, err := parseDeepgramMessage(data)
		if err != nil {
			slog.Debug("dropping malformed deepgram message", "error", err, "session_id", s.sessionID)
			continue
		}
		if !ok {
			continue
		}
		receiver.OnResult(result)
	}
}

type deepgramMessage struct {
	Type         string  `json:"type"`
	ChannelIndex []int   `json:"channel_index"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string  `json:"word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

var errDeepgramNoAlternatives = errors.New("results message without alternatives")

// parseDeepgramMessage returns ok=false for messages that carry no
// transcript, such as Metadata and UtteranceEnd.
func parseDeepgramMessage(data []byte) (transcriber.Result, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return transcriber.Result{}, false, err
	}
	if msg.Type != "Results" {
		return transcriber.Result{}, false, nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return transcriber.Result{}, false, errDeepgramNoAlternatives
	}
	alt := msg.Channel.Alternatives[0]
	result := transcriber.Result{
		Transcript:   alt.Transcript,
		IsFinal:      msg.IsFinal,
		SpeechFinal:  msg.SpeechFinal,
		StartSeconds: msg.Start,
	}
	if len(msg.ChannelIndex) > 0 {
		result.ChannelIndex = msg.ChannelIndex[0]
	}
	for _, w := range alt.Words {
		if w.Speaker != nil {
			speaker := *w.Speaker
			result.SpeakerID = &speaker
			break
		}
	}
	return result, true, nil
}
