package transcriber

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/youpy/go-wav"
)

const whisperBitsPerSample = 16

type WhisperConfig struct {
	Path     string
	Language string
	Threads  int
}

// WhisperTranscriber recognizes mono windows with the whisper.cpp CLI. It
// asks for word-level output and groups the words into sentences itself.
type WhisperTranscriber struct {
	path     string
	language string
	threads  int
	models   *ModelManager
}

func NewWhisperTranscriber(cfg WhisperConfig, models *ModelManager) *WhisperTranscriber {
	return &WhisperTranscriber{
		path:     cfg.Path,
		language: cfg.Language,
		threads:  cfg.Threads,
		models:   models,
	}
}

func (t *WhisperTranscriber) Ready() bool {
	if !t.models.Downloaded() {
		return false
	}
	_, err := exec.LookPath(t.path)
	return err == nil
}

func (t *WhisperTranscriber) Recognize(ctx context.Context, mono []byte, sampleRate, channels int) (transcriber.BatchResult, error) {
	if channels != 1 || sampleRate <= 0 || len(mono) == 0 || len(mono)%2 != 0 {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInvalidInput,
			fmt.Errorf("channels=%d sample_rate=%d bytes=%d", channels, sampleRate, len(mono)))
	}
	if !t.Ready() {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrModelUnavailable, nil)
	}

	dir, err := os.MkdirTemp("", "kikitori-window-*")
	if err != nil {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInference, err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "window.wav")
	if err := writeMonoWAV(input, mono, sampleRate); err != nil {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInference, err)
	}

	prefix := filepath.Join(dir, "window")
	args := []string{
		"-m", t.models.Path(),
		"-f", input,
		"-oj", "-of", prefix,
		"-ml", "1", "-sow",
		"-np",
	}
	if t.language != "" {
		args = append(args, "-l", t.language)
	}
	if t.threads > 0 {
		args = append(args, "-t", fmt.Sprint(t.threads))
	}
	cmd := exec.CommandContext(ctx, t.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	slog.Debug("executing whisper command", "command", cmd.String())
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("whisper command failed", "stderr", stderr.String(), "exit_code", exitErr.ExitCode())
		}
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInference, err)
	}

	raw, err := os.ReadFile(prefix + ".json")
	if err != nil {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInference, err)
	}
	result, err := parseWhisperOutput(raw)
	if err != nil {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInference, err)
	}
	return result, nil
}

func writeMonoWAV(path string, mono []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	samples := make([]wav.Sample, len(mono)/2)
	for i := range samples {
		samples[i].Values[0] = int(int16(binary.LittleEndian.Uint16(mono[i*2:])))
	}
	w := wav.NewWriter(f, uint32(len(samples)), 1, uint32(sampleRate), whisperBitsPerSample)
	writeErr := w.WriteSamples(samples)
	closeErr := f.Close()
	return errors.Join(writeErr, closeErr)
}

type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperOutput groups word-level entries into sub-segments. When the
// output carries no timing at all, the text comes back unsegmented.
func parseWhisperOutput(raw []byte) (transcriber.BatchResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return transcriber.BatchResult{}, fmt.Errorf("parse whisper output: %w", err)
	}
	tokens := make([]transcriber.Token, 0, len(out.Transcription))
	timed := false
	var full strings.Builder
	for _, entry := range out.Transcription {
		if strings.TrimSpace(entry.Text) == "" {
			continue
		}
		if entry.Offsets.From > 0 || entry.Offsets.To > 0 {
			timed = true
		}
		full.WriteString(entry.Text)
		tokens = append(tokens, transcriber.Token{
			Text:         entry.Text,
			StartSeconds: float64(entry.Offsets.From) / 1000,
		})
	}
	if !timed {
		return transcriber.BatchResult{FullText: strings.TrimSpace(full.String())}, nil
	}
	return transcriber.BatchResult{Segments: transcriber.GroupTokens(tokens)}, nil
}
