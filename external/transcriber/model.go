package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/transcriber"
)

const modelDownloadTimeout = 30 * time.Minute

// ModelManager keeps a whisper.cpp model file in a local directory.
type ModelManager struct {
	dir        string
	name       string
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	progress transcriber.DownloadProgress
}

func NewModelManager(dir, name, baseURL string) *ModelManager {
	return &ModelManager{
		dir:        dir,
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: modelDownloadTimeout},
	}
}

func (m *ModelManager) Name() string {
	return m.name
}

func (m *ModelManager) Path() string {
	return filepath.Join(m.dir, m.name)
}

func (m *ModelManager) Downloaded() bool {
	info, err := os.Stat(m.Path())
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func (m *ModelManager) Progress() transcriber.DownloadProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Download fetches the model in the background. Progress reports how far
// it got and why it failed.
func (m *ModelManager) Download(ctx context.Context) error {
	m.mu.Lock()
	if m.progress.Downloading {
		m.mu.Unlock()
		return transcriber.ErrDownloadInProgress
	}
	m.progress = transcriber.DownloadProgress{Downloading: true, File: m.name}
	m.mu.Unlock()

	go func() {
		err := m.download(context.WithoutCancel(ctx))
		m.mu.Lock()
		defer m.mu.Unlock()
		m.progress.Downloading = false
		if err != nil {
			m.progress.Err = err
			slog.Error("model download failed", "error", err, "model", m.name)
			return
		}
		m.progress.Percent = 100
		slog.Info("model downloaded", "model", m.name, "bytes", m.progress.BytesDownloaded)
	}()
	return nil
}

func (m *ModelManager) download(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/"+m.name, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch model: unexpected status %d", resp.StatusCode)
	}

	m.mu.Lock()
	m.progress.TotalBytes = resp.ContentLength
	m.mu.Unlock()

	partial := m.Path() + ".part"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	_, copyErr := io.Copy(f, &progressReader{r: resp.Body, onRead: m.addBytes})
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("write model file: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(partial, m.Path()); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("install model file: %w", err)
	}
	return nil
}

func (m *ModelManager) addBytes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress.BytesDownloaded += int64(n)
	if m.progress.TotalBytes > 0 {
		pct := int(m.progress.BytesDownloaded * 100 / m.progress.TotalBytes)
		m.progress.Percent = min(pct, 99)
	}
}

func (m *ModelManager) Delete() error {
	m.mu.Lock()
	downloading := m.progress.Downloading
	m.mu.Unlock()
	if downloading {
		return transcriber.ErrDownloadInProgress
	}
	if err := os.Remove(m.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete model: %w", err)
	}
	m.mu.Lock()
	m.progress = transcriber.DownloadProgress{}
	m.mu.Unlock()
	return nil
}

type progressReader struct {
	r      io.Reader
	onRead func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.onRead(n)
	}
	return n, err
}
