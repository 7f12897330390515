package transcriber

import (
	"context"
	"errors"
)

var ErrDownloadInProgress = errors.New("model download already in progress")

type DownloadProgress struct {
	Downloading     bool
	File            string
	BytesDownloaded int64
	TotalBytes      int64
	// Percent stays below 100 until the file is in place.
	Percent int
	Err     error
}

// ModelStore manages the files the local recognizer needs.
type ModelStore interface {
	Name() string
	Downloaded() bool
	Progress() DownloadProgress
	Download(ctx context.Context) error
	Delete() error
}
