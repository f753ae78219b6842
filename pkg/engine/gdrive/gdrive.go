// Package gdrive implements the upload engine for Google Drive.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mirrorhub/pkg/engine"
	"mirrorhub/pkg/models"
)

// Config holds OAuth credentials for the Drive client. AccessToken may be
// expired; the client refreshes it with RefreshToken as needed.
type Config struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

// Engine ships the downloaded payload into a Drive folder. The destination
// target is a folder ID, or empty for the Drive root.
type Engine struct {
	service *drive.Service
}

// New builds the Drive service with an auto-refreshing token source.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Google OAuth not configured: client ID and secret are required")
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{drive.DriveFileScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		// leave Expiry unset so the client decides when to refresh
	}

	service, err := drive.NewService(ctx, option.WithTokenSource(oauthConfig.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return &Engine{service: service}, nil
}

type handle struct {
	*engine.Stream
	cancel context.CancelFunc
}

// Start uploads the payload at workPath into the folder named by locator.
func (e *Engine) Start(ctx context.Context, locator, workPath string) (engine.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{Stream: engine.NewStream(), cancel: cancel}
	go e.upload(ctx, h, locator, workPath)
	return h, nil
}

// Cancel aborts the in-flight upload.
func (e *Engine) Cancel(h engine.Handle) error {
	hh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("handle does not belong to this engine")
	}
	hh.cancel()
	return nil
}

func (e *Engine) upload(ctx context.Context, h *handle, folderID, payload string) {
	f, err := os.Open(payload)
	if err != nil {
		h.Fail(models.KindTransferError, fmt.Sprintf("failed to open payload: %v", err), false)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.Fail(models.KindTransferError, fmt.Sprintf("failed to stat payload: %v", err), false)
		return
	}
	size := info.Size()

	meta := &drive.File{Name: filepath.Base(payload)}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	created, err := e.service.Files.Create(meta).
		Media(f).
		ProgressUpdater(func(current, _ int64) {
			h.Progress(current, &size)
		}).
		Context(ctx).
		Do()
	if err != nil {
		if ctx.Err() != nil {
			h.Canceled()
			return
		}
		kind, retry := classify(err)
		h.Fail(kind, fmt.Sprintf("Drive upload failed: %v", err), retry)
		return
	}

	h.Progress(size, &size)
	h.Succeed(fmt.Sprintf("gdrive://%s", created.Id))
}

// classify distinguishes Drive quota/rate errors and server errors from
// permanent request errors.
func classify(err error) (models.ErrorKind, bool) {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == 403 || apiErr.Code == 429:
			// storageQuotaExceeded and userRateLimitExceeded show up here
			return models.KindQuotaExceeded, true
		case apiErr.Code >= 500:
			return models.KindTransferError, true
		default:
			return models.KindTransferError, false
		}
	}
	return models.KindTransferError, true
}
