// Package httpget implements the download engine for direct HTTP(S) links.
package httpget

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"mirrorhub/pkg/engine"
	"mirrorhub/pkg/models"
	"mirrorhub/pkg/pool"
)

const (
	copyBufferSize   = 256 * 1024
	maxPooledBytes   = 64 * 1024 * 1024
	progressInterval = 500 * time.Millisecond
)

// Engine downloads a URL into the task work dir, streaming progress as it
// copies. One Engine is shared by all tasks; each Start gets its own
// handle and goroutine. Copy buffers come from a shared pool so many
// concurrent downloads do not each pin a fresh buffer.
type Engine struct {
	client  *http.Client
	buffers *pool.BufferPool
}

// New creates the engine with a transport tuned for long transfers.
func New() *Engine {
	return &Engine{
		buffers: pool.NewBufferPool(copyBufferSize, maxPooledBytes),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          32,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

type handle struct {
	*engine.Stream
	cancel context.CancelFunc
}

// Start begins fetching locator into workPath (a directory).
func (e *Engine) Start(ctx context.Context, locator, workPath string) (engine.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{Stream: engine.NewStream(), cancel: cancel}
	go e.fetch(ctx, h, locator, workPath)
	return h, nil
}

// Cancel aborts the transfer; the handle confirms with a canceled event.
func (e *Engine) Cancel(h engine.Handle) error {
	hh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("handle does not belong to this engine")
	}
	hh.cancel()
	return nil
}

func (e *Engine) fetch(ctx context.Context, h *handle, rawURL, workDir string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		h.Fail(models.KindInvalidSource, fmt.Sprintf("failed to build request: %v", err), false)
		return
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			h.Canceled()
			return
		}
		h.Fail(models.KindTransferError, err.Error(), true)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// server-side and throttling errors are worth retrying, client
		// errors are not
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		h.Fail(models.KindTransferError, fmt.Sprintf("unexpected status %s", resp.Status), retryable)
		return
	}

	var total *int64
	if resp.ContentLength >= 0 {
		t := resp.ContentLength
		total = &t
	}

	dest := filepath.Join(workDir, fileNameFor(rawURL, resp))
	out, err := os.Create(dest)
	if err != nil {
		h.Fail(models.KindTransferError, fmt.Sprintf("failed to create %s: %v", dest, err), false)
		return
	}

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)
	var written int64
	var lastReport time.Time
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				h.Fail(models.KindTransferError, fmt.Sprintf("write failed: %v", werr), false)
				return
			}
			written += int64(n)
			if time.Since(lastReport) >= progressInterval {
				h.Progress(written, total)
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			if ctx.Err() != nil {
				h.Canceled()
				return
			}
			h.Fail(models.KindTransferError, rerr.Error(), true)
			return
		}
	}

	if err := out.Close(); err != nil {
		h.Fail(models.KindTransferError, fmt.Sprintf("failed to flush %s: %v", dest, err), false)
		return
	}
	h.Progress(written, total)
	h.Succeed(dest)
}

// fileNameFor picks the payload file name: Content-Disposition first, then
// the URL path, then a generic fallback.
func fileNameFor(rawURL string, resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := filepath.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "download.bin"
}
