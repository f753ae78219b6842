package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySource(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantTag SourceTag
		wantErr bool
	}{
		{"direct https", "https://example.com/file.iso", SourceDirect, false},
		{"direct http", "http://example.com/archive.tar.gz", SourceDirect, false},
		{"direct ftp", "ftp://mirror.example.org/pub/file.zip", SourceDirect, false},
		{"magnet", "magnet:?xt=urn:btih:abcdef0123456789", SourceMagnet, false},
		{"chat file", "tg-file:BQACAgIAAxkBAAI", SourceChatFile, false},
		{"youtube", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", SourceVideo, false},
		{"youtube short link", "https://youtu.be/dQw4w9WgXcQ", SourceVideo, false},
		{"youtube subdomain", "https://music.youtube.com/watch?v=abc", SourceVideo, false},
		{"vimeo", "https://vimeo.com/123456", SourceVideo, false},
		{"not a video host lookalike", "https://notyoutube.com/watch", SourceDirect, false},
		{"whitespace trimmed", "  https://example.com/f.bin  ", SourceDirect, false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
		{"no scheme", "example.com/file", "", true},
		{"unsupported scheme", "gopher://example.com/f", "", true},
		{"garbage", "://///", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := ClassifySource(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSource)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTag, src.Tag)
		})
	}
}

func TestTaskState_Predicates(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateCanceled.IsTerminal())
	assert.False(t, StateQueued.IsTerminal())
	assert.False(t, StateDownloading.IsTerminal())

	assert.True(t, StateDownloading.IsActive())
	assert.True(t, StatePostProcessing.IsActive())
	assert.True(t, StateUploading.IsActive())
	assert.False(t, StateQueued.IsActive())
	assert.False(t, StateCompleted.IsActive())
}

func TestTaskError_Error(t *testing.T) {
	err := &TaskError{Kind: KindQuotaExceeded, Message: "storage quota exceeded"}
	assert.Equal(t, "quota_exceeded: storage quota exceeded", err.Error())
}
