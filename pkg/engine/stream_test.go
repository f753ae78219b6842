package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorhub/pkg/models"
)

func TestStream_SingleTerminalEvent(t *testing.T) {
	s := NewStream()
	s.Progress(10, nil)
	s.Succeed("/tmp/result")

	// everything after the terminal event is discarded
	s.Progress(20, nil)
	s.Fail(models.KindTransferError, "late", false)
	s.Canceled()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, EventSucceeded, got[1].Type)
	assert.Equal(t, "/tmp/result", got[1].ResultLocator)
}

func TestStream_DropsProgressWhenFull(t *testing.T) {
	s := NewStream()
	for i := 0; i < streamBuffer*2; i++ {
		s.Progress(int64(i), nil)
	}
	s.Succeed("done")

	count := 0
	var last Event
	for ev := range s.Events() {
		count++
		last = ev
	}
	assert.LessOrEqual(t, count, streamBuffer+1)
	assert.Equal(t, EventSucceeded, last.Type, "the terminal event is never dropped")
}

func TestStream_TerminalWithFullBufferDoesNotBlock(t *testing.T) {
	s := NewStream()
	for i := 0; i < streamBuffer; i++ {
		s.Progress(int64(i), nil)
	}

	done := make(chan struct{})
	go func() {
		s.Fail(models.KindTransferError, "boom", true)
		close(done)
	}()
	<-done

	var last Event
	for ev := range s.Events() {
		last = ev
	}
	assert.Equal(t, EventFailed, last.Type)
	assert.True(t, last.Retryable)
}

func TestRegistry_ResolvesAndReportsMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Downloader(models.SourceDirect)
	assert.ErrorIs(t, err, models.ErrEngineUnavailable)
	_, err = r.Uploader(models.DestChat)
	assert.ErrorIs(t, err, models.ErrEngineUnavailable)

	s := NewStream()
	fake := fakeRegEngine{s}
	r.RegisterDownloader(models.SourceDirect, fake)
	r.RegisterUploader(models.DestS3, fake)

	got, err := r.Downloader(models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, fake, got)
	_, err = r.Uploader(models.DestS3)
	assert.NoError(t, err)
}

type fakeRegEngine struct{ s *Stream }

func (f fakeRegEngine) Start(_ context.Context, _, _ string) (Handle, error) {
	return f.s, nil
}

func (f fakeRegEngine) Cancel(_ Handle) error { return nil }
