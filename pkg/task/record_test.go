package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorhub/pkg/models"
)

func newTestRecord() *Record {
	return New("task-1", "alice",
		models.Source{Tag: models.SourceDirect, Locator: "https://example.com/file.bin"},
		[]models.Destination{{Tag: models.DestS3, Target: "bucket/prefix"}},
		models.PriorityNormal, 3)
}

func TestRecord_LegalTransitions(t *testing.T) {
	tests := []struct {
		from, to models.TaskState
		ok       bool
	}{
		{models.StateQueued, models.StateDownloading, true},
		{models.StateQueued, models.StateCanceled, true},
		{models.StateQueued, models.StateUploading, false},
		{models.StateQueued, models.StateCompleted, false},
		{models.StateDownloading, models.StatePostProcessing, true},
		{models.StateDownloading, models.StateUploading, true},
		{models.StateDownloading, models.StateQueued, true},
		{models.StateDownloading, models.StateFailed, true},
		{models.StateDownloading, models.StateCanceled, true},
		{models.StateDownloading, models.StateCompleted, false},
		{models.StatePostProcessing, models.StateUploading, true},
		{models.StatePostProcessing, models.StateFailed, true},
		{models.StatePostProcessing, models.StateCanceled, false},
		{models.StateUploading, models.StateUploading, true},
		{models.StateUploading, models.StateCompleted, true},
		{models.StateUploading, models.StateQueued, true},
		{models.StateUploading, models.StateFailed, true},
		{models.StateUploading, models.StateCanceled, true},
		{models.StateFailed, models.StateQueued, true},
		{models.StateCompleted, models.StateQueued, false},
		{models.StateCanceled, models.StateQueued, false},
		{models.StateCompleted, models.StateDownloading, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRecord_TransitionStampsTimestamps(t *testing.T) {
	rec := newTestRecord()
	assert.Nil(t, rec.StartedAt)
	assert.Nil(t, rec.FinishedAt)

	require.NoError(t, rec.Transition(models.StateDownloading))
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.FinishedAt)

	started := *rec.StartedAt
	require.NoError(t, rec.Transition(models.StateUploading))
	require.NoError(t, rec.Transition(models.StateCompleted))
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, started, *rec.StartedAt, "start time is stamped once")
}

func TestRecord_IllegalTransitionLeavesRecordUntouched(t *testing.T) {
	rec := newTestRecord()
	require.NoError(t, rec.Transition(models.StateDownloading))
	require.NoError(t, rec.Transition(models.StateUploading))
	require.NoError(t, rec.Transition(models.StateCompleted))

	err := rec.Transition(models.StateDownloading)
	require.Error(t, err)
	assert.Equal(t, models.StateCompleted, rec.State)
}

func TestRecord_RequeueClearsProgress(t *testing.T) {
	rec := newTestRecord()
	require.NoError(t, rec.Transition(models.StateDownloading))
	rec.Progress = models.Progress{TransferredBytes: 1024, SpeedBps: 100}

	require.NoError(t, rec.Transition(models.StateQueued))
	assert.Zero(t, rec.Progress.TransferredBytes)
	assert.Zero(t, rec.Progress.SpeedBps)
}

func TestRecord_CancelChannel(t *testing.T) {
	rec := newTestRecord()
	assert.False(t, rec.CancelRequested())

	assert.True(t, rec.RequestCancel())
	assert.True(t, rec.CancelRequested())
	assert.False(t, rec.RequestCancel(), "second request is a no-op")

	select {
	case <-rec.CancelCh:
	default:
		t.Fatal("cancel channel should be closed")
	}

	rec.ResetCancel()
	assert.False(t, rec.CancelRequested())
	select {
	case <-rec.CancelCh:
		t.Fatal("reset channel should be open")
	default:
	}
}

func TestRecord_SnapshotIsDeepCopy(t *testing.T) {
	rec := newTestRecord()
	total := int64(2048)
	rec.Progress = models.Progress{TransferredBytes: 512, TotalBytes: &total}
	rec.Err = &models.TaskError{Kind: models.KindTransferError, Message: "boom"}

	snap := rec.Snapshot()
	*snap.Progress.TotalBytes = 9999
	snap.Destinations[0].Target = "other/place"
	snap.Error.Message = "changed"

	assert.Equal(t, int64(2048), *rec.Progress.TotalBytes)
	assert.Equal(t, "bucket/prefix", rec.Destinations[0].Target)
	assert.Equal(t, "boom", rec.Err.Message)
}

func TestRecord_FromSnapshotRoundTrip(t *testing.T) {
	rec := newTestRecord()
	rec.RetryCount = 2
	rec.PostProcess = true
	rec.PayloadPath = "/tmp/work/task-1/file.bin"

	restored := FromSnapshot(rec.Snapshot())
	assert.Equal(t, rec.ID, restored.ID)
	assert.Equal(t, rec.OwnerID, restored.OwnerID)
	assert.Equal(t, rec.State, restored.State)
	assert.Equal(t, rec.RetryCount, restored.RetryCount)
	assert.True(t, restored.PostProcess)
	assert.Equal(t, rec.PayloadPath, restored.PayloadPath)
	assert.NotNil(t, restored.CancelCh)
	assert.False(t, restored.CancelRequested())
}
