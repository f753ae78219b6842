package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorhub/pkg/models"
)

func collect(ch <-chan Event, n int, t *testing.T) []Event {
	t.Helper()
	var got []Event
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestBus_PerTaskOrdering(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(16)
	defer cancel()

	kinds := []Kind{KindQueued, KindStarted, KindProgressed, KindUploading, KindCompleted}
	for _, k := range kinds {
		b.Publish(Event{TaskID: "t1", Kind: k, Snapshot: models.TaskSnapshot{ID: "t1"}})
	}

	got := collect(ch, len(kinds), t)
	for i, ev := range got {
		assert.Equal(t, kinds[i], ev.Kind)
		assert.Equal(t, "t1", ev.TaskID)
	}
}

func TestBus_MultipleSubscribersSeeEveryEvent(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(8)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(8)
	defer cancel2()

	for i := 0; i < 5; i++ {
		b.Publish(Event{TaskID: fmt.Sprintf("t%d", i), Kind: KindQueued})
	}

	assert.Len(t, collect(ch1, 5, t), 5)
	assert.Len(t, collect(ch2, 5, t), 5)
}

func TestBus_CanceledSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	defer b.Close()

	// buffer of 1 and no consumer: after cancel, publishes must not stall
	_, cancel := b.Subscribe(1)
	b.Publish(Event{TaskID: "t1", Kind: KindQueued})
	cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{TaskID: "t1", Kind: KindProgressed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a canceled subscriber")
	}
}

func TestBus_TerminalKinds(t *testing.T) {
	terminal := map[Kind]bool{
		KindQueued:         false,
		KindStarted:        false,
		KindProgressed:     false,
		KindPostProcessing: false,
		KindUploading:      false,
		KindCompleted:      true,
		KindFailed:         true,
		KindCanceled:       true,
	}
	for kind, want := range terminal {
		assert.Equal(t, want, kind.Terminal(), "kind %s", kind)
	}
}

func TestBus_PublishAfterCloseIsDiscarded(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Close()
	require.NotPanics(t, func() {
		b.Publish(Event{TaskID: "t1", Kind: KindQueued})
	})

	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed with no events")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}
