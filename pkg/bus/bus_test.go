package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesInterestedSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(KindAnalysisStarted)
	defer b.Unsubscribe(sub)

	b.Publish(KindAnalysisStarted, "email:42", nil)

	select {
	case ev := <-sub.C():
		assert.Equal(t, KindAnalysisStarted, ev.Kind)
		assert.Equal(t, "email:42", ev.CorrelationID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestPublishSkipsUninterestedSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(KindQueueApproved)
	defer b.Unsubscribe(sub)

	b.Publish(KindAnalysisStarted, "e1", nil)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event: %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeWithoutKindsReceivesAll(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for _, k := range AllKinds() {
		b.Publish(k, "e1", nil)
	}

	seen := 0
	timeout := time.After(time.Second)
	for seen < len(AllKinds()) {
		select {
		case <-sub.C():
			seen++
		case <-timeout:
			t.Fatalf("received %d of %d events", seen, len(AllKinds()))
		}
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	b := NewWithBuffer(2)
	defer b.Close()

	sub := b.Subscribe(KindStageCompleted)
	defer b.Unsubscribe(sub)

	b.Publish(KindStageCompleted, "first", nil)
	b.Publish(KindStageCompleted, "second", nil)
	b.Publish(KindStageCompleted, "third", nil)

	require.EqualValues(t, 1, sub.Dropped())

	ev := <-sub.C()
	assert.Equal(t, "second", ev.CorrelationID, "oldest event should have been dropped")
	ev = <-sub.C()
	assert.Equal(t, "third", ev.CorrelationID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(KindEventIngested)
	b.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestCloseTwiceDoesNotPanic(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	// Publishing after close is a silent no-op.
	b.Publish(KindEventIngested, "e1", nil)
}
