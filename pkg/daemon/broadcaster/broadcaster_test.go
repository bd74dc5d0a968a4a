package broadcaster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

func TestBroadcaster_Subscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/tmp/test/")
	require.NotNil(t, sub)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "/tmp/test", sub.Root)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBroadcaster_Record_MatchingPath(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/tmp/test")

	require.NoError(t, b.Record(journal.Action{Kind: journal.AddFile, Path: "/tmp/test/big.zip"}))

	select {
	case event := <-sub.Events:
		assert.Equal(t, EventAction, event.Type)
		assert.Equal(t, journal.AddFile, event.Action.Kind)
		assert.Equal(t, "/tmp/test/big.zip", event.Action.Path)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event not received")
	}
}

func TestBroadcaster_Record_FiltersByPath(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/tmp/test")

	// Outside the root, and a sibling sharing the prefix
	require.NoError(t, b.Record(journal.Action{Kind: journal.RemoveFile, Path: "/other/path/a"}))
	require.NoError(t, b.Record(journal.Action{Kind: journal.RemoveFile, Path: "/tmp/testing/a"}))

	select {
	case event := <-sub.Events:
		t.Fatalf("should not receive event for %s", event.Action.Path)
	case <-time.After(50 * time.Millisecond):
		// Expected - no event
	}
}

func TestBroadcaster_EmptyRootMatchesAll(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("")
	require.NoError(t, b.Record(journal.Action{Kind: journal.CreateDir, Path: "/anywhere"}))

	select {
	case event := <-sub.Events:
		assert.Equal(t, "/anywhere", event.Action.Path)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event not received")
	}
}

func TestBroadcaster_PassFinished_ReachesEveryone(t *testing.T) {
	b := New()
	defer b.Close()

	a := b.Subscribe("/tmp/a")
	c := b.Subscribe("/tmp/c")

	b.PassFinished(driver.Pass{ID: "p1"})

	for _, sub := range []*Subscriber{a, c} {
		select {
		case event := <-sub.Events:
			assert.Equal(t, EventPass, event.Type)
			assert.Equal(t, "p1", event.Pass.ID)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("expected pass event not received")
		}
	}
}

func TestBroadcaster_FullChannelDrops(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("")
	for i := 0; i < cap(sub.Events)+10; i++ {
		require.NoError(t, b.Record(journal.Action{Kind: journal.AddFile, Path: "/x"}))
	}

	assert.Len(t, sub.Events, cap(sub.Events))
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/tmp/test")
	b.Unsubscribe(sub.ID)

	// Channel should be closed
	_, ok := <-sub.Events
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_Close(t *testing.T) {
	b := New()
	sub := b.Subscribe("")

	b.Close()
	b.Close()

	_, ok := <-sub.Events
	assert.False(t, ok)
	assert.Nil(t, b.Subscribe(""), "subscribe after close")
	assert.NoError(t, b.Record(journal.Action{Path: "/x"}))
}
