// Package broadcaster manages subscribers and distributes replica actions
// and finished passes.
package broadcaster

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

// EventType represents the type of event.
type EventType int

const (
	EventAction EventType = iota
	EventPass
)

// Event is one action applied to the replica or one finished pass.
type Event struct {
	Type   EventType
	Action journal.Action
	Pass   driver.Pass
}

// Subscriber represents a client subscribed to events.
type Subscriber struct {
	ID     string
	Root   string
	Events chan *Event
}

// Broadcaster manages subscribers and distributes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe creates a new subscription. Actions outside root are not
// delivered; an empty root matches everything. Pass events are always
// delivered.
func (b *Broadcaster) Subscribe(root string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	if root != "" {
		root = filepath.Clean(root)
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Root:   root,
		Events: make(chan *Event, 100),
	}

	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Record sends an action to all matching subscribers. It lets the
// broadcaster act as a journal sink and never fails.
func (b *Broadcaster) Record(a journal.Action) error {
	b.notify(&Event{Type: EventAction, Action: a}, a.Path)
	return nil
}

// PassFinished sends a finished pass to every subscriber.
func (b *Broadcaster) PassFinished(p driver.Pass) {
	b.notify(&Event{Type: EventPass, Pass: p}, "")
}

func (b *Broadcaster) notify(event *Event, path string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if path != "" && !matches(sub.Root, path) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			// Channel full, event dropped
		}
	}
}

// matches reports whether path is root or lies under it.
func matches(root, path string) bool {
	if root == "" {
		return true
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	// Ensure it's actually under the root (not just a prefix match)
	if len(path) > len(root) && path[len(root)] != filepath.Separator && root != string(filepath.Separator) {
		return false
	}
	return true
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
