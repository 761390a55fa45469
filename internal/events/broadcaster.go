// Package events broadcasts virtual file system changes to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/projectfiles/internal/metrics"
)

const (
	EventFolderCreate = "folder_create"
	EventFolderRename = "folder_rename"
	EventFolderDelete = "folder_delete"
	EventMove         = "move"
	EventFileRename   = "file_rename"
	EventFileDelete   = "file_delete"
	EventUpload       = "upload"
)

// Event describes one completed mutation. Batch events carry the item
// counts so clients can refresh without refetching the whole tree.
type Event struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
	NewPath   string `json:"new_path,omitempty"`
	FileID    string `json:"file_id,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher is the side of the broadcaster mutations write to.
type Publisher interface {
	Publish(event Event)
}

type subscriber struct {
	projectID string
}

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]subscriber
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]subscriber),
	}
}

// Subscribe adds a subscriber for projectID ("" for every project) and
// returns its event channel. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(projectID string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = subscriber{projectID: projectID}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends an event to matching subscribers. Non-blocking: drops
// events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if sub.projectID != "" && sub.projectID != event.ProjectID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
