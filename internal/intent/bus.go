package intent

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/metrics"
)

// DefaultBufferSize is the per-inbox buffer used by NewBus when size <= 0
const DefaultBufferSize = 16

// Inbox is one receiving end of the bus. Messages arrive encoded; use
// Receive to decode them.
type Inbox struct {
	ID  string
	ch  chan []byte
	bus *Bus
}

// C returns the channel of encoded messages. It is closed on Detach.
func (i *Inbox) C() <-chan []byte {
	return i.ch
}

// Close detaches the inbox from its bus
func (i *Inbox) Close() {
	i.bus.Detach(i)
}

// Bus connects one background inbox and any number of foreground inboxes.
// Delivery is at-most-once: a send to a missing or full inbox is dropped and
// never retried. Only encoded bytes cross the bus.
type Bus struct {
	mu         sync.RWMutex
	background *Inbox
	clients    map[string]*Inbox
	order      []string
	bufferSize int
}

// NewBus creates a bus whose inboxes buffer up to bufferSize messages
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		clients:    make(map[string]*Inbox),
		bufferSize: bufferSize,
	}
}

// AttachBackground registers the background inbox, replacing any previous one
func (b *Bus) AttachBackground() *Inbox {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.background != nil {
		close(b.background.ch)
	}
	b.background = &Inbox{ID: "background", ch: make(chan []byte, b.bufferSize), bus: b}
	return b.background
}

// Attach registers a new foreground inbox
func (b *Bus) Attach() *Inbox {
	b.mu.Lock()
	defer b.mu.Unlock()

	inbox := &Inbox{ID: uuid.New().String(), ch: make(chan []byte, b.bufferSize), bus: b}
	b.clients[inbox.ID] = inbox
	b.order = append(b.order, inbox.ID)
	return inbox
}

// Detach removes an inbox and closes its channel. Detaching twice is a no-op.
func (b *Bus) Detach(inbox *Inbox) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.background == inbox {
		close(inbox.ch)
		b.background = nil
		return
	}

	if _, ok := b.clients[inbox.ID]; !ok {
		return
	}
	delete(b.clients, inbox.ID)
	for i, id := range b.order {
		if id == inbox.ID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	close(inbox.ch)
}

// ToBackground posts an intent to the background inbox
func (b *Bus) ToBackground(in Intent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.background == nil {
		metrics.IntentsDropped.WithLabelValues("unreachable").Inc()
		return false
	}
	return b.deliver(b.background, in)
}

// FirstClient returns the longest-attached foreground inbox ID
func (b *Bus) FirstClient() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.order) == 0 {
		return "", false
	}
	return b.order[0], true
}

// ClientCount returns the number of attached foreground inboxes
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ToClient posts an intent to one foreground inbox
func (b *Bus) ToClient(id string, in Intent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	inbox, ok := b.clients[id]
	if !ok {
		metrics.IntentsDropped.WithLabelValues("unreachable").Inc()
		return false
	}
	return b.deliver(inbox, in)
}

// Broadcast posts an intent to every foreground inbox and returns how many
// accepted it
func (b *Bus) Broadcast(in Intent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, id := range b.order {
		if b.deliver(b.clients[id], in) {
			delivered++
		}
	}
	return delivered
}

// deliver must be called with b.mu held
func (b *Bus) deliver(inbox *Inbox, in Intent) bool {
	data, err := Encode(in)
	if err != nil {
		logger := log.WithComponent("intent")
		logger.Warn().Err(err).Str("kind", string(in.Kind)).Msg("Refusing to send invalid intent")
		metrics.IntentsDropped.WithLabelValues("invalid").Inc()
		return false
	}

	select {
	case inbox.ch <- data:
		metrics.IntentsSent.WithLabelValues(string(in.Kind)).Inc()
		return true
	default:
		metrics.IntentsDropped.WithLabelValues("full").Inc()
		return false
	}
}

// Receive decodes a message taken from an inbox. Malformed and unknown
// messages are logged, counted and reported as not ok.
func Receive(data []byte) (Intent, bool) {
	in, err := Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownKind) {
			reason = "unknown_kind"
		}
		metrics.IntentsDropped.WithLabelValues(reason).Inc()
		logger := log.WithComponent("intent")
		logger.Debug().Err(err).Msg("Dropping intent")
		return Intent{}, false
	}
	return in, true
}
