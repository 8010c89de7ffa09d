// Package events provides a small in-process event bus with a fixed set of event kinds.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind identifies an event type.
type Kind string

const (
	KindRecordCreated   Kind = "record.created"
	KindRecordUpdated   Kind = "record.updated"
	KindAssetSideloaded Kind = "asset.sideloaded"
	KindImportFailed    Kind = "import.failed"
)

// Kinds lists every event kind the bus carries.
var Kinds = []Kind{KindRecordCreated, KindRecordUpdated, KindAssetSideloaded, KindImportFailed}

// RecordPayload accompanies record.created and record.updated.
type RecordPayload struct {
	RecordID   int64  `json:"record_id"`
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	AuthorID   string `json:"author_id"`
	Title      string `json:"title"`
	BodyHTML   string `json:"-"`
}

// SideloadPayload accompanies asset.sideloaded.
type SideloadPayload struct {
	RemoteURL string            `json:"remote_url"`
	RecordID  int64             `json:"record_id"`
	AssetID   int64             `json:"asset_id"`
	LocalURL  string            `json:"local_url"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ImportFailedPayload accompanies import.failed.
type ImportFailedPayload struct {
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Event is a single published occurrence. Payload holds the typed payload for Kind.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func newEvent(kind Kind, payload any) Event {
	return Event{ID: uuid.New().String(), Kind: kind, OccurredAt: time.Now().UTC(), Payload: payload}
}

// RecordCreated builds a record.created event.
func RecordCreated(p RecordPayload) Event { return newEvent(KindRecordCreated, p) }

// RecordUpdated builds a record.updated event.
func RecordUpdated(p RecordPayload) Event { return newEvent(KindRecordUpdated, p) }

// AssetSideloaded builds an asset.sideloaded event.
func AssetSideloaded(p SideloadPayload) Event { return newEvent(KindAssetSideloaded, p) }

// ImportFailed builds an import.failed event.
func ImportFailed(p ImportFailedPayload) Event { return newEvent(KindImportFailed, p) }

// Handler receives events. Handlers run synchronously on the publisher's goroutine.
type Handler func(ctx context.Context, e Event)

// Bus dispatches events to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   *zap.Logger
}

// NewBus returns an empty bus. logger may be nil.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{handlers: make(map[Kind][]Handler), logger: logger}
}

// Subscribe registers h for kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) {
	for _, k := range Kinds {
		b.Subscribe(k, h)
	}
}

// Publish delivers e to every handler subscribed to its kind. A panicking handler is
// logged and does not stop delivery to the rest.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.Kind]...)
	b.mu.RUnlock()
	for _, h := range hs {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.String("kind", string(e.Kind)), zap.Any("panic", r))
		}
	}()
	h(ctx, e)
}
