package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_deliversByKind(t *testing.T) {
	bus := NewBus(nil)
	var created, sideloaded []Event
	bus.Subscribe(KindRecordCreated, func(_ context.Context, e Event) { created = append(created, e) })
	bus.Subscribe(KindAssetSideloaded, func(_ context.Context, e Event) { sideloaded = append(sideloaded, e) })

	bus.Publish(context.Background(), RecordCreated(RecordPayload{RecordID: 7}))

	require.Len(t, created, 1)
	assert.Empty(t, sideloaded)
	p, ok := created[0].Payload.(RecordPayload)
	require.True(t, ok)
	assert.Equal(t, int64(7), p.RecordID)
	assert.NotEmpty(t, created[0].ID)
	assert.False(t, created[0].OccurredAt.IsZero())
}

func TestBus_subscribeAll(t *testing.T) {
	bus := NewBus(nil)
	seen := map[Kind]int{}
	bus.SubscribeAll(func(_ context.Context, e Event) { seen[e.Kind]++ })

	ctx := context.Background()
	bus.Publish(ctx, RecordCreated(RecordPayload{}))
	bus.Publish(ctx, RecordUpdated(RecordPayload{}))
	bus.Publish(ctx, AssetSideloaded(SideloadPayload{}))
	bus.Publish(ctx, ImportFailed(ImportFailedPayload{}))

	for _, k := range Kinds {
		assert.Equal(t, 1, seen[k], k)
	}
}

func TestBus_panickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	bus.Subscribe(KindImportFailed, func(context.Context, Event) { panic("boom") })
	bus.Subscribe(KindImportFailed, func(context.Context, Event) { calls++ })

	bus.Publish(context.Background(), ImportFailed(ImportFailedPayload{Code: "x"}))
	assert.Equal(t, 1, calls)
}

type fakePublisher struct {
	subjects []string
	data     [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.data = append(f.data, data)
	return f.err
}

func TestNATSForwarder_publishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewNATSForwarder(pub, "storyhook", nil)

	fwd.Handle(context.Background(), AssetSideloaded(SideloadPayload{
		RemoteURL: "https://images.airstory.co/v1/prod/i-1/a.jpg",
		RecordID:  3,
		AssetID:   9,
	}))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "storyhook.asset.sideloaded", pub.subjects[0])

	var decoded struct {
		Kind    string          `json:"kind"`
		Payload SideloadPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.data[0], &decoded))
	assert.Equal(t, "asset.sideloaded", decoded.Kind)
	assert.Equal(t, int64(9), decoded.Payload.AssetID)
}

func TestNATSForwarder_publishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	fwd := NewNATSForwarder(pub, "", nil)
	assert.NotPanics(t, func() {
		fwd.Handle(context.Background(), ImportFailed(ImportFailedPayload{}))
	})
	assert.Equal(t, "import.failed", pub.subjects[0])
}
