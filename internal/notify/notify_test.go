package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func TestNATSNotifier_PublishesLifecycle(t *testing.T) {
	pub := &fakePublisher{}
	n := newNotifier(pub, "world.chunks", "node-1")
	key := chunk.NewKey(chunk.Nether, 4, -2)

	c := chunk.New(key)
	c.SetBlock(0, 0, 0, chunk.StoneBlockID)
	n.OnChunkReady(key, c)
	n.OnChunkUnloading(key)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "world.chunks.ready", pub.msgs[0].subject)
	assert.Equal(t, "world.chunks.unloading", pub.msgs[1].subject)

	var ev ChunkEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &ev))
	assert.Equal(t, EventReady, ev.Type)
	assert.Equal(t, key.String(), ev.Key)
	assert.Equal(t, "nether", ev.Dimension)
	assert.Equal(t, int32(4), ev.X)
	assert.Equal(t, int32(-2), ev.Z)
	assert.Equal(t, c.Version(), ev.Version)
	assert.Equal(t, "node-1", ev.NodeID)

	metrics := n.GetMetrics()
	assert.Equal(t, uint64(2), metrics["published_count"])
}

func TestNATSNotifier_PublishErrorCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	n := newNotifier(pub, "world.chunks", "node-1")

	n.OnChunkUnloading(chunk.NewKey(chunk.Overworld, 0, 0))
	assert.Equal(t, uint64(1), n.GetMetrics()["errors_count"])
	assert.Equal(t, uint64(0), n.GetMetrics()["published_count"])
}

func TestNATSNotifier_HandleIgnoresOwnEvents(t *testing.T) {
	n := newNotifier(&fakePublisher{}, "world.chunks", "node-1")
	var got []ChunkEvent
	n.handler = func(ev ChunkEvent) error {
		got = append(got, ev)
		return nil
	}

	own, _ := json.Marshal(ChunkEvent{Type: EventReady, Key: "overworld/0/0", NodeID: "node-1"})
	other, _ := json.Marshal(ChunkEvent{Type: EventUnloading, Key: "overworld/1/0", NodeID: "node-2"})
	n.handleData(own)
	n.handleData(other)
	n.handleData([]byte("not json"))

	require.Len(t, got, 1)
	assert.Equal(t, "overworld/1/0", got[0].Key)
	assert.Equal(t, uint64(3), n.GetMetrics()["received_count"])
	assert.Equal(t, uint64(1), n.GetMetrics()["errors_count"])
}

type recorder struct{ events []string }

func (r *recorder) OnChunkReady(key chunk.Key, c *chunk.Chunk) {
	r.events = append(r.events, "ready "+key.String())
}

func (r *recorder) OnChunkUnloading(key chunk.Key) {
	r.events = append(r.events, "unloading "+key.String())
}

func TestFanout_Order(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := Fanout{a, NewLogNotifier(), b}
	key := chunk.NewKey(chunk.Overworld, 1, 1)

	f.OnChunkReady(key, nil)
	f.OnChunkUnloading(key)

	want := []string{"ready overworld/1/1", "unloading overworld/1/1"}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)
}
