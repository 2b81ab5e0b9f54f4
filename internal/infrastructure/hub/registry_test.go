package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newSub(txRef string) *Subscription {
	return &Subscription{TxRef: txRef, Channel: newMockChannel("c")}
}

func TestRegistry_SubscribeAndCount(t *testing.T) {
	r := NewRegistry()
	a, b, c := newSub("T1"), newSub("T1"), newSub("T2")

	r.Subscribe("T1", a)
	r.Subscribe("T1", b)
	r.Subscribe("T2", c)
	r.Subscribe("T1", a) // duplicate

	assert.Equal(t, 2, r.CountSubscribers("T1"))
	assert.Equal(t, 1, r.CountSubscribers("T2"))
	assert.Equal(t, 0, r.CountSubscribers("unknown"))
	assert.Equal(t, 3, r.CountAll())
	assert.Equal(t, 2, r.CountTopics())
}

func TestRegistry_UnsubscribeRemovesEmptyGroup(t *testing.T) {
	r := NewRegistry()
	a, b := newSub("T1"), newSub("T1")
	r.Subscribe("T1", a)
	r.Subscribe("T1", b)

	assert.True(t, r.Unsubscribe("T1", a))
	assert.Equal(t, 1, r.CountSubscribers("T1"))
	assert.NotContains(t, r.Subscribers("T1"), a)

	assert.True(t, r.Unsubscribe("T1", b))
	assert.Equal(t, 0, r.CountSubscribers("T1"))
	assert.Equal(t, 0, r.CountTopics())
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry()
	a, keep := newSub("T1"), newSub("T1")
	r.Subscribe("T1", a)
	r.Subscribe("T1", keep)

	assert.True(t, r.Unsubscribe("T1", a))
	assert.False(t, r.Unsubscribe("T1", a))
	assert.False(t, r.Unsubscribe("never", a))

	assert.Equal(t, 1, r.CountSubscribers("T1"))
	assert.Equal(t, 1, r.CountAll())
}

func TestRegistry_SnapshotAndDrain(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("T1", newSub("T1"))
	r.Subscribe("T2", newSub("T2"))

	assert.Len(t, r.Snapshot(), 2)
	assert.Equal(t, 2, r.CountAll(), "snapshot does not mutate")

	drained := r.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, r.CountAll())
	assert.Equal(t, 0, r.CountTopics())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := newSub("T1")
			r.Subscribe("T1", sub)
			_ = r.Subscribers("T1")
			r.Unsubscribe("T1", sub)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.CountAll())
	assert.Equal(t, 0, r.CountTopics())
}
