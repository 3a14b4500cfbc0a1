package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ThorbenD/dvp-market/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishDelivers(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(4, nil)
	defer sub.Close()

	bus.Publish(domain.Event{Kind: domain.EventMint, AssetID: 1})

	e := <-sub.C()
	assert.Equal(t, domain.EventMint, e.Kind)
	assert.NotEmpty(t, e.ID)
}

func TestFilter(t *testing.T) {
	bus := NewBus(nil)
	alice := domain.NewPrincipal("0xA11CE")
	sub := bus.Subscribe(4, ForPrincipal(alice))
	defer sub.Close()

	bus.Publish(domain.Event{Kind: domain.EventTransfer, From: "0xb0b", To: "0xc4r0l"})
	bus.Publish(domain.Event{Kind: domain.EventTransfer, From: "0xb0b", To: alice})

	require.Len(t, sub.C(), 1)
	e := <-sub.C()
	assert.Equal(t, alice, e.To)
}

func TestFullBufferDrops(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(1, nil)
	defer sub.Close()

	bus.Publish(domain.Event{Kind: domain.EventMint})
	bus.Publish(domain.Event{Kind: domain.EventMint})

	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Len(t, sub.C(), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(1, nil)
	sub.Close()
	sub.Close()

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers())

	// publishing after close must not panic on the closed channel
	bus.Publish(domain.Event{Kind: domain.EventMint})
}

func TestConcurrentPublishAndConsume(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(256, nil)

	var wg sync.WaitGroup
	received := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range sub.C() {
			received++
		}
	}()

	for i := 0; i < 100; i++ {
		bus.Publish(domain.Event{Kind: domain.EventTransfer, AssetID: uint64(i)})
	}
	sub.Close()
	wg.Wait()

	assert.Equal(t, 100, received)
}
