package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge-go/internal/model"
)

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	var gotA, gotB []Event
	bus.Subscribe(func(ev Event) bool { return ev.DocumentID == "a" }, func(ev Event) { gotA = append(gotA, ev) })
	bus.Subscribe(nil, func(ev Event) { gotB = append(gotB, ev) })

	bus.Publish(Progress("a", model.StagePDFParse, 10, "parsing"))
	bus.Publish(Progress("b", model.StagePDFParse, 10, "parsing"))

	require.Len(t, gotA, 1)
	assert.Equal(t, "a", gotA[0].DocumentID)
	assert.Len(t, gotB, 2)
}

func TestBusNoReplayForLateSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Publish(Complete("a"))

	var got []Event
	bus.Subscribe(nil, func(ev Event) { got = append(got, ev) })
	assert.Empty(t, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(nil, func(Event) { count++ })

	bus.Publish(Complete("a"))
	unsubscribe()
	unsubscribe()
	bus.Publish(Complete("a"))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusPreservesOrderPerDocument(t *testing.T) {
	bus := NewBus()
	var percents []int
	bus.Subscribe(nil, func(ev Event) { percents = append(percents, ev.Percent) })

	for _, p := range []int{10, 25, 55, 60, 95} {
		bus.Publish(Progress("a", model.StageVectorizing, p, ""))
	}
	assert.Equal(t, []int{10, 25, 55, 60, 95}, percents)
}

func TestBusRecoversFromPanickingHandler(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(nil, func(Event) { panic("boom") })
	bus.Subscribe(func(Event) bool { panic("filter boom") }, func(Event) {})
	bus.Subscribe(nil, func(Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(Complete("a")) })
	assert.True(t, delivered)
}

func TestBusFilterEvaluatedBeforeDelivery(t *testing.T) {
	bus := NewBus()
	registry := NewRegistry()
	registry.Register("doc", 1)

	var delivered []string
	// 第一个订阅者在处理 complete 时注销归属，第二个订阅者的过滤器仍应看到发布时的状态。
	bus.Subscribe(nil, func(ev Event) { registry.Unregister(ev.DocumentID) })
	bus.Subscribe(func(ev Event) bool {
		owner, ok := registry.Lookup(ev.DocumentID)
		return ok && owner == 1
	}, func(ev Event) { delivered = append(delivered, ev.DocumentID) })

	bus.Publish(Complete("doc"))
	assert.Equal(t, []string{"doc"}, delivered)
}

func TestBusConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := bus.Subscribe(nil, func(Event) {
				mu.Lock()
				total++
				mu.Unlock()
			})
			defer unsubscribe()
		}()
		go func(i int) {
			defer wg.Done()
			bus.Publish(Progress("doc", model.StageChunking, i, ""))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, bus.Subscribers())
}

func TestProgressClampsPercent(t *testing.T) {
	assert.Equal(t, 100, Progress("a", model.StageVectorizing, 140, "").Percent)
	assert.Equal(t, 0, Progress("a", model.StageVectorizing, -3, "").Percent)
	assert.True(t, Failed("a", "x").IsTerminal())
	assert.False(t, Progress("a", model.StagePDFParse, 1, "").IsTerminal())
}
