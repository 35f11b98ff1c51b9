package bus

import (
	"encoding/json"
	"testing"

	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type event struct {
	key   string
	value string
}

func newTestBus() (*Bus, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(m, zap.NewNop()), m
}

func TestBus_GlobalListenerReceivesEveryKey(t *testing.T) {
	b, _ := newTestBus()

	var got []event
	b.Subscribe(func(key string, value json.RawMessage) {
		got = append(got, event{key, string(value)})
	})

	b.Publish("students", json.RawMessage(`[1]`))
	b.Publish("invoices", json.RawMessage(`[2]`))

	assert.Equal(t, []event{{"students", "[1]"}, {"invoices", "[2]"}}, got)
}

func TestBus_KeyListenerFiltersOtherKeys(t *testing.T) {
	b, _ := newTestBus()

	calls := 0
	b.SubscribeKey("students", func(key string, value json.RawMessage) {
		assert.Equal(t, "students", key)
		calls++
	})

	b.Publish("invoices", json.RawMessage(`[]`))
	assert.Equal(t, 0, calls)

	b.Publish("students", json.RawMessage(`[]`))
	assert.Equal(t, 1, calls)
}

func TestBus_Unsubscribe(t *testing.T) {
	b, _ := newTestBus()

	calls := 0
	unsubscribe := b.SubscribeKey("k", func(string, json.RawMessage) { calls++ })
	unsubscribeAll := b.Subscribe(func(string, json.RawMessage) { calls++ })
	require.Equal(t, 2, b.Len())

	unsubscribe()
	unsubscribeAll()
	unsubscribe() // idempotent

	b.Publish("k", json.RawMessage(`1`))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.Len())
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b, _ := newTestBus()

	var order []string
	b.SubscribeKey("k", func(string, json.RawMessage) { order = append(order, "key-1") })
	b.Subscribe(func(string, json.RawMessage) { order = append(order, "global-2") })
	b.SubscribeKey("k", func(string, json.RawMessage) { order = append(order, "key-3") })
	b.Subscribe(func(string, json.RawMessage) { order = append(order, "global-4") })

	b.Publish("k", json.RawMessage(`1`))

	assert.Equal(t, []string{"key-1", "global-2", "key-3", "global-4"}, order)
}

func TestBus_RepeatedWritesAreNotDeduplicated(t *testing.T) {
	b, _ := newTestBus()

	var values []string
	b.SubscribeKey("k", func(_ string, v json.RawMessage) { values = append(values, string(v)) })

	b.Publish("k", json.RawMessage(`1`))
	b.Publish("k", json.RawMessage(`1`))
	b.Publish("k", json.RawMessage(`2`))

	assert.Equal(t, []string{"1", "1", "2"}, values)
}

func TestBus_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	b, m := newTestBus()

	delivered := 0
	b.SubscribeKey("k", func(string, json.RawMessage) { delivered++ })
	b.SubscribeKey("k", func(string, json.RawMessage) { panic("consumer bug") })
	b.Subscribe(func(string, json.RawMessage) { delivered++ })

	assert.NotPanics(t, func() {
		b.Publish("k", json.RawMessage(`1`))
	})
	assert.Equal(t, 2, delivered)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ListenerPanics))
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	b, _ := newTestBus()

	var second func()
	secondCalls := 0
	b.SubscribeKey("k", func(string, json.RawMessage) { second() })
	second = b.SubscribeKey("k", func(string, json.RawMessage) { secondCalls++ })

	b.Publish("k", json.RawMessage(`1`))
	b.Publish("k", json.RawMessage(`2`))

	assert.Equal(t, 0, secondCalls)
}

func TestBus_ListenerMayPublish(t *testing.T) {
	b, _ := newTestBus()

	var got []string
	b.SubscribeKey("a", func(string, json.RawMessage) {
		b.Publish("b", json.RawMessage(`"derived"`))
	})
	b.SubscribeKey("b", func(_ string, v json.RawMessage) { got = append(got, string(v)) })

	b.Publish("a", json.RawMessage(`1`))

	assert.Equal(t, []string{`"derived"`}, got)
}

func TestBus_KeyListenerMayUnsubscribeGlobalListener(t *testing.T) {
	b, _ := newTestBus()

	var global func()
	globalCalls := 0
	b.SubscribeKey("k", func(string, json.RawMessage) { global() })
	global = b.Subscribe(func(string, json.RawMessage) { globalCalls++ })

	b.Publish("k", json.RawMessage(`1`))
	assert.Equal(t, 0, globalCalls)

	// Subscribing again registers a fresh, active listener
	b.Subscribe(func(string, json.RawMessage) { globalCalls++ })
	b.Publish("other", json.RawMessage(`2`))
	assert.Equal(t, 1, globalCalls)
}

func TestBus_ManyListenersOnOneKey(t *testing.T) {
	b, _ := newTestBus()

	const n = 2000
	calls := make([]int, n)
	unsubs := make([]func(), n)

	// Registered first, each drops one odd listener before it is reached
	for i := 1; i < n; i += 2 {
		i := i
		b.SubscribeKey("k", func(string, json.RawMessage) { unsubs[i]() })
	}
	for i := 0; i < n; i++ {
		i := i
		unsubs[i] = b.SubscribeKey("k", func(string, json.RawMessage) { calls[i]++ })
	}

	b.Publish("k", json.RawMessage(`1`))
	b.Publish("k", json.RawMessage(`2`))

	for i := 0; i < n; i += 2 {
		assert.Equal(t, 2, calls[i], "listener %d", i)
		assert.Equal(t, 0, calls[i+1], "listener %d", i+1)
	}
	assert.Equal(t, n, b.Len())
}
