package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockChannel is a mock implementation of Channel
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Publish(ctx context.Context, rec *model.RemoteRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockChannel) Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error) {
	args := m.Called(ctx, tenantID, key, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Subscription), args.Error(1)
}

func (m *MockChannel) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

type recorder struct {
	mu      sync.Mutex
	records []model.RemoteRecord
}

func (r *recorder) handle(rec *model.RemoteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
}

func (r *recorder) snapshot() []model.RemoteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RemoteRecord(nil), r.records...)
}

func TestHub_PullMissing(t *testing.T) {
	hub, _, _ := NewMemoryRemote(zap.NewNop())

	rec, err := hub.Pull(context.Background(), "tenant-1", "students")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHub_UpsertThenPull(t *testing.T) {
	hub, _, _ := NewMemoryRemote(zap.NewNop())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return fixed }
	ctx := context.Background()

	rec := &model.RemoteRecord{
		TenantID: "tenant-1",
		Key:      "students",
		Value:    json.RawMessage(`[{"id":"s1"}]`),
		Origin:   "client-a",
	}
	require.NoError(t, hub.Upsert(ctx, rec))
	assert.Equal(t, fixed, rec.UpdatedAt)

	got, err := hub.Pull(ctx, "tenant-1", "students")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"s1"}]`, string(got.Value))
	assert.Equal(t, "client-a", got.Origin)
	assert.Equal(t, fixed, got.UpdatedAt)

	_, err = hub.Pull(ctx, "tenant-2", "students")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHub_UpsertRequiresTenantAndKey(t *testing.T) {
	hub, _, _ := NewMemoryRemote(zap.NewNop())

	err := hub.Upsert(context.Background(), &model.RemoteRecord{Key: "students", Value: json.RawMessage(`1`)})
	assert.Error(t, err)

	err = hub.Upsert(context.Background(), &model.RemoteRecord{TenantID: "t", Value: json.RawMessage(`1`)})
	assert.Error(t, err)
}

func TestHub_SubscribeDeliversOnlyOwnTenant(t *testing.T) {
	hub, _, channel := NewMemoryRemote(zap.NewNop())
	ctx := context.Background()

	var t1, t2 recorder
	sub1, err := hub.Subscribe(ctx, "tenant-1", "students", t1.handle)
	require.NoError(t, err)
	defer sub1.Close()
	sub2, err := hub.Subscribe(ctx, "tenant-2", "students", t2.handle)
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, hub.Upsert(ctx, &model.RemoteRecord{TenantID: "tenant-2", Key: "students", Value: json.RawMessage(`"t2"`)}))
	require.NoError(t, hub.Upsert(ctx, &model.RemoteRecord{TenantID: "tenant-1", Key: "students", Value: json.RawMessage(`"t1"`)}))

	require.Eventually(t, func() bool {
		return len(t1.snapshot()) == 1 && len(t2.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, `"t1"`, string(t1.snapshot()[0].Value))
	assert.Equal(t, "tenant-1", t1.snapshot()[0].TenantID)
	assert.Equal(t, `"t2"`, string(t2.snapshot()[0].Value))
	assert.Equal(t, 1, channel.Subscribers("tenant-1", "students"))
}

func TestHub_SubscribeDropsForeignRecords(t *testing.T) {
	channel := new(MockChannel)
	hub := NewHub(NewMemoryStore(), channel, zap.NewNop())

	var captured Handler
	channel.On("Subscribe", mock.Anything, "tenant-1", "students", mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(3).(Handler) }).
		Return(&memorySubscription{done: make(chan struct{})}, nil)

	var got recorder
	_, err := hub.Subscribe(context.Background(), "tenant-1", "students", got.handle)
	require.NoError(t, err)
	require.NotNil(t, captured)

	captured(&model.RemoteRecord{TenantID: "tenant-2", Key: "students", Value: json.RawMessage(`"leak"`)})
	captured(&model.RemoteRecord{TenantID: "tenant-1", Key: "invoices", Value: json.RawMessage(`"wrong key"`)})
	captured(&model.RemoteRecord{TenantID: "tenant-1", Key: "students", Value: json.RawMessage(`"ok"`)})

	records := got.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, `"ok"`, string(records[0].Value))
	channel.AssertExpectations(t)
}

func TestHub_BroadcastFailureIsNotAnUpsertFailure(t *testing.T) {
	channel := new(MockChannel)
	store := NewMemoryStore()
	hub := NewHub(store, channel, zap.NewNop())

	channel.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	err := hub.Upsert(context.Background(), &model.RemoteRecord{TenantID: "t", Key: "k", Value: json.RawMessage(`1`)})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), "t", "k")
	require.NoError(t, err)
	assert.Equal(t, `1`, string(rec.Value))
	channel.AssertNumberOfCalls(t, "Publish", 1)
}

func TestMemoryChannel_CloseStopsDelivery(t *testing.T) {
	channel := NewMemoryChannel()
	ctx := context.Background()

	var got recorder
	sub, err := channel.Subscribe(ctx, "t", "k", got.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, channel.Publish(ctx, &model.RemoteRecord{TenantID: "t", Key: "k", Value: json.RawMessage(`1`)}))
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, got.snapshot())
	assert.Equal(t, 0, channel.Subscribers("t", "k"))
}

func TestMemoryChannel_ContextCancelClosesSubscription(t *testing.T) {
	channel := NewMemoryChannel()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := channel.Subscribe(ctx, "t", "k", func(*model.RemoteRecord) {})
	require.NoError(t, err)
	require.Equal(t, 1, channel.Subscribers("t", "k"))

	cancel()

	assert.Eventually(t, func() bool {
		return channel.Subscribers("t", "k") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryChannel_PreservesPublishOrder(t *testing.T) {
	channel := NewMemoryChannel()
	ctx := context.Background()

	var got recorder
	sub, err := channel.Subscribe(ctx, "t", "k", got.handle)
	require.NoError(t, err)
	defer sub.Close()

	for _, v := range []string{`1`, `2`, `3`} {
		require.NoError(t, channel.Publish(ctx, &model.RemoteRecord{TenantID: "t", Key: "k", Value: json.RawMessage(v)}))
	}

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	records := got.snapshot()
	assert.Equal(t, "1", string(records[0].Value))
	assert.Equal(t, "2", string(records[1].Value))
	assert.Equal(t, "3", string(records[2].Value))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "docsync:tenant-1:students", Topic("docsync", "tenant-1", "students"))
	assert.Equal(t, "/v1/tenants/tenant-1/collections/a%2Fb", CollectionPath("tenant-1", "a/b"))
}

func TestMemoryRemote_SeparatorInNamesDoesNotCollide(t *testing.T) {
	hub, _, channel := NewMemoryRemote(zap.NewNop())
	ctx := context.Background()

	var left recorder
	sub, err := hub.Subscribe(ctx, "a:b", "c", left.handle)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Upsert(ctx, &model.RemoteRecord{TenantID: "a:b", Key: "c", Value: json.RawMessage(`"left"`)}))
	require.NoError(t, hub.Upsert(ctx, &model.RemoteRecord{TenantID: "a", Key: "b:c", Value: json.RawMessage(`"right"`)}))

	got, err := hub.Pull(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.Equal(t, `"left"`, string(got.Value))

	got, err = hub.Pull(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.Equal(t, `"right"`, string(got.Value))

	assert.Equal(t, 1, channel.Subscribers("a:b", "c"))
	assert.Equal(t, 0, channel.Subscribers("a", "b:c"))

	require.Eventually(t, func() bool { return len(left.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, left.snapshot(), 1)
}

func TestHub_ListKeys(t *testing.T) {
	hub, _, _ := NewMemoryRemote(zap.NewNop())
	ctx := context.Background()

	for _, rec := range []model.RemoteRecord{
		{TenantID: "tenant-1", Key: "students", Value: json.RawMessage(`[]`)},
		{TenantID: "tenant-1", Key: "invoices", Value: json.RawMessage(`[]`)},
		{TenantID: "tenant-2", Key: "payroll", Value: json.RawMessage(`[]`)},
	} {
		rec := rec
		require.NoError(t, hub.Upsert(ctx, &rec))
	}

	keys, err := hub.ListKeys(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices", "students"}, keys)

	keys, err = hub.ListKeys(ctx, "tenant-3")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = hub.ListKeys(ctx, "")
	assert.Error(t, err)
}
