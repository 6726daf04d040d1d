// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugmesh/plugmesh/internal/bus"
)

func newPublisher(t *testing.T, cfg bus.PublisherConfig) (*bus.Publisher, *bus.SubscriptionManager, *bus.Statistics) {
	t.Helper()
	stats := bus.NewStatistics()
	mgr := bus.NewSubscriptionManager(stats)
	router := bus.NewRouter(mgr, stats, bus.RouterConfig{})
	t.Cleanup(router.Close)
	return bus.NewPublisher(router, stats, cfg), mgr, stats
}

func TestPublisher_PublishDelivers(t *testing.T) {
	pub, mgr, _ := newPublisher(t, bus.PublisherConfig{})

	var got bus.Message
	_, err := mgr.Subscribe("orders.created", "audit", func(msg bus.Message) error {
		got = msg
		return nil
	})
	require.NoError(t, err)

	outcome, err := pub.Publish(context.Background(), bus.Message{
		Topic:   "orders.created",
		Payload: map[string]int{"id": 42},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.MatchedSubscribers)
	assert.Equal(t, 1, outcome.SuccessfulDeliveries)
	assert.Empty(t, outcome.FailedSubscriberIDs)
	assert.Equal(t, map[string]int{"id": 42}, got.Payload)
	assert.False(t, got.CreatedAt.IsZero(), "publisher must stamp CreatedAt")
	assert.False(t, got.ID.Compare(ulid.ULID{}) == 0, "publisher must stamp ID")
}

func TestPublisher_ZeroSubscribersIsSuccess(t *testing.T) {
	pub, _, _ := newPublisher(t, bus.PublisherConfig{})

	outcome, err := pub.Publish(context.Background(), bus.Message{Topic: "void.topic", Payload: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.MatchedSubscribers)
	assert.False(t, outcome.Failed())
}

func TestPublisher_Validation(t *testing.T) {
	tests := []struct {
		name     string
		cfg      bus.PublisherConfig
		msg      bus.Message
		wantCode string
	}{
		{
			name:     "empty topic",
			msg:      bus.Message{Payload: 1},
			wantCode: bus.CodeInvalidTopic,
		},
		{
			name:     "nil payload",
			msg:      bus.Message{Topic: "orders.created"},
			wantCode: bus.CodeInvalidPayload,
		},
		{
			name:     "payload too large",
			cfg:      bus.PublisherConfig{MaxPayloadBytes: 4},
			msg:      bus.Message{Topic: "orders.created", Payload: []byte("0123456789")},
			wantCode: bus.CodePayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, _, stats := newPublisher(t, tt.cfg)

			_, err := pub.Publish(context.Background(), tt.msg)
			require.Error(t, err)

			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok, "expected oops error, got %T", err)
			assert.Equal(t, tt.wantCode, oopsErr.Code())
			assert.Equal(t, uint64(1), stats.Snapshot().Rejected)
		})
	}
}

func TestPublisher_NonBytePayloadExemptFromSizeCap(t *testing.T) {
	pub, _, _ := newPublisher(t, bus.PublisherConfig{MaxPayloadBytes: 1})

	_, err := pub.Publish(context.Background(), bus.Message{
		Topic:   "orders.created",
		Payload: struct{ Huge [64]byte }{},
	})
	assert.NoError(t, err, "structured payloads are opaque to the size cap")
}

func TestPublisher_CriticalQuota(t *testing.T) {
	pub, _, _ := newPublisher(t, bus.PublisherConfig{CriticalPerSecond: 2})

	msg := bus.Message{Topic: "alerts.fire", Payload: 1, Priority: bus.PriorityCritical}
	_, err := pub.Publish(context.Background(), msg)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), msg)
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), msg)
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, bus.CodePriorityQuota, oopsErr.Code())

	// Normal priority is not subject to the quota.
	_, err = pub.Publish(context.Background(), bus.Message{Topic: "alerts.fire", Payload: 1})
	assert.NoError(t, err)
}

func TestPublisher_SequentialPublishOrder(t *testing.T) {
	pub, mgr, _ := newPublisher(t, bus.PublisherConfig{})

	var seen []int
	_, err := mgr.Subscribe("seq.topic", "ordered", func(msg bus.Message) error {
		seen = append(seen, msg.Payload.(int))
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, err := pub.Publish(context.Background(), bus.Message{Topic: "seq.topic", Payload: i})
		require.NoError(t, err)
	}

	require.Len(t, seen, 25)
	for i, v := range seen {
		assert.Equal(t, i, v, "delivery order must match publish order")
	}
}

func TestPublisher_StatsRecorded(t *testing.T) {
	pub, mgr, stats := newPublisher(t, bus.PublisherConfig{})

	_, err := mgr.Subscribe("orders.created", "audit", func(bus.Message) error { return nil })
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), bus.Message{Topic: "orders.created", Payload: 1})
	require.NoError(t, err)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Publishes)
	assert.Equal(t, uint64(1), snap.Deliveries)
	assert.Equal(t, uint64(0), snap.Failures)
	assert.GreaterOrEqual(t, snap.AvgDeliveryTime, time.Duration(0))
}
