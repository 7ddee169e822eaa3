package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimio/cosim/internal/models"
)

type recordingSink struct {
	deliveries [][]byte
}

func (r *recordingSink) Deliver(data []byte) {
	r.deliveries = append(r.deliveries, data)
}

func TestNotifySessionEventDeliversToSessionSubscriber(t *testing.T) {
	n := NewNotifier()
	sink := &recordingSink{}
	n.SubscribeSession("sess-1", sink)

	err := n.NotifyStateChange("sess-1", "user-1", models.StateReady, models.StateIdle)
	require.NoError(t, err)

	require.Len(t, sink.deliveries, 1)
}

func TestNotifySessionEventDoesNotDuplicateWhenSubscribedBothWays(t *testing.T) {
	n := NewNotifier()
	sink := &recordingSink{}
	n.SubscribeSession("sess-1", sink)
	n.SubscribeUser("user-1", sink)

	err := n.NotifyTerminated("sess-1", "user-1", "idle timeout")
	require.NoError(t, err)

	assert.Len(t, sink.deliveries, 1, "a sink subscribed both ways should only receive one delivery")
}

func TestUnsubscribeAllStopsFutureDeliveries(t *testing.T) {
	n := NewNotifier()
	sink := &recordingSink{}
	n.SubscribeSession("sess-1", sink)
	n.UnsubscribeAll(sink)

	require.NoError(t, n.NotifyTerminated("sess-1", "user-1", "done"))
	assert.Empty(t, sink.deliveries)
}
