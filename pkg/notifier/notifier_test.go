package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	inst *types.Instance
}

func (f *fakeLookup) Get(id string) (*types.Instance, error) { return f.inst, nil }

func newTestNotifier(t *testing.T) (*Notifier, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	lookup := &fakeLookup{inst: &types.Instance{Name: "survival-1", Kind: types.KindPaper}}
	n, err := New(Options{DataRoot: t.TempDir()}, lookup, bus)
	require.NoError(t, err)
	n.Start()
	t.Cleanup(n.Stop)
	return n, bus
}

func TestCreateListUpdateDeleteSubscription(t *testing.T) {
	n, _ := newTestNotifier(t)

	s, err := n.CreateSubscription("inst-1", "https://example.com/hook", types.DialectGeneric,
		[]types.WebhookEventKind{types.EventCrash, types.EventStart}, true)
	require.NoError(t, err)
	assert.True(t, s.Events[types.EventCrash])

	list := n.ListSubscriptions("inst-1")
	require.Len(t, list, 1)

	updated, err := n.UpdateSubscription(s.ID, s.URL, types.DialectDiscord,
		[]types.WebhookEventKind{types.EventStop}, true)
	require.NoError(t, err)
	assert.Equal(t, types.DialectDiscord, updated.Dialect)
	assert.True(t, updated.Events[types.EventStop])

	require.NoError(t, n.DeleteSubscription(s.ID))
	_, err = n.GetSubscription(s.ID)
	assert.Error(t, err)
}

func TestCreateSubscriptionRejectsUnknownDialect(t *testing.T) {
	n, _ := newTestNotifier(t)
	_, err := n.CreateSubscription("inst-1", "https://example.com", types.WebhookDialect("slack"),
		[]types.WebhookEventKind{types.EventCrash}, true)
	assert.Error(t, err)
}

func TestDispatchPostsDiscordEmbedOnMatchingEvent(t *testing.T) {
	var received int32
	var body discordEmbed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, bus := newTestNotifier(t)
	_, err := n.CreateSubscription("inst-1", srv.URL, types.DialectDiscord,
		[]types.WebhookEventKind{types.EventCrash}, true)
	require.NoError(t, err)

	bus.Publish(events.TopicInstanceEvents, events.InstanceEvent{
		InstanceID: "inst-1", InstanceName: "survival-1", Kind: "crash", Detail: "exit code 1",
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, time.Second, 10*time.Millisecond)
	require.Len(t, body.Embeds, 1)
	assert.Equal(t, "🔴 Server Crashed", body.Embeds[0].Title)
}

func TestDispatchSkipsDisabledAndNonMatchingEventKind(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, bus := newTestNotifier(t)
	_, err := n.CreateSubscription("inst-1", srv.URL, types.DialectGeneric,
		[]types.WebhookEventKind{types.EventCrash}, false)
	require.NoError(t, err)
	_, err = n.CreateSubscription("inst-1", srv.URL, types.DialectGeneric,
		[]types.WebhookEventKind{types.EventStop}, true)
	require.NoError(t, err)

	bus.Publish(events.TopicInstanceEvents, events.InstanceEvent{
		InstanceID: "inst-1", InstanceName: "survival-1", Kind: "crash",
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&received))
}

func TestBuildGenericPayloadShape(t *testing.T) {
	body, err := buildGenericPayload(events.InstanceEvent{Kind: "player_join", Player: "Steve"}, "survival-1", "paper")
	require.NoError(t, err)

	var env genericEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "player_join", env.Event)
	assert.Equal(t, "survival-1", env.Server.Name)
	assert.Equal(t, "Steve", env.Data.Player)
}
