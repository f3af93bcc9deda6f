package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// postTimeout bounds every outbound webhook POST, per spec §4.10.
const postTimeout = 5 * time.Second

// InstanceLookup is the port the notifier uses to resolve an instance's
// display name and kind for the payload. pkg/registry.Registry satisfies
// it.
type InstanceLookup interface {
	Get(id string) (*types.Instance, error)
}

// subscriptionFile is the on-disk shape of webhooks.json.
type subscriptionFile struct {
	Version       int                          `json:"version"`
	Subscriptions []*types.WebhookSubscription `json:"subscriptions"`
}

const currentSubscriptionFileVersion = 1

// Notifier implements C10: it owns the persisted Webhook Subscription
// table and subscribes to events.TopicInstanceEvents to dispatch matching
// webhooks.
type Notifier struct {
	mu       sync.RWMutex
	byID     map[string]*types.WebhookSubscription
	dataPath string

	registry InstanceLookup
	client   *http.Client
	logger   zerolog.Logger

	bus *events.Bus
	sub *events.Subscriber
}

// Options configures a new Notifier.
type Options struct {
	// DataRoot holds webhooks.json.
	DataRoot string
}

// New loads (or initializes) the subscription table at
// <DataRoot>/webhooks.json.
func New(opts Options, reg InstanceLookup, bus *events.Bus) (*Notifier, error) {
	if err := os.MkdirAll(opts.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}

	n := &Notifier{
		byID:     make(map[string]*types.WebhookSubscription),
		dataPath: filepath.Join(opts.DataRoot, "webhooks.json"),
		registry: reg,
		client:   &http.Client{Timeout: postTimeout},
		logger:   log.WithComponent("notifier"),
		bus:      bus,
	}

	if err := n.load(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Notifier) load() error {
	data, err := os.ReadFile(n.dataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read webhook table: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var sf subscriptionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("webhook table is corrupted, refusing to start: %w", err)
	}
	for _, s := range sf.Subscriptions {
		n.byID[s.ID] = s
	}
	return nil
}

func (n *Notifier) save() error {
	subs := make([]*types.WebhookSubscription, 0, len(n.byID))
	for _, s := range n.byID {
		subs = append(subs, s)
	}
	sf := subscriptionFile{Version: currentSubscriptionFileVersion, Subscriptions: subs}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal webhook table: %w", err)
	}
	tmp := n.dataPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierr.IoError(err, "write webhook table")
	}
	if err := os.Rename(tmp, n.dataPath); err != nil {
		return apierr.IoError(err, "replace webhook table")
	}
	return nil
}

// CreateSubscription persists a new webhook row.
func (n *Notifier) CreateSubscription(instanceID, url string, dialect types.WebhookDialect, kinds []types.WebhookEventKind, enabled bool) (*types.WebhookSubscription, error) {
	if dialect != types.DialectDiscord && dialect != types.DialectGeneric {
		return nil, apierr.InvalidArgument("unsupported webhook dialect %q", dialect)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	evts := make(map[types.WebhookEventKind]bool, len(kinds))
	for _, k := range kinds {
		evts[k] = true
	}

	s := &types.WebhookSubscription{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		URL:        url,
		Dialect:    dialect,
		Events:     evts,
		Enabled:    enabled,
	}
	n.byID[s.ID] = s
	if err := n.save(); err != nil {
		delete(n.byID, s.ID)
		return nil, err
	}
	return cloneSub(s), nil
}

// GetSubscription returns the subscription with id, or NotFound.
func (n *Notifier) GetSubscription(id string) (*types.WebhookSubscription, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.byID[id]
	if !ok {
		return nil, apierr.NotFound("webhook subscription %q", id)
	}
	return cloneSub(s), nil
}

// ListSubscriptions returns every persisted webhook row, optionally
// filtered to a single instance when instanceID is non-empty.
func (n *Notifier) ListSubscriptions(instanceID string) []*types.WebhookSubscription {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*types.WebhookSubscription, 0, len(n.byID))
	for _, s := range n.byID {
		if instanceID != "" && s.InstanceID != instanceID {
			continue
		}
		out = append(out, cloneSub(s))
	}
	return out
}

// UpdateSubscription replaces a row's URL, dialect, event set, and enabled
// flag.
func (n *Notifier) UpdateSubscription(id, url string, dialect types.WebhookDialect, kinds []types.WebhookEventKind, enabled bool) (*types.WebhookSubscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.byID[id]
	if !ok {
		return nil, apierr.NotFound("webhook subscription %q", id)
	}
	evts := make(map[types.WebhookEventKind]bool, len(kinds))
	for _, k := range kinds {
		evts[k] = true
	}
	s.URL = url
	s.Dialect = dialect
	s.Events = evts
	s.Enabled = enabled
	if err := n.save(); err != nil {
		return nil, err
	}
	return cloneSub(s), nil
}

// DeleteSubscription removes a row from the table.
func (n *Notifier) DeleteSubscription(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.byID[id]; !ok {
		return apierr.NotFound("webhook subscription %q", id)
	}
	delete(n.byID, id)
	return n.save()
}

// Start joins events.TopicInstanceEvents and begins dispatching matching
// subscriptions in a background goroutine.
func (n *Notifier) Start() {
	n.sub = n.bus.Subscribe(events.TopicInstanceEvents)
	go n.run()
}

// Stop leaves the bus subscription. In-flight POSTs are abandoned.
func (n *Notifier) Stop() {
	if n.sub != nil {
		n.bus.Unsubscribe(n.sub)
	}
}

func (n *Notifier) run() {
	for ev := range n.sub.Events() {
		ie, ok := ev.Payload.(events.InstanceEvent)
		if !ok {
			continue
		}
		n.dispatch(ie)
	}
}

// dispatch POSTs ie to every enabled subscription that targets ie's
// instance (or no instance, for fleet-wide hooks) and whose event set
// contains ie.Kind.
func (n *Notifier) dispatch(ie events.InstanceEvent) {
	kind := types.WebhookEventKind(ie.Kind)

	n.mu.RLock()
	matches := make([]*types.WebhookSubscription, 0)
	for _, s := range n.byID {
		if !s.Enabled || !s.Events[kind] {
			continue
		}
		if s.InstanceID != "" && s.InstanceID != ie.InstanceID {
			continue
		}
		matches = append(matches, cloneSub(s))
	}
	n.mu.RUnlock()

	if len(matches) == 0 {
		return
	}

	name := ie.InstanceName
	kindLabel := ""
	if n.registry != nil {
		if inst, err := n.registry.Get(ie.InstanceID); err == nil {
			name = inst.Name
			kindLabel = string(inst.Kind)
		}
	}

	for _, s := range matches {
		body, err := buildPayload(s.Dialect, ie, name, kindLabel)
		if err != nil {
			n.logger.Warn().Str("webhook_id", s.ID).Err(err).Msg("failed to build webhook payload")
			continue
		}
		n.post(s, body)
	}
}

func (n *Notifier) post(s *types.WebhookSubscription, body []byte) {
	req, err := http.NewRequest(http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Str("webhook_id", s.ID).Err(err).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Str("webhook_id", s.ID).Err(err).Msg("webhook POST failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn().Str("webhook_id", s.ID).Int("status", resp.StatusCode).Msg("webhook POST rejected")
	}
}

func cloneSub(s *types.WebhookSubscription) *types.WebhookSubscription {
	c := *s
	c.Events = make(map[types.WebhookEventKind]bool, len(s.Events))
	for k, v := range s.Events {
		c.Events[k] = v
	}
	return &c
}
