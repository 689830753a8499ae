// Package notify delivers audit events to configured webhooks so
// recipients can be reached over outer channels. Delivery is decoupled
// from the ledger: a dead endpoint never blocks a transit operation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/DevanaGroup/titanium/internal/config"
	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/repo"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultHTTPTimeout  = 5 * time.Second
	defaultBatch        = 100
	defaultMaxTries     = 4
)

type Dispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

func NewDispatcher(r repo.Repo, webhooks []config.WebhookConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		repo:     r,
		webhooks: webhooks,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:   logger.Named("notify"),
		interval: defaultPollInterval,
		cursors:  make(map[int]int64),
	}
}

// Run polls the audit trail and delivers new events until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.webhooks) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.repo.AuditEventsAfter(ctx, defaultBatch, cursor)
	if err != nil {
		d.logger.Warn("fetch events failed", zap.Error(err))
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, evt := range evts {
		if !filter.match(evt.Action) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.deliver(ctx, hook, evt); err != nil {
			d.logger.Warn("deliver failed", zap.String("url", hook.URL), zap.Int64("event_id", evt.ID), zap.Error(err))
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// deliver posts one event with exponential backoff. Gives up after a
// few tries; the cursor is left behind so the event is retried on the
// next poll.
func (d *Dispatcher) deliver(ctx context.Context, hook config.WebhookConfig, evt domain.AuditEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if hook.Secret != "" {
			req.Header.Set("X-Titanium-Secret", hook.Secret)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return struct{}{}, nil
	}
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(defaultMaxTries))
	return err
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestAuditEventID(ctx)
	if err != nil {
		d.logger.Warn("init cursor failed", zap.Error(err))
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type actionFilter struct {
	all     bool
	actions map[string]bool
}

func newActionFilter(actions []string) actionFilter {
	if len(actions) == 0 {
		return actionFilter{all: true}
	}
	m := make(map[string]bool, len(actions))
	for _, a := range actions {
		m[a] = true
	}
	return actionFilter{actions: m}
}

func (f actionFilter) match(action string) bool {
	return f.all || f.actions[action]
}
