package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"apiary/internal/config"
	"apiary/internal/engine"
	"apiary/internal/event"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
)

// webhookDispatcher polls the event store and delivers new events to the
// configured endpoints. Each hook keeps a per-scope cursor so a slow or
// failing endpoint never skips events; delivery resumes from the cursor.
type webhookDispatcher struct {
	engine   *engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client

	mu      sync.Mutex
	cursors map[int]map[string]int // hook index -> scope -> delivered count
}

func startWebhookDispatcher(e *engine.Engine) {
	if e == nil || e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]map[string]int),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	ctx := context.Background()
	scopes, err := d.engine.Store.ListScopes(ctx)
	if err != nil {
		d.engine.Logger.Error("webhook: list scopes failed", "err", err)
		return
	}
	for i, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		for _, scope := range scopes {
			d.dispatchScope(ctx, i, hook, scope)
		}
	}
}

func (d *webhookDispatcher) dispatchScope(ctx context.Context, idx int, hook config.WebhookConfig, scope string) {
	events, err := d.engine.Store.Replay(ctx, scope)
	if err != nil {
		d.engine.Logger.Error("webhook: replay failed", "scope", scope, "err", err)
		return
	}
	cursor := d.cursorFor(idx, scope)
	if cursor >= len(events) {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events[cursor:] {
		if filter.match(evt.Type) {
			if err := d.postEvent(ctx, hook, scope, evt); err != nil {
				d.engine.Logger.Error("webhook: delivery failed", "url", hook.URL, "err", err)
				return
			}
		}
		cursor++
		d.setCursor(idx, scope, cursor)
	}
}

func (d *webhookDispatcher) cursorFor(idx int, scope string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	scopes, ok := d.cursors[idx]
	if !ok {
		scopes = map[string]int{}
		d.cursors[idx] = scopes
	}
	return scopes[scope]
}

func (d *webhookDispatcher) setCursor(idx int, scope string, value int) {
	d.mu.Lock()
	d.cursors[idx][scope] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ScopeID string        `json:"scope_id"`
	Event   EventResponse `json:"event"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, scope string, evt *event.Event) error {
	data, err := json.Marshal(webhookEvent{ScopeID: scope, Event: eventResponse(evt)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Apiary-Event", evt.Type)
	req.Header.Set("X-Apiary-Delivery", evt.ID)
	req.Header.Set("X-Apiary-Scope", scope)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Apiary-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
