package events

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fossabot/authrim-sub000/internal/sanitize"
)

const (
	// DenyCodeTimeout is the deny code for before-hooks that exceed
	// their timeout. Timeouts always deny; other hook failures do not.
	DenyCodeTimeout   = "HOOK_TIMEOUT"
	denyReasonTimeout = "Hook timeout"
)

// WebhookSink is the narrow seam to the webhook delivery layer. SSRF
// checks and payload signing live below it.
type WebhookSink interface {
	Deliver(ctx context.Context, evt *UnifiedEvent) error
}

// DispatcherConfig carries the hook timeout defaults.
type DispatcherConfig struct {
	BeforeTimeout time.Duration
	AfterTimeout  time.Duration
	DedupTTL      time.Duration
}

// Dispatcher publishes unified events: dedup probe, before-hooks
// (blocking, may deny), handler fan-out, after-hooks (sync or async),
// and live subscriber channels.
type Dispatcher struct {
	before   *BeforeHookRegistry
	after    *AfterHookRegistry
	handlers *HandlerRegistry
	dedup    DedupCache
	webhooks WebhookSink
	cfg      DispatcherConfig
	logger   *log.Logger

	subMu       sync.RWMutex
	subscribers []chan *UnifiedEvent

	published    atomic.Int64
	denied       atomic.Int64
	deduplicated atomic.Int64
}

func NewDispatcher(before *BeforeHookRegistry, after *AfterHookRegistry, handlers *HandlerRegistry, dedup DedupCache, cfg DispatcherConfig) *Dispatcher {
	if cfg.BeforeTimeout <= 0 {
		cfg.BeforeTimeout = 5 * time.Second
	}
	if cfg.AfterTimeout <= 0 {
		cfg.AfterTimeout = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &Dispatcher{
		before:   before,
		after:    after,
		handlers: handlers,
		dedup:    dedup,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// SetWebhookSink attaches the webhook delivery layer. Without a sink,
// webhook delivery counts report skipped.
func (d *Dispatcher) SetWebhookSink(sink WebhookSink) {
	d.webhooks = sink
}

// PublishResult reports what happened to a published event.
type PublishResult struct {
	EventID      string   `json:"event_id"`
	Success      bool     `json:"success"`
	Timestamp    string   `json:"timestamp"`
	Delivery     Delivery `json:"delivery"`
	Errors       []string `json:"errors,omitempty"`
	Deduplicated bool     `json:"deduplicated,omitempty"`
	DenyCode     string   `json:"deny_code,omitempty"`
}

type Delivery struct {
	Webhooks DeliveryCounts `json:"webhooks"`
	Handlers DeliveryCounts `json:"handlers"`
	AuditLog bool           `json:"audit_log"`
}

type DeliveryCounts struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// BeforeOutcome is the aggregate verdict of the before-hook pipeline.
// Annotations are merged left-to-right; later hooks overwrite keys.
type BeforeOutcome struct {
	Continue    bool
	Annotations map[string]interface{}
	DenyReason  string
	DenyCode    string
}

// Publish runs the full pipeline for one event.
func (d *Dispatcher) Publish(ctx context.Context, evt *UnifiedEvent) (*PublishResult, error) {
	if evt.ID == "" {
		evt.ID = "evt_" + uuid.NewString()
	}
	if evt.Timestamp == "" {
		evt.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	result := &PublishResult{EventID: evt.ID, Timestamp: evt.Timestamp}

	if d.dedup != nil {
		key := evt.DeduplicationKey
		if key == "" {
			key = evt.ID
		}
		seen, err := d.dedup.Seen(ctx, key, d.cfg.DedupTTL)
		if err != nil {
			// A broken dedup backend must not block publication.
			d.logger.Printf("Dedup probe failed for %s: %v", evt.ID, err)
		} else if seen {
			d.deduplicated.Add(1)
			result.Deduplicated = true
			result.Success = true
			return result, nil
		}
	}

	outcome := d.RunBeforeHooks(ctx, evt)
	if !outcome.Continue {
		d.denied.Add(1)
		result.Errors = append(result.Errors, outcome.DenyReason)
		result.DenyCode = outcome.DenyCode
		return result, nil
	}
	if len(outcome.Annotations) > 0 {
		if evt.Data == nil {
			evt.Data = make(map[string]interface{})
		}
		evt.Data["annotations"] = outcome.Annotations
	}

	result.Delivery.Handlers = d.runHandlers(ctx, evt)
	result.Delivery.Webhooks = d.deliverWebhooks(ctx, evt)
	d.runAfterHooks(ctx, evt, result)

	d.broadcast(evt)

	d.logger.Printf("Published %s (%s) tenant=%s data=%v", evt.Type, evt.ID, evt.TenantID, sanitize.Value(evt.Data))
	result.Delivery.AuditLog = true
	result.Success = len(result.Errors) == 0
	d.published.Add(1)
	return result, nil
}

// RunBeforeHooks executes matching before-hooks sequentially in priority
// order. A timeout denies the event; any other hook failure is logged
// and treated as continue. Execution stops at the first deny.
func (d *Dispatcher) RunBeforeHooks(ctx context.Context, evt *UnifiedEvent) *BeforeOutcome {
	outcome := &BeforeOutcome{Continue: true}
	if d.before == nil {
		return outcome
	}

	for _, h := range d.before.GetByEventType(evt.Type) {
		decision, timedOut := d.runBeforeHook(ctx, h, evt)
		if timedOut {
			d.logger.Printf("Before-hook %s timed out on %s, denying", h.ID, evt.Type)
			outcome.Continue = false
			outcome.DenyReason = denyReasonTimeout
			outcome.DenyCode = DenyCodeTimeout
			return outcome
		}
		if decision == nil {
			continue
		}
		if len(decision.Annotations) > 0 {
			if outcome.Annotations == nil {
				outcome.Annotations = make(map[string]interface{})
			}
			for k, v := range decision.Annotations {
				outcome.Annotations[k] = v
			}
		}
		if !decision.Continue {
			outcome.Continue = false
			outcome.DenyReason = decision.DenyReason
			outcome.DenyCode = decision.DenyCode
			return outcome
		}
	}
	return outcome
}

type beforeResult struct {
	decision *HookDecision
	err      error
}

func (d *Dispatcher) runBeforeHook(ctx context.Context, h *BeforeHook, evt *UnifiedEvent) (decision *HookDecision, timedOut bool) {
	timeout := d.cfg.BeforeTimeout
	if h.TimeoutMs > 0 {
		timeout = time.Duration(h.TimeoutMs) * time.Millisecond
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan beforeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- beforeResult{err: fmt.Errorf("before-hook %s panicked: %v", h.ID, r)}
			}
		}()
		dec, err := h.Handler(hctx, evt)
		ch <- beforeResult{decision: dec, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			// Fail-open for incidental errors; only timeouts deny.
			d.logger.Printf("Before-hook %s failed on %s: %v", h.ID, evt.Type, res.err)
			return nil, false
		}
		return res.decision, false
	case <-hctx.Done():
		return nil, true
	}
}

func (d *Dispatcher) runHandlers(ctx context.Context, evt *UnifiedEvent) DeliveryCounts {
	var counts DeliveryCounts
	if d.handlers == nil {
		return counts
	}
	for _, h := range d.handlers.GetByEventType(evt.Type) {
		if err := h.Fn(ctx, evt); err != nil {
			d.logger.Printf("Handler %s failed on %s: %v", h.ID, evt.Type, err)
			counts.Failed++
			continue
		}
		counts.Sent++
	}
	return counts
}

func (d *Dispatcher) deliverWebhooks(ctx context.Context, evt *UnifiedEvent) DeliveryCounts {
	var counts DeliveryCounts
	if d.webhooks == nil {
		return counts
	}
	if err := d.webhooks.Deliver(ctx, evt); err != nil {
		d.logger.Printf("Webhook delivery failed for %s: %v", evt.ID, err)
		counts.Failed++
		return counts
	}
	counts.Sent++
	return counts
}

func (d *Dispatcher) runAfterHooks(ctx context.Context, evt *UnifiedEvent, result *PublishResult) {
	if d.after == nil {
		return
	}
	for _, h := range d.after.GetByEventType(evt.Type) {
		timeout := d.cfg.AfterTimeout
		if h.TimeoutMs > 0 {
			timeout = time.Duration(h.TimeoutMs) * time.Millisecond
		}

		if h.Async {
			hook := h
			go func() {
				actx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := hook.Handler(actx, evt); err != nil {
					d.logger.Printf("Async after-hook %s failed on %s: %v", hook.ID, evt.Type, err)
				}
			}()
			continue
		}

		actx, cancel := context.WithTimeout(ctx, timeout)
		err := h.Handler(actx, evt)
		cancel()
		if err != nil {
			if h.StopOnError {
				result.Errors = append(result.Errors, fmt.Sprintf("after-hook %s: %v", h.ID, err))
				return
			}
			d.logger.Printf("After-hook %s failed on %s: %v", h.ID, evt.Type, err)
		}
	}
}

// Subscribe returns a channel receiving every published event. Slow
// subscribers drop events rather than block publication.
func (d *Dispatcher) Subscribe() chan *UnifiedEvent {
	ch := make(chan *UnifiedEvent, 100)
	d.subMu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.subMu.Unlock()
	return ch
}

func (d *Dispatcher) Unsubscribe(ch chan *UnifiedEvent) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	filtered := d.subscribers[:0]
	for _, s := range d.subscribers {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	d.subscribers = filtered
	close(ch)
}

func (d *Dispatcher) broadcast(evt *UnifiedEvent) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Stats returns dispatcher counters for the stats endpoint.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.subMu.RLock()
	subs := len(d.subscribers)
	d.subMu.RUnlock()

	return map[string]interface{}{
		"published":    d.published.Load(),
		"denied":       d.denied.Load(),
		"deduplicated": d.deduplicated.Load(),
		"subscribers":  subs,
	}
}
