// Package dispatch runs the timer-driven send loop: it prepares a
// jittered slot schedule each morning, claims one contact per slot,
// and walks the claim through suppression re-check, rendering,
// delivery and durable recording.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-dispatcher/internal/config"
	"github.com/ignite/outreach-dispatcher/internal/content"
	"github.com/ignite/outreach-dispatcher/internal/domain"
	"github.com/ignite/outreach-dispatcher/internal/pkg/logger"
	"github.com/ignite/outreach-dispatcher/internal/slots"
)

// slotTimeout bounds one slot execution end to end. Slot callbacks run
// on their own context so Stop never interrupts an in-flight send.
const slotTimeout = 2 * time.Minute

// ContactStore is the persistence surface the engine needs.
type ContactStore interface {
	ClaimNextForStage(ctx context.Context, identity string, stage int) (*domain.Contact, error)
	RecordSent(ctx context.Context, contactID int64, identity string, stage int, messageID, outcome string) error
	UpdateStatus(ctx context.Context, email string, status domain.ContactStatus) error
	ScanStaleClaims(ctx context.Context, maxAge time.Duration) ([]domain.Contact, error)
	CandidateEmails(ctx context.Context, identity string, stage int, limit int) ([]string, error)
}

// SuppressionChecker is the authoritative last gate before delivery.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Renderer produces the message for a contact at a stage.
type Renderer interface {
	Render(contact *domain.Contact, stage int) (content.Message, error)
}

// Transport hands the rendered message to the email vendor.
type Transport interface {
	Send(ctx context.Context, identity string, contact *domain.Contact, msg content.Message) (string, error)
}

// Notifier pushes operator alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Options wires the engine's collaborators and policy.
type Options struct {
	Store       ContactStore
	Suppression SuppressionChecker
	Renderer    Renderer
	Transport   Transport
	Notifier    Notifier

	Roster   config.RosterConfig
	Windows  config.WindowsConfig
	Sequence domain.Sequence
	Dispatch config.DispatchConfig
	Location *time.Location

	// Clock and Rand are test hooks; nil means real time and a
	// time-seeded source.
	Clock func() time.Time
	Rand  *rand.Rand
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Sent            int64 `json:"sent"`
	Failed          int64 `json:"failed"`
	SkippedSuppress int64 `json:"skipped_suppressed"`
	SlotsNoWork     int64 `json:"slots_no_work"`
}

// Engine is the dispatcher's scheduling and execution core.
type Engine struct {
	opts  Options
	clock func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	timers  []*time.Timer
	wg      sync.WaitGroup

	cacheMu sync.Mutex
	caches  map[string]*candidateCache

	sent            int64
	failed          int64
	skippedSuppress int64
	slotsNoWork     int64
}

// New creates an engine. Start must be called before slots fire.
func New(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		opts:   opts,
		clock:  clock,
		caches: make(map[string]*candidateCache),
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, message string) error { return nil }

// Start prepares today's remaining schedule immediately and launches
// the daily prepare loop and the stale-claim scanner. Calling Start on
// a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	ctx := e.ctx
	e.mu.Unlock()

	logger.Info("dispatch engine starting",
		"identities", fmt.Sprintf("%d", len(e.opts.Roster.Identities)),
		"timezone", e.opts.Location.String())

	e.PrepareDailyQueue()

	e.wg.Add(2)
	go e.prepareLoop(ctx)
	go e.staleScanLoop(ctx)
}

// Stop cancels all pending slot timers and waits for in-flight slot
// executions to finish. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	logger.Info("dispatch engine stopped", "stats", fmt.Sprintf("%+v", e.Snapshot()))
}

// Snapshot returns the current counters.
func (e *Engine) Snapshot() Stats {
	return Stats{
		Sent:            atomic.LoadInt64(&e.sent),
		Failed:          atomic.LoadInt64(&e.failed),
		SkippedSuppress: atomic.LoadInt64(&e.skippedSuppress),
		SlotsNoWork:     atomic.LoadInt64(&e.slotsNoWork),
	}
}

// prepareLoop re-prepares the queue at the configured local hour every
// day. The immediate prepare in Start covers restarts mid-day.
func (e *Engine) prepareLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		now := e.clock().In(e.opts.Location)
		next := time.Date(now.Year(), now.Month(), now.Day(), e.opts.Dispatch.PrepareHour, 0, 0, 0, e.opts.Location)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.PrepareDailyQueue()
		}
	}
}

// PrepareDailyQueue regenerates the slot schedule for the rest of the
// current day and arms one timer per slot. Timers from a previous
// preparation are dropped first.
func (e *Engine) PrepareDailyQueue() {
	now := e.clock().In(e.opts.Location)
	dayType := domain.DayTypeFor(now)

	generated := slots.Generate(slots.Params{
		Day:        now,
		Now:        now,
		DayType:    dayType,
		Identities: e.opts.Roster.Identities,
		Windows:    e.opts.Windows.For(dayType),
		HighVolume: e.opts.Roster.HighVolume,
		Rand:       e.opts.Rand,
	})

	e.mu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = e.timers[:0]

	grace := e.opts.Dispatch.MisfireGrace()
	armed := 0
	for _, s := range generated {
		slot := s
		delay := slot.ScheduledAt.Sub(now)
		if delay < 0 {
			if -delay > grace {
				continue
			}
			// Late but within grace: fire immediately, once.
			delay = 0
		}
		e.timers = append(e.timers, time.AfterFunc(delay, func() {
			e.runSlot(slot)
		}))
		armed++
	}
	e.mu.Unlock()

	logger.Info("daily queue prepared",
		"day_type", string(dayType),
		"slots", fmt.Sprintf("%d", armed))
	e.logUpcoming(generated, 5)
}

func (e *Engine) logUpcoming(schedule []domain.SendSlot, limit int) {
	for i, s := range schedule {
		if i >= limit {
			break
		}
		logger.Info("upcoming send", "slot", s.String())
	}
}

// runSlot is the timer callback. It refuses to start after Stop and
// registers with the wait group so Stop can drain in-flight work.
func (e *Engine) runSlot(slot domain.SendSlot) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), slotTimeout)
	defer cancel()
	e.ExecuteSlot(ctx, slot.Identity, slot.ScheduledAt)
}

// ExecuteSlot performs one send opportunity for the identity. Deeper
// follow-up stages take priority over new first-touch sends; the slot
// is spent on the first stage that yields a claim.
func (e *Engine) ExecuteSlot(ctx context.Context, identity string, scheduledAt time.Time) {
	stages := append(e.opts.Sequence.FollowUpStages(), 1)
	for _, stage := range stages {
		contact, err := e.claimWithRetry(ctx, identity, stage)
		if err != nil {
			logger.Error("claim failed after retries",
				"identity", identity,
				"stage", fmt.Sprintf("%d", stage),
				"error", err.Error())
			return
		}
		if contact == nil {
			continue
		}
		e.process(ctx, identity, stage, contact)
		return
	}

	atomic.AddInt64(&e.slotsNoWork, 1)
	logger.Debug("slot found no eligible contact", "identity", identity)
}

// claimWithRetry wraps claim with the same bounded backoff used for
// recording sends. A transient storage blip must not forfeit a slot.
func (e *Engine) claimWithRetry(ctx context.Context, identity string, stage int) (*domain.Contact, error) {
	maxRetries := e.opts.Dispatch.ClaimMaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var contact *domain.Contact
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		contact, err = e.claim(ctx, identity, stage)
		if err == nil {
			return contact, nil
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				attempt = maxRetries
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return nil, err
}

// claim consults the candidate cache, then performs the authoritative
// atomic claim. The cache only ever suppresses a query when a recent
// refresh proved the stage empty.
func (e *Engine) claim(ctx context.Context, identity string, stage int) (*domain.Contact, error) {
	cache := e.cacheFor(identity, stage)
	now := e.clock()

	if cache.provenEmpty(now) {
		return nil, nil
	}
	if cache.stale(now) {
		emails, err := e.opts.Store.CandidateEmails(ctx, identity, stage, e.opts.Dispatch.CandidateCacheSize)
		if err != nil {
			logger.Warn("candidate cache refresh failed",
				"identity", identity,
				"stage", fmt.Sprintf("%d", stage),
				"error", err.Error())
		} else {
			cache.replace(emails, now)
			if len(emails) == 0 {
				return nil, nil
			}
		}
	}
	cache.pop()

	return e.opts.Store.ClaimNextForStage(ctx, identity, stage)
}

func (e *Engine) cacheFor(identity string, stage int) *candidateCache {
	key := fmt.Sprintf("%s|%d", identity, stage)
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if c, ok := e.caches[key]; ok {
		return c
	}
	ttl := e.opts.Dispatch.Stage1CacheTTL()
	if stage > 1 {
		ttl = e.opts.Dispatch.FollowUpCacheTTL()
	}
	c := newCandidateCache(ttl)
	e.caches[key] = c
	return c
}

// process walks one claimed contact through suppression re-check,
// rendering, delivery and recording. Any failure leaves the claim in
// place: a contact with an uncertain outcome must never re-enter the
// eligible pool on its own.
func (e *Engine) process(ctx context.Context, identity string, stage int, contact *domain.Contact) {
	suppressed, err := e.opts.Suppression.IsSuppressed(ctx, contact.Email)
	if err != nil {
		atomic.AddInt64(&e.failed, 1)
		logger.Error("suppression check failed, abandoning slot",
			"email", contact.Email, "error", err.Error())
		return
	}
	if suppressed {
		atomic.AddInt64(&e.skippedSuppress, 1)
		logger.Warn("claimed contact is suppressed, skipping delivery",
			"email", contact.Email,
			"identity", identity,
			"stage", fmt.Sprintf("%d", stage))
		if err := e.opts.Store.UpdateStatus(ctx, contact.Email, domain.StatusSuppressed); err != nil {
			logger.Error("status update failed for suppressed contact",
				"email", contact.Email, "error", err.Error())
		}
		// Nothing was delivered, so the skip is recorded as the claim's
		// outcome; otherwise the stale scanner would flag this claim on
		// every cycle.
		if err := e.opts.Store.RecordSent(ctx, contact.ID, identity, stage, "", "suppressed"); err != nil {
			logger.Error("could not resolve claim for suppressed contact, claim left for review",
				"email", contact.Email, "error", err.Error())
		}
		return
	}

	msg, err := e.opts.Renderer.Render(contact, stage)
	if err != nil {
		atomic.AddInt64(&e.failed, 1)
		logger.Error("render failed, claim left for review",
			"email", contact.Email,
			"stage", fmt.Sprintf("%d", stage),
			"error", err.Error())
		return
	}

	messageID, err := e.opts.Transport.Send(ctx, identity, contact, msg)
	if err != nil {
		atomic.AddInt64(&e.failed, 1)
		logger.Error("delivery failed, claim left for review",
			"email", contact.Email,
			"identity", identity,
			"stage", fmt.Sprintf("%d", stage),
			"error", err.Error())
		return
	}

	e.recordSent(ctx, contact, identity, stage, messageID)
}

// recordSent persists the outcome with bounded retries. A send that
// happened but cannot be recorded is the worst state in the system, so
// exhaustion alerts the operator instead of failing silently.
func (e *Engine) recordSent(ctx context.Context, contact *domain.Contact, identity string, stage int, messageID string) {
	maxRetries := e.opts.Dispatch.RecordSentMaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = e.opts.Store.RecordSent(ctx, contact.ID, identity, stage, messageID, "sent")
		if err == nil {
			atomic.AddInt64(&e.sent, 1)
			logger.Info("sent",
				"email", contact.Email,
				"identity", identity,
				"stage", fmt.Sprintf("%d", stage),
				"message_id", messageID)
			return
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				attempt = maxRetries
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	atomic.AddInt64(&e.failed, 1)
	logger.Error("send delivered but not recorded, manual intervention required",
		"email", contact.Email,
		"identity", identity,
		"stage", fmt.Sprintf("%d", stage),
		"message_id", messageID,
		"error", err.Error())
	alert := fmt.Sprintf("DISPATCH: delivered message %s (stage %d via %s) but failed to record it: %v",
		messageID, stage, identity, err)
	if nerr := e.opts.Notifier.Notify(ctx, alert); nerr != nil {
		logger.Error("operator alert failed", "error", nerr.Error())
	}
}
