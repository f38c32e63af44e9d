// internal/emergency/reconcile/reconciler.go
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/common/metrics"
	"maternalhub-agent/internal/emergency/api"
	"maternalhub-agent/internal/emergency/notify"
	"maternalhub-agent/internal/emergency/store"
	"maternalhub-agent/internal/models"
)

// Config holds the reconciler timing knobs.
type Config struct {
	PollInterval        time.Duration
	RateLimitedInterval time.Duration
	StoreTimeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.RateLimitedInterval == 0 {
		// keep the same interval on 429 rather than inventing a backoff
		c.RateLimitedInterval = c.PollInterval
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = 5 * time.Second
	}
}

// Reconciler keeps the local emergency record consistent with the hub. It
// polls on a fixed period while a record is active and merges asynchronous
// push events through the same merge rule, so the order between poll and
// push is immaterial.
//
// All record mutation funnels through this type; the dispatcher only ever
// creates records.
type Reconciler struct {
	cfg      Config
	api      api.Client
	store    store.Store
	notifier notify.Notifier
	logger   logger.Logger

	mu          sync.Mutex
	record      *models.EmergencyRecord
	inFlight    bool
	suspended   bool
	generation  int
	failures    int
	rateLimited bool

	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

func New(cfg Config, apiClient api.Client, st store.Store, notifier notify.Notifier, log logger.Logger) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		cfg:      cfg,
		api:      apiClient,
		store:    st,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "reconcile"}),
	}
}

// Track starts reconciling the given record: immediate status poll, then the
// fixed period. Called after a successful dispatch or on resume-from-store.
func (r *Reconciler) Track(record *models.EmergencyRecord) {
	if !record.IsActive() || record.ID == "" {
		return
	}

	r.mu.Lock()
	r.record = record.Clone()
	r.suspended = false
	r.failures = 0
	r.generation++
	gen := r.generation
	metrics.ActiveEmergency.Set(1)

	if !r.running {
		r.running = true
		r.stopCh = make(chan struct{})
		r.wg.Add(1)
		go r.run(gen, r.stopCh)
	}
	r.mu.Unlock()

	r.logger.Info("tracking emergency", map[string]interface{}{
		"emergencyId": record.ID,
		"status":      record.Status,
	})
}

// Stop tears the poll loop down synchronously. No tick fires after it
// returns, and a response already in flight is discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.generation++
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
}

// Clear drops the tracked record and its persisted copy. Used by the local
// cancellation path; clearing is unconditional.
func (r *Reconciler) Clear(ctx context.Context) {
	r.mu.Lock()
	r.record = nil
	r.generation++
	r.failures = 0
	metrics.ActiveEmergency.Set(0)
	r.mu.Unlock()

	if err := r.store.Clear(ctx); err != nil {
		r.logger.Error("failed to clear emergency store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	r.Stop()
}

// Active returns a copy of the tracked record, or nil.
func (r *Reconciler) Active() *models.EmergencyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Clone()
}

// RespondedHospital returns the first responder, or nil if none yet.
func (r *Reconciler) RespondedHospital() *models.Hospital {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil || r.record.RespondedHospital == nil {
		return nil
	}
	h := *r.record.RespondedHospital
	return &h
}

// Suspended reports whether polling is paused waiting for re-authentication.
func (r *Reconciler) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// ResumePolling lifts an auth-expired suspension and polls immediately.
func (r *Reconciler) ResumePolling() {
	r.mu.Lock()
	if !r.suspended {
		r.mu.Unlock()
		return
	}
	r.suspended = false
	gen := r.generation
	r.mu.Unlock()

	r.logger.Info("polling resumed after re-authentication", nil)
	go r.pollOnce(gen)
}

// HandlePushEvent merges an asynchronous hospital-response event. Events for
// an unknown or absent emergency are dropped; the merge rule is the same one
// the poll path uses, so duplicates and stale responders are no-ops.
func (r *Reconciler) HandlePushEvent(event models.HospitalResponseEvent) {
	r.mu.Lock()
	if r.record == nil || r.record.ID != event.EmergencyID {
		metrics.PushEventsDropped.Inc()
		r.mu.Unlock()
		return
	}
	events := r.mergeRespondedLocked("push", event.Hospital)
	r.mu.Unlock()

	r.emit(events)
}

func (r *Reconciler) currentGeneration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Reconciler) run(gen int, stopCh chan struct{}) {
	defer r.wg.Done()

	// immediate tick on entering Polling
	r.pollOnce(gen)

	ticker := time.NewTicker(r.pollDelay())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.pollOnce(r.currentGeneration())
		}

		r.mu.Lock()
		done := r.record == nil
		if done {
			r.running = false
		}
		r.mu.Unlock()
		if done {
			return
		}
		ticker.Reset(r.pollDelay())
	}
}

// pollDelay is the interval until the next tick: the rate-limited interval
// while the hub is throttling us, the regular one otherwise.
func (r *Reconciler) pollDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rateLimited {
		return r.cfg.RateLimitedInterval
	}
	return r.cfg.PollInterval
}

// pollOnce performs a single status check. A tick that arrives while a
// request is in flight is skipped entirely, never queued.
func (r *Reconciler) pollOnce(gen int) {
	r.mu.Lock()
	if gen != r.generation || r.record == nil || r.suspended {
		r.mu.Unlock()
		return
	}
	if r.inFlight {
		r.logger.Debug("skipping status check, request already in progress", nil)
		metrics.StatusPolls.WithLabelValues("skipped_in_flight").Inc()
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	emergencyID := r.record.ID
	r.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PollInterval)
	response, err := r.api.GetStatus(ctx, emergencyID)
	cancel()
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	r.inFlight = false
	if gen != r.generation || r.record == nil {
		// torn down while the request was in flight; discard the result
		r.mu.Unlock()
		return
	}

	var events []notify.Event
	if err != nil {
		events = r.handlePollFailureLocked(emergencyID, err)
	} else {
		events = r.handleStatusLocked(emergencyID, &response.Emergency)
	}
	r.mu.Unlock()

	r.emit(events)
}

func (r *Reconciler) handleStatusLocked(emergencyID string, status *api.EmergencyStatus) []notify.Event {
	r.failures = 0
	r.rateLimited = false

	switch status.Status {
	case models.StatusResponded:
		metrics.StatusPolls.WithLabelValues("ok").Inc()
		if status.RespondedHospital == nil {
			return nil
		}
		return r.mergeRespondedLocked("poll", status.RespondedHospital.ToHospital())

	case models.StatusCancelled:
		metrics.StatusPolls.WithLabelValues("cancelled").Inc()
		r.logger.Info("emergency was cancelled remotely", map[string]interface{}{
			"emergencyId": emergencyID,
		})
		r.clearLocked()
		return []notify.Event{{
			Kind:    notify.KindCancelled,
			Message: "Emergency was cancelled",
		}}

	default:
		metrics.StatusPolls.WithLabelValues("ok").Inc()
		return nil
	}
}

func (r *Reconciler) handlePollFailureLocked(emergencyID string, err error) []notify.Event {
	r.rateLimited = api.IsRateLimited(err)

	switch {
	case api.IsAuthExpired(err):
		metrics.StatusPolls.WithLabelValues("auth_expired").Inc()
		if r.suspended {
			return nil
		}
		// The emergency may still be legitimately active: keep the record,
		// pause polling until ResumePolling.
		r.suspended = true
		r.logger.Warn("authentication expired, polling suspended", map[string]interface{}{
			"emergencyId": emergencyID,
		})
		return []notify.Event{{
			Kind:    notify.KindAuthExpired,
			Message: "Authentication expired. Please log in again to keep tracking the emergency.",
		}}

	case api.IsNotFound(err):
		metrics.StatusPolls.WithLabelValues("not_found").Inc()
		r.logger.Info("emergency no longer exists on the hub, clearing local state", map[string]interface{}{
			"emergencyId": emergencyID,
		})
		// Treated as already resolved; no user-facing error.
		r.clearLocked()
		return nil

	case api.IsRateLimited(err):
		metrics.StatusPolls.WithLabelValues("rate_limited").Inc()
		r.logger.Warn("rate limited by the hub, skipping this tick", map[string]interface{}{
			"emergencyId":  emergencyID,
			"nextInterval": r.cfg.RateLimitedInterval.String(),
		})
		return nil

	default:
		metrics.StatusPolls.WithLabelValues("error").Inc()
		r.failures++
		r.logger.Error("status check failed", map[string]interface{}{
			"emergencyId":         emergencyID,
			"consecutiveFailures": r.failures,
			"error":               err.Error(),
		})
		// polling is resilient: transient failures never stop the loop
		return nil
	}
}

// mergeRespondedLocked is the single merge rule for responder identity,
// shared by the poll and push paths. First responder wins; re-announcements
// of the same hospital are idempotent.
func (r *Reconciler) mergeRespondedLocked(source string, hospital models.Hospital) []notify.Event {
	if r.record == nil {
		metrics.ResponderMerges.WithLabelValues(source, "dropped").Inc()
		return nil
	}

	if current := r.record.RespondedHospital; current != nil {
		if current.ID == hospital.ID {
			metrics.ResponderMerges.WithLabelValues(source, "duplicate").Inc()
		} else {
			metrics.ResponderMerges.WithLabelValues(source, "stale").Inc()
			r.logger.Debug("ignoring late responder, first responder wins", map[string]interface{}{
				"kept":    current.ID,
				"ignored": hospital.ID,
				"source":  source,
			})
		}
		return nil
	}

	r.record.RespondedHospital = &hospital
	r.record.Status = models.StatusResponded
	r.persistLocked()
	metrics.ResponderMerges.WithLabelValues(source, "merged").Inc()

	r.logger.Info("hospital responded", map[string]interface{}{
		"emergencyId": r.record.ID,
		"hospitalId":  hospital.ID,
		"source":      source,
	})
	responded := hospital
	return []notify.Event{{
		Kind:     notify.KindHospitalResponded,
		Message:  fmt.Sprintf("%s has responded to your emergency!", hospital.Name),
		Hospital: &responded,
	}}
}

// persistLocked writes the in-memory record through to the store so a reload
// reconstructs identical state.
func (r *Reconciler) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()
	if err := r.store.Save(ctx, r.record); err != nil {
		r.logger.Error("failed to persist emergency record", map[string]interface{}{
			"emergencyId": r.record.ID,
			"error":       err.Error(),
		})
	}
}

func (r *Reconciler) clearLocked() {
	r.record = nil
	r.failures = 0
	metrics.ActiveEmergency.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()
	if err := r.store.Clear(ctx); err != nil {
		r.logger.Error("failed to clear emergency store", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (r *Reconciler) emit(events []notify.Event) {
	if r.notifier == nil {
		return
	}
	for _, event := range events {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		r.notifier.Notify(ctx, event)
		cancel()
	}
}
