// internal/emergency/session.go

// Package emergency is the public surface of the emergency-alert subsystem:
// one session object owning the dispatcher, the status reconciler and the
// durable store. The rest of the application only talks to the Session.
package emergency

import (
	"context"
	"sync"

	apperrors "maternalhub-agent/internal/common/errors"
	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/emergency/api"
	"maternalhub-agent/internal/emergency/dispatch"
	"maternalhub-agent/internal/emergency/geo"
	"maternalhub-agent/internal/emergency/notify"
	"maternalhub-agent/internal/emergency/reconcile"
	"maternalhub-agent/internal/emergency/store"
	"maternalhub-agent/internal/models"
)

// Session tracks at most one active emergency for the logged-in user. It is
// constructed explicitly and passed by reference; there is no package-level
// singleton.
type Session struct {
	api        api.Client
	store      store.Store
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	notifier   notify.Notifier
	logger     logger.Logger

	// sendMu serializes Send/Cancel/Resume so the singleton guard cannot be
	// raced past by two concurrent sends.
	sendMu sync.Mutex
}

// Options bundles the session dependencies.
type Options struct {
	API       api.Client
	Store     store.Store
	Geo       geo.Provider // optional
	Notifier  notify.Notifier
	Reconcile reconcile.Config
	Logger    logger.Logger
}

func NewSession(opts Options) *Session {
	log := opts.Logger.WithFields(map[string]interface{}{"component": "emergency"})
	return &Session{
		api:        opts.API,
		store:      opts.Store,
		dispatcher: dispatch.New(opts.API, opts.Store, opts.Geo, opts.Logger),
		reconciler: reconcile.New(opts.Reconcile, opts.API, opts.Store, opts.Notifier, opts.Logger),
		notifier:   opts.Notifier,
		logger:     log,
	}
}

// Active returns the tracked emergency record, or nil when none is active.
func (s *Session) Active() *models.EmergencyRecord {
	return s.reconciler.Active()
}

// RespondedHospital returns the first responder, or nil.
func (s *Session) RespondedHospital() *models.Hospital {
	return s.reconciler.RespondedHospital()
}

// Send dispatches a new emergency alert. At most one emergency may be active
// per session: a second send fails fast with a ConflictError before any
// network call. On success the reconciler starts polling immediately.
func (s *Session) Send(ctx context.Context, profile models.UserProfile, locationHint *models.Location) (*models.EmergencyRecord, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if active := s.reconciler.Active(); active.IsActive() {
		return nil, apperrors.NewConflictError(active.ID)
	}

	record, err := s.dispatcher.Send(ctx, profile, locationHint)
	if err != nil {
		return nil, err
	}

	s.reconciler.Track(record)
	s.notify(ctx, notify.Event{
		Kind:    notify.KindAlertSent,
		Message: "Emergency alert sent to nearby hospitals!",
	})
	return record.Clone(), nil
}

// Cancel requests server-side cancellation and clears local state. Local
// cleanup is unconditional: a stale "active" record is worse for a safety
// feature than an optimistic clear, and the reconciler's cancelled/not-found
// detection is the backstop if the server disagrees.
func (s *Session) Cancel(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	active := s.reconciler.Active()
	if active == nil {
		return nil
	}

	var cancelErr error
	if active.ID != "" {
		if err := s.api.Cancel(ctx, active.ID); err != nil && !api.IsNotFound(err) {
			cancelErr = err
			s.logger.Error("server-side cancellation failed, clearing locally anyway", map[string]interface{}{
				"emergencyId": active.ID,
				"error":       err.Error(),
			})
			s.notify(ctx, notify.Event{
				Kind:    notify.KindCancelNotSynced,
				Message: "Cancellation may not have reached the server. It will be reconciled automatically.",
			})
		}
	}

	s.reconciler.Clear(ctx)

	if cancelErr == nil {
		s.notify(ctx, notify.Event{
			Kind:    notify.KindCancelled,
			Message: "Emergency alert cancelled",
		})
	}
	return nil
}

// Resume consults the store on application start and, if an active record
// survived the restart, resumes polling for it without a new Send.
func (s *Session) Resume(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	record, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if !record.IsActive() {
		return nil
	}

	s.logger.Info("resuming emergency tracking after restart", map[string]interface{}{
		"emergencyId": record.ID,
		"status":      record.Status,
	})
	s.reconciler.Track(record)
	return nil
}

// ResumePolling lifts an auth-expired suspension after re-authentication.
func (s *Session) ResumePolling() {
	s.reconciler.ResumePolling()
}

// HandlePushEvent feeds a realtime hospital-response event into the merge.
func (s *Session) HandlePushEvent(event models.HospitalResponseEvent) {
	s.reconciler.HandlePushEvent(event)
}

// Close stops the poll loop without touching persisted state, so a later
// Resume picks the emergency back up.
func (s *Session) Close() {
	s.reconciler.Stop()
}

func (s *Session) notify(ctx context.Context, event notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, event)
	}
}
