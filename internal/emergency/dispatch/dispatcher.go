// internal/emergency/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"strings"
	"time"

	apperrors "maternalhub-agent/internal/common/errors"
	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/common/metrics"
	"maternalhub-agent/internal/common/validation"
	"maternalhub-agent/internal/emergency/api"
	"maternalhub-agent/internal/emergency/geo"
	"maternalhub-agent/internal/emergency/store"
	"maternalhub-agent/internal/models"
)

// Dispatcher validates the profile, takes a best-effort location fix and
// submits the alert. Exactly one store write happens on success, none on
// failure. Session-level singleton policy is not its concern.
type Dispatcher struct {
	api    api.Client
	store  store.Store
	geo    geo.Provider // nil when no location capability is configured
	logger logger.Logger
	now    func() time.Time
}

func New(apiClient api.Client, st store.Store, provider geo.Provider, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		api:    apiClient,
		store:  st,
		geo:    provider,
		logger: log.WithFields(map[string]interface{}{"component": "dispatch"}),
		now:    time.Now,
	}
}

// Send submits an emergency alert built from the given profile. A non-nil
// locationHint skips the provider lookup. The returned record has already
// been persisted with status pending.
func (d *Dispatcher) Send(ctx context.Context, profile models.UserProfile, locationHint *models.Location) (*models.EmergencyRecord, error) {
	requester, err := snapshotProfile(profile)
	if err != nil {
		return nil, err
	}

	// Suspicious formats are worth a log line but never block an emergency.
	if !validation.ValidateEmail(requester.Email) {
		d.logger.Warn("profile email looks malformed, sending anyway", map[string]interface{}{"email": requester.Email})
	}
	if !validation.ValidatePhone(requester.Phone) {
		d.logger.Warn("profile phone looks malformed, sending anyway", map[string]interface{}{"phone": requester.Phone})
	}

	location := locationHint
	if location == nil && d.geo != nil {
		fix, geoErr := d.geo.Locate(ctx)
		if geoErr != nil {
			// Emergencies are never blocked on location.
			d.logger.Warn("location fix unavailable, sending alert without location", map[string]interface{}{
				"error": geoErr.Error(),
			})
		} else {
			location = fix
		}
	}

	request := &api.AlertRequest{
		UserData:  requester,
		Location:  location,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}

	d.logger.Info("sending emergency alert", map[string]interface{}{
		"hasLocation": location != nil,
	})

	response, err := d.api.SendAlert(ctx, request)
	if err != nil {
		dispatchErr := classifyDispatchFailure(err)
		metrics.AlertsFailed.WithLabelValues(string(dispatchErr.Code)).Inc()
		return nil, dispatchErr
	}

	record := &models.EmergencyRecord{
		ID:        response.EmergencyID,
		Requester: requester,
		Location:  location,
		Hospitals: response.Hospitals,
		Status:    models.StatusPending,
		CreatedAt: d.now().UTC(),
	}

	if err := d.store.Save(ctx, record); err != nil {
		// The alert is out; losing the local record would strand it, so the
		// persistence failure is the error the caller sees.
		return nil, apperrors.NewDispatchNetworkError(err)
	}

	metrics.AlertsDispatched.Inc()
	d.logger.Info("emergency alert sent", map[string]interface{}{
		"emergencyId": record.ID,
		"hospitals":   len(record.Hospitals),
	})
	return record, nil
}

// snapshotProfile trims and validates the five required fields and freezes
// them into the requester snapshot.
func snapshotProfile(profile models.UserProfile) (models.RequesterInfo, error) {
	requester := models.RequesterInfo{
		Name:   strings.TrimSpace(profile.Name),
		Phone:  strings.TrimSpace(profile.Phone),
		Email:  strings.TrimSpace(profile.Email),
		Age:    profile.Age,
		Gender: strings.TrimSpace(profile.Gender),
	}

	var missing []string
	if requester.Name == "" {
		missing = append(missing, "name")
	}
	if requester.Phone == "" {
		missing = append(missing, "phone")
	}
	if requester.Email == "" {
		missing = append(missing, "email")
	}
	if requester.Age <= 0 {
		missing = append(missing, "age")
	}
	if requester.Gender == "" {
		missing = append(missing, "gender")
	}
	if len(missing) > 0 {
		return models.RequesterInfo{}, apperrors.NewValidationError(missing)
	}

	return requester, nil
}

func classifyDispatchFailure(err error) *apperrors.DispatchError {
	switch {
	case api.IsAuthExpired(err):
		return apperrors.NewDispatchAuthError(err.Error())
	case api.IsClientRejection(err):
		return apperrors.NewDispatchRejectedError(err.Error())
	default:
		return apperrors.NewDispatchNetworkError(err)
	}
}
