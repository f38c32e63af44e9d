// internal/models/emergency.go
package models

import "time"

// Status of a tracked emergency. "cancelled" is terminal; "responded" can
// still move to "cancelled".
const (
	StatusPending   = "pending"
	StatusResponded = "responded"
	StatusCancelled = "cancelled"
)

// UserProfile is the profile data an alert is built from. Only the five
// required fields matter to the emergency subsystem.
type UserProfile struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// RequesterInfo is the snapshot of the profile taken at send time. It is
// never re-read from the profile after dispatch, so hospitals see consistent
// data even if the user edits their profile mid-emergency.
type RequesterInfo struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// Location is a best-effort coordinate fix. May be absent.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Hospital describes one alerted hospital.
type Hospital struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	EmergencyPhone string `json:"emergencyPhone"`
}

// EmergencyRecord is the sole persisted entity of the subsystem: one tracked
// SOS event from dispatch to terminal resolution.
type EmergencyRecord struct {
	ID                string        `json:"id"`
	Requester         RequesterInfo `json:"requesterInfo"`
	Location          *Location     `json:"location,omitempty"`
	Hospitals         []Hospital    `json:"hospitals"`
	Status            string        `json:"status"`
	RespondedHospital *Hospital     `json:"respondedHospital,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// IsActive reports whether the record still needs reconciliation.
func (r *EmergencyRecord) IsActive() bool {
	return r != nil && (r.Status == StatusPending || r.Status == StatusResponded)
}

// Clone returns a deep copy so callers can't mutate the tracked record.
func (r *EmergencyRecord) Clone() *EmergencyRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if r.RespondedHospital != nil {
		h := *r.RespondedHospital
		out.RespondedHospital = &h
	}
	out.Hospitals = make([]Hospital, len(r.Hospitals))
	copy(out.Hospitals, r.Hospitals)
	return &out
}

// HospitalResponseEvent is a push-channel event announcing that a hospital
// acknowledged an emergency.
type HospitalResponseEvent struct {
	EmergencyID string   `json:"emergencyId"`
	Hospital    Hospital `json:"hospital"`
}
