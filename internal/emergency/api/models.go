// internal/emergency/api/models.go
package api

import "maternalhub-agent/internal/models"

// AlertRequest is the POST /emergency/alert body.
type AlertRequest struct {
	UserData  models.RequesterInfo `json:"userData"`
	Location  *models.Location     `json:"location"`
	Timestamp string               `json:"timestamp"` // ISO8601
}

// AlertResponse is the POST /emergency/alert reply.
type AlertResponse struct {
	EmergencyID      string            `json:"emergencyId"`
	Hospitals        []models.Hospital `json:"hospitals"`
	AlertedHospitals []string          `json:"alertedHospitals"`
}

// RespondedHospital is the responder descriptor as the hub reports it. Note
// the id field name differs from the alerted-hospital descriptor.
type RespondedHospital struct {
	HospitalID     string `json:"hospitalId"`
	Name           string `json:"name"`
	EmergencyPhone string `json:"emergencyPhone,omitempty"`
}

// ToHospital converts the hub's responder shape to the local hospital shape.
func (r *RespondedHospital) ToHospital() models.Hospital {
	return models.Hospital{
		ID:             r.HospitalID,
		Name:           r.Name,
		EmergencyPhone: r.EmergencyPhone,
	}
}

// EmergencyStatus is the nested emergency object of the status reply.
type EmergencyStatus struct {
	Status            string             `json:"status"`
	RespondedHospital *RespondedHospital `json:"respondedHospital"`
}

// StatusResponse is the GET /emergency/{id}/status reply.
type StatusResponse struct {
	Emergency EmergencyStatus `json:"emergency"`
}
