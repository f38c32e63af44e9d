// internal/emergency/store/store.go
package store

import (
	"context"
	"encoding/json"

	"maternalhub-agent/internal/common/validation"
	"maternalhub-agent/internal/models"
)

// Store persists at most one active emergency record. It is the sole source
// of truth consulted on start to decide whether to resume polling.
//
// Load returns (nil, nil) when no record is persisted. A malformed stored
// value is purged and reported as absent rather than as an error.
type Store interface {
	Load(ctx context.Context) (*models.EmergencyRecord, error)
	Save(ctx context.Context, record *models.EmergencyRecord) error
	Clear(ctx context.Context) error
}

// recordSchema guards Load against corrupt persisted state. Anything that
// fails it is treated as absent, not fatal.
var recordSchema = validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"id":     {Type: "string", MinLength: intPtr(1)},
		"status": {Type: "string", Enum: []string{models.StatusPending, models.StatusResponded, models.StatusCancelled}},
		"requesterInfo": {
			Type: "object",
			Properties: map[string]validation.Property{
				"name":  {Type: "string"},
				"phone": {Type: "string"},
				"email": {Type: "string"},
				"age":   {Type: "number"},
			},
			Required: []string{"name", "phone"},
		},
		"hospitals": {Type: "array"},
		"createdAt": {Type: "string"},
	},
	Required:             []string{"id", "status", "requesterInfo"},
	AdditionalProperties: true,
}

func intPtr(v int) *int { return &v }

// decodeRecord parses and schema-checks a serialized record.
func decodeRecord(raw []byte) (*models.EmergencyRecord, error) {
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	if result := validation.ValidateInput(asMap, recordSchema); !result.Valid {
		return nil, &CorruptRecordError{Problems: result.GetErrorMessages()}
	}

	var record models.EmergencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CorruptRecordError reports a persisted record that failed the schema check.
type CorruptRecordError struct {
	Problems []string
}

func (e *CorruptRecordError) Error() string {
	return "persisted emergency record is corrupt"
}
