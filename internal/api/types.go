package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/neuroclinic/scheduling/internal/appointment"
	"github.com/neuroclinic/scheduling/internal/availability"
)

type BookAppointmentRequest struct {
	PatientID          string    `json:"patient_id"`
	ProviderID         string    `json:"provider_id"`
	Type               string    `json:"type"`
	Start              time.Time `json:"start"`
	DurationMinutes    int       `json:"duration_minutes"`
	Notes              string    `json:"notes,omitempty"`
	ExternalBookingRef string    `json:"external_booking_ref,omitempty"`
}

type MutateAppointmentRequest struct {
	Status      *string    `json:"status,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          uuid.UUID `json:"patient_id"`
	ParentID           uuid.UUID `json:"parent_id"`
	ProviderID         uuid.UUID `json:"provider_id"`
	Type               string    `json:"type"`
	ScheduledAt        time.Time `json:"scheduled_at"`
	DurationMinutes    int       `json:"duration_minutes"`
	Status             string    `json:"status"`
	Notes              string    `json:"notes,omitempty"`
	ExternalBookingRef *string   `json:"external_booking_ref,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		ParentID:           a.ParentID,
		ProviderID:         a.ProviderID,
		Type:               string(a.Type),
		ScheduledAt:        a.ScheduledAt,
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		Notes:              a.Notes,
		ExternalBookingRef: a.ExternalBookingRef,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type SlotsResponse struct {
	ProviderID  uuid.UUID   `json:"provider_id"`
	SlotMinutes int         `json:"slot_minutes"`
	Slots       []time.Time `json:"slots"`
}

type WeeklyRuleRequest struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   bool   `json:"enabled"`
}

func (r WeeklyRuleRequest) toModel() availability.WeeklyRule {
	return availability.WeeklyRule{
		Weekday:   r.Weekday,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Enabled:   r.Enabled,
	}
}

type SetAvailabilityRequest struct {
	Rules []WeeklyRuleRequest `json:"rules"`
}

type BlockDateRequest struct {
	Date   string `json:"date"` // "2006-01-02"
	Reason string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
