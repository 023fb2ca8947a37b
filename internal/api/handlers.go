package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/neuroclinic/scheduling/internal/appointment"
	"github.com/neuroclinic/scheduling/internal/availability"
	redisclient "github.com/neuroclinic/scheduling/internal/redis"
	"github.com/neuroclinic/scheduling/internal/slots"
)

const dateLayout = "2006-01-02"

// -- Slots --

func listSlotsHandler(gen *slots.Generator, defaultMinutes int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider id must be a valid UUID")
			return
		}

		q := r.URL.Query()
		start, err := time.Parse(dateLayout, q.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be YYYY-MM-DD")
			return
		}
		end, err := time.Parse(dateLayout, q.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be YYYY-MM-DD")
			return
		}

		minutes := defaultMinutes
		if raw := q.Get("duration"); raw != "" {
			minutes, err = strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be minutes as an integer")
				return
			}
		}

		starts, err := gen.Slots(r.Context(), providerID, start, end, minutes)
		if err != nil {
			switch {
			case errors.Is(err, slots.ErrInvalidDuration), errors.Is(err, slots.ErrInvalidRange):
				writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		if starts == nil {
			starts = []time.Time{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{
			ProviderID:  providerID,
			SlotMinutes: minutes,
			Slots:       starts,
		})
	}
}

// -- Appointments --

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), actorID(r), appointment.BookRequest{
			PatientID:          patientID,
			ProviderID:         providerID,
			Type:               appointment.Type(req.Type),
			Start:              req.Start,
			DurationMinutes:    req.DurationMinutes,
			Notes:              req.Notes,
			ExternalBookingRef: req.ExternalBookingRef,
		})
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		patientID, err := uuid.Parse(q.Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id query parameter is required")
			return
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		status := appointment.Status(q.Get("status"))

		appts, err := svc.ListByPatient(r.Context(), patientID, status, limit, offset)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func mutateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req MutateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patch := appointment.MutateRequest{
			ScheduledAt: req.ScheduledAt,
			Notes:       req.Notes,
		}
		if req.Status != nil {
			st := appointment.Status(*req.Status)
			patch.Status = &st
		}

		appt, err := svc.Mutate(r.Context(), actorID(r), id, patch)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Cancel(r.Context(), actorID(r), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	var conflict *appointment.ConflictError
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "slot_conflict", conflict.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrProviderBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "provider_busy", "provider calendar is being updated, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// -- Availability --

func setAvailabilityHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider id must be a valid UUID")
			return
		}

		var req SetAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rules := make([]availability.WeeklyRule, 0, len(req.Rules))
		for _, rr := range req.Rules {
			rules = append(rules, rr.toModel())
		}

		if err := svc.SetWeeklySchedule(r.Context(), actorID(r), providerID, rules); err != nil {
			handleAvailabilityError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getAvailabilityHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider id must be a valid UUID")
			return
		}

		rules, err := svc.WeeklySchedule(r.Context(), providerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if rules == nil {
			rules = []availability.WeeklyRule{}
		}
		writeJSON(w, http.StatusOK, rules)
	}
}

func blockDateHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider id must be a valid UUID")
			return
		}

		var req BlockDateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		day, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		if err := svc.BlockDate(r.Context(), actorID(r), providerID, day, req.Reason); err != nil {
			handleAvailabilityError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func unblockDateHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider id must be a valid UUID")
			return
		}
		day, err := time.Parse(dateLayout, chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		if err := svc.UnblockDate(r.Context(), actorID(r), providerID, day); err != nil {
			handleAvailabilityError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAvailabilityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
	case errors.Is(err, availability.ErrNotBlocked):
		writeError(w, http.StatusNotFound, "date_not_blocked", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
