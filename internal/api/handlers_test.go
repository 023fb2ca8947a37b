package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neuroclinic/scheduling/internal/appointment"
	"github.com/neuroclinic/scheduling/internal/availability"
	"github.com/neuroclinic/scheduling/internal/slots"
)

// withURLParam mounts the handler under a chi route so URL parameters resolve.
func withURLParam(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestListSlotsHandler_InvalidInput(t *testing.T) {
	h := listSlotsHandler(nil, 60)

	cases := []struct {
		name     string
		url      string
		wantCode string
	}{
		{"bad provider id", "/providers/nope/slots?start=2026-03-02&end=2026-03-06", "invalid_provider_id"},
		{"missing start", "/providers/7f9c24e5-1f15-4a3f-9d0b-111111111111/slots?end=2026-03-06", "invalid_start"},
		{"bad end", "/providers/7f9c24e5-1f15-4a3f-9d0b-111111111111/slots?start=2026-03-02&end=tomorrow", "invalid_end"},
		{"bad duration", "/providers/7f9c24e5-1f15-4a3f-9d0b-111111111111/slots?start=2026-03-02&end=2026-03-06&duration=sixty", "invalid_duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rec := withURLParam(http.MethodGet, "/providers/{id}/slots", h, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeError(t, rec); got.Error != tc.wantCode {
				t.Errorf("error code = %q, want %q", got.Error, tc.wantCode)
			}
		})
	}
}

func TestBookAppointmentHandler_InvalidInput(t *testing.T) {
	h := bookAppointmentHandler(nil)

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad patient id", func(t *testing.T) {
		body := `{"patient_id":"nope","provider_id":"7f9c24e5-1f15-4a3f-9d0b-111111111111"}`
		req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if got := decodeError(t, rec); got.Error != "invalid_patient_id" {
			t.Errorf("error code = %q", got.Error)
		}
	})
}

func TestHandleAppointmentError(t *testing.T) {
	conflict := &appointment.ConflictError{
		Requested: slots.NewInterval(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), 60),
		Existing:  slots.NewInterval(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), 60),
	}

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", appointment.ErrValidation, http.StatusBadRequest, "validation_failed"},
		{"patient not found", appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{"appointment not found", appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{"slot conflict", conflict, http.StatusConflict, "slot_conflict"},
		{"invalid transition", appointment.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
		{"provider busy", appointment.ErrProviderBusy, http.StatusConflict, "provider_busy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleAppointmentError(rec, tc.err)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := decodeError(t, rec); got.Error != tc.wantCode {
				t.Errorf("error code = %q, want %q", got.Error, tc.wantCode)
			}
		})
	}
}

func TestHandleAvailabilityError(t *testing.T) {
	rec := httptest.NewRecorder()
	handleAvailabilityError(rec, availability.ErrInvalidRule)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rule status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handleAvailabilityError(rec, availability.ErrNotBlocked)
	if rec.Code != http.StatusNotFound {
		t.Errorf("not blocked status = %d, want 404", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequestIDMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" {
			t.Error("request id not set in context")
		}
		if rec.Header().Get("X-Request-ID") != seen {
			t.Error("response header does not match context request id")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		RequestIDMiddleware(next).ServeHTTP(rec, req)
		if seen != "req-123" {
			t.Errorf("request id = %q, want req-123", seen)
		}
	})
}

func TestActorID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := actorID(req); got.String() != "00000000-0000-0000-0000-000000000000" {
		t.Errorf("missing header should map to nil actor, got %s", got)
	}

	req.Header.Set("X-Actor-ID", "7f9c24e5-1f15-4a3f-9d0b-111111111111")
	if got := actorID(req); got.String() != "7f9c24e5-1f15-4a3f-9d0b-111111111111" {
		t.Errorf("actor id = %s", got)
	}
}
