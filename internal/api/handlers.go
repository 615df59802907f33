package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hrplabs/hrp-booking/internal/booking"
)

// BookingService is the surface the handlers need from the booking core.
type BookingService interface {
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, av booking.Availability, expectedVersion *int64, now time.Time) (*booking.Doctor, error)
	GetDoctor(ctx context.Context, doctorID uuid.UUID) (*booking.Doctor, error)
	FreeSlotsOn(ctx context.Context, doctorID uuid.UUID, date, now time.Time) (*booking.DaySchedule, error)
	WorkingDates(ctx context.Context, doctorID uuid.UUID, from time.Time, horizonDays int) ([]time.Time, error)
	Book(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slot string, now time.Time) (*booking.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	DoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]booking.Appointment, error)
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func freeSlotsHandler(svc BookingService, loc *time.Location, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date, err := time.ParseInLocation(booking.DateFormat, r.URL.Query().Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}

		day, err := svc.FreeSlotsOn(r.Context(), doctorID, date, now())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, DayScheduleResponse{
			DoctorID:   day.DoctorID,
			Date:       day.Date.Format(booking.DateFormat),
			WorkingDay: day.WorkingDay,
			Slots:      day.Slots,
		})
	}
}

func workingDatesHandler(svc BookingService, loc *time.Location, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		from := now().In(loc)
		if raw := r.URL.Query().Get("from"); raw != "" {
			parsed, err := time.ParseInLocation(booking.DateFormat, raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "from must be formatted YYYY-MM-DD")
				return
			}
			from = parsed
		}

		days := 0
		if raw := r.URL.Query().Get("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid_days", "days must be a non-negative integer")
				return
			}
			days = parsed
		}

		dates, err := svc.WorkingDates(r.Context(), doctorID, from, days)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := WorkingDatesResponse{
			DoctorID: doctorID,
			From:     booking.Midnight(from).Format(booking.DateFormat),
			Dates:    make([]string, 0, len(dates)),
		}
		for _, d := range dates {
			resp.Dates = append(resp.Dates, d.Format(booking.DateFormat))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		doctor, err := svc.GetDoctor(r.Context(), doctorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		w.Header().Set("ETag", strconv.FormatInt(doctor.AvailabilityVersion, 10))
		writeJSON(w, http.StatusOK, toAvailabilityResponse(doctor))
	}
}

func replaceAvailabilityHandler(svc BookingService, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req ReplaceAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
			return
		}

		// Absent If-Match keeps the last-write-wins behavior; a present one
		// rejects writes against a template version the caller never saw.
		var expectedVersion *int64
		if raw := r.Header.Get("If-Match"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_if_match", "If-Match must be an integer availability version")
				return
			}
			expectedVersion = &v
		}

		av := make(booking.Availability, 0, len(req.Availability))
		for _, entry := range req.Availability {
			av = append(av, booking.DayAvailability{Weekday: entry.Weekday, Slots: entry.Slots})
		}

		doctor, err := svc.ReplaceAvailability(r.Context(), doctorID, av, expectedVersion, now())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		w.Header().Set("ETag", strconv.FormatInt(doctor.AvailabilityVersion, 10))
		writeJSON(w, http.StatusOK, toAvailabilityResponse(doctor))
	}
}

func bookAppointmentHandler(svc BookingService, loc *time.Location, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_request", err.Error())
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		patientID, _ := uuid.Parse(req.PatientID)
		date, _ := time.ParseInLocation(booking.DateFormat, req.Date, loc)

		appt, err := svc.Book(r.Context(), doctorID, patientID, date, req.Slot, now())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, booking.AppointmentStatus(req.Status))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func patientAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentListResponse(appts))
	}
}

func doctorDayHandler(svc BookingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := urlUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date, err := time.ParseInLocation(booking.DateFormat, r.URL.Query().Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}

		appts, err := svc.DoctorDay(r.Context(), doctorID, date)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentListResponse(appts))
	}
}

// handleDomainError translates the booking core's error taxonomy into HTTP.
// Contention outcomes (slot taken, edit window, stale template) map to 4xx;
// anything unrecognized is an opaque 500.
func handleDomainError(w http.ResponseWriter, err error) {
	var (
		editClosed *booking.EditWindowClosedError
		slotTaken  *booking.SlotTakenError
		notOffered *booking.SlotNotOfferedError
	)

	switch {
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.As(err, &editClosed):
		writeError(w, http.StatusConflict, "edit_window_closed", editClosed.Error())
	case errors.Is(err, booking.ErrStaleAvailability):
		writeError(w, http.StatusPreconditionFailed, "stale_availability_version", err.Error())
	case errors.Is(err, booking.ErrInvalidAvailability):
		writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
	case errors.As(err, &notOffered):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "slot_not_offered",
			Details:  notOffered.Error(),
			DoctorID: notOffered.DoctorID.String(),
			Date:     notOffered.Date.Format(booking.DateFormat),
			Slot:     notOffered.Slot,
		})
	case errors.As(err, &slotTaken):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "slot_already_booked",
			Details:  slotTaken.Error(),
			DoctorID: slotTaken.DoctorID.String(),
			Date:     slotTaken.Date.Format(booking.DateFormat),
			Slot:     slotTaken.Slot,
		})
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
