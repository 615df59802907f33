package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hrplabs/hrp-booking/internal/booking"
)

// fakeService stubs the booking core per test. Unset methods fail loudly so a
// handler reaching for the wrong operation is caught.
type fakeService struct {
	replaceAvailability func(ctx context.Context, doctorID uuid.UUID, av booking.Availability, expectedVersion *int64, now time.Time) (*booking.Doctor, error)
	getDoctor           func(ctx context.Context, doctorID uuid.UUID) (*booking.Doctor, error)
	freeSlotsOn         func(ctx context.Context, doctorID uuid.UUID, date, now time.Time) (*booking.DaySchedule, error)
	workingDates        func(ctx context.Context, doctorID uuid.UUID, from time.Time, horizonDays int) ([]time.Time, error)
	book                func(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slot string, now time.Time) (*booking.Appointment, error)
	cancel              func(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	updateStatus        func(ctx context.Context, id uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error)
	getAppointment      func(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	listByPatient       func(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	doctorDay           func(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]booking.Appointment, error)
}

var errUnexpectedCall = errors.New("unexpected service call")

func (f *fakeService) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, av booking.Availability, expectedVersion *int64, now time.Time) (*booking.Doctor, error) {
	if f.replaceAvailability == nil {
		return nil, errUnexpectedCall
	}
	return f.replaceAvailability(ctx, doctorID, av, expectedVersion, now)
}

func (f *fakeService) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*booking.Doctor, error) {
	if f.getDoctor == nil {
		return nil, errUnexpectedCall
	}
	return f.getDoctor(ctx, doctorID)
}

func (f *fakeService) FreeSlotsOn(ctx context.Context, doctorID uuid.UUID, date, now time.Time) (*booking.DaySchedule, error) {
	if f.freeSlotsOn == nil {
		return nil, errUnexpectedCall
	}
	return f.freeSlotsOn(ctx, doctorID, date, now)
}

func (f *fakeService) WorkingDates(ctx context.Context, doctorID uuid.UUID, from time.Time, horizonDays int) ([]time.Time, error) {
	if f.workingDates == nil {
		return nil, errUnexpectedCall
	}
	return f.workingDates(ctx, doctorID, from, horizonDays)
}

func (f *fakeService) Book(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slot string, now time.Time) (*booking.Appointment, error) {
	if f.book == nil {
		return nil, errUnexpectedCall
	}
	return f.book(ctx, doctorID, patientID, date, slot, now)
}

func (f *fakeService) Cancel(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	if f.cancel == nil {
		return nil, errUnexpectedCall
	}
	return f.cancel(ctx, id)
}

func (f *fakeService) UpdateStatus(ctx context.Context, id uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error) {
	if f.updateStatus == nil {
		return nil, errUnexpectedCall
	}
	return f.updateStatus(ctx, id, to)
}

func (f *fakeService) GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	if f.getAppointment == nil {
		return nil, errUnexpectedCall
	}
	return f.getAppointment(ctx, id)
}

func (f *fakeService) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
	if f.listByPatient == nil {
		return nil, errUnexpectedCall
	}
	return f.listByPatient(ctx, patientID, limit, offset)
}

func (f *fakeService) DoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]booking.Appointment, error) {
	if f.doctorDay == nil {
		return nil, errUnexpectedCall
	}
	return f.doctorDay(ctx, doctorID, date)
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRouter(svc BookingService) http.Handler {
	return NewRouter(RouterConfig{
		Service:  svc,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
		Env:      "test",
		Version:  "test",
	})
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestFreeSlotsEndpoint(t *testing.T) {
	doctorID := uuid.New()
	svc := &fakeService{
		freeSlotsOn: func(_ context.Context, id uuid.UUID, date, now time.Time) (*booking.DaySchedule, error) {
			if id != doctorID {
				t.Errorf("doctor id = %s, want %s", id, doctorID)
			}
			if !now.Equal(testNow) {
				t.Errorf("now = %v, want %v", now, testNow)
			}
			return &booking.DaySchedule{
				DoctorID:   id,
				Date:       date,
				WorkingDay: true,
				Slots:      []string{"09:00", "09:30"},
			}, nil
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/doctors/"+doctorID.String()+"/slots?date=2026-03-16", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[DayScheduleResponse](t, rec)
	if !resp.WorkingDay || len(resp.Slots) != 2 || resp.Date != "2026-03-16" {
		t.Errorf("response = %+v", resp)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/doctors/not-a-uuid/slots?date=2026-03-16", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad uuid status = %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/doctors/"+doctorID.String()+"/slots?date=16-03-2026", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}

	svc.freeSlotsOn = func(context.Context, uuid.UUID, time.Time, time.Time) (*booking.DaySchedule, error) {
		return nil, booking.ErrDoctorNotFound
	}
	rec = doRequest(t, router, http.MethodGet, "/api/v1/doctors/"+doctorID.String()+"/slots?date=2026-03-16", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown doctor status = %d", rec.Code)
	}
}

func TestBookEndpoint(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	svc := &fakeService{
		book: func(_ context.Context, dID, pID uuid.UUID, d time.Time, slot string, _ time.Time) (*booking.Appointment, error) {
			return &booking.Appointment{
				ID:        uuid.New(),
				DoctorID:  dID,
				PatientID: pID,
				Date:      d,
				Slot:      slot,
				Status:    booking.StatusPending,
			}, nil
		},
	}
	router := newTestRouter(svc)

	body := BookAppointmentRequest{
		DoctorID:  doctorID.String(),
		PatientID: patientID.String(),
		Date:      "2026-03-16",
		Slot:      "09:00",
	}
	rec := doRequest(t, router, http.MethodPost, "/api/v1/appointments", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[AppointmentResponse](t, rec)
	if resp.Status != "pending" || resp.Slot != "09:00" || resp.Date != "2026-03-16" {
		t.Errorf("response = %+v", resp)
	}

	// Malformed slot label never reaches the service.
	bad := body
	bad.Slot = "9am"
	rec = doRequest(t, router, http.MethodPost, "/api/v1/appointments", bad, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad slot status = %d", rec.Code)
	}

	// A storage-level conflict surfaces as 409 with the offending tuple.
	svc.book = func(context.Context, uuid.UUID, uuid.UUID, time.Time, string, time.Time) (*booking.Appointment, error) {
		return nil, &booking.SlotTakenError{DoctorID: doctorID, Date: date, Slot: "09:00"}
	}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/appointments", body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d", rec.Code)
	}
	errResp := decodeBody[ErrorResponse](t, rec)
	if errResp.Error != "slot_already_booked" {
		t.Errorf("error code = %q", errResp.Error)
	}
	if errResp.DoctorID != doctorID.String() || errResp.Date != "2026-03-16" || errResp.Slot != "09:00" {
		t.Errorf("conflict details = %+v", errResp)
	}

	// An off-template request carries the same structured details.
	svc.book = func(context.Context, uuid.UUID, uuid.UUID, time.Time, string, time.Time) (*booking.Appointment, error) {
		return nil, &booking.SlotNotOfferedError{DoctorID: doctorID, Date: date, Slot: "09:00"}
	}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/appointments", body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("not-offered status = %d", rec.Code)
	}
	if errResp = decodeBody[ErrorResponse](t, rec); errResp.Error != "slot_not_offered" {
		t.Errorf("error code = %q", errResp.Error)
	}
}

func TestReplaceAvailabilityEndpoint(t *testing.T) {
	doctorID := uuid.New()

	var gotVersion *int64
	svc := &fakeService{
		replaceAvailability: func(_ context.Context, id uuid.UUID, av booking.Availability, expectedVersion *int64, _ time.Time) (*booking.Doctor, error) {
			gotVersion = expectedVersion
			return &booking.Doctor{ID: id, Availability: av, AvailabilityVersion: 4}, nil
		},
	}
	router := newTestRouter(svc)

	body := ReplaceAvailabilityRequest{
		Availability: []AvailabilityEntry{{Weekday: "Monday", Slots: []string{"09:00"}}},
	}

	rec := doRequest(t, router, http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/availability", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotVersion != nil {
		t.Errorf("expectedVersion = %v without If-Match, want nil", *gotVersion)
	}
	if etag := rec.Header().Get("ETag"); etag != "4" {
		t.Errorf("ETag = %q, want 4", etag)
	}
	resp := decodeBody[AvailabilityResponse](t, rec)
	if resp.Version != 4 || len(resp.Availability) != 1 {
		t.Errorf("response = %+v", resp)
	}

	// If-Match pins the template version.
	header := http.Header{"If-Match": []string{"3"}}
	rec = doRequest(t, router, http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/availability", body, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with If-Match = %d", rec.Code)
	}
	if gotVersion == nil || *gotVersion != 3 {
		t.Errorf("expectedVersion = %v, want 3", gotVersion)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/availability", body, http.Header{"If-Match": []string{"abc"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage If-Match status = %d", rec.Code)
	}

	// Outside the edit window the handler answers 409.
	svc.replaceAvailability = func(context.Context, uuid.UUID, booking.Availability, *int64, time.Time) (*booking.Doctor, error) {
		return nil, &booking.EditWindowClosedError{Requested: time.Tuesday, Allowed: time.Sunday}
	}
	rec = doRequest(t, router, http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/availability", body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("edit window status = %d", rec.Code)
	}
	if errResp := decodeBody[ErrorResponse](t, rec); errResp.Error != "edit_window_closed" {
		t.Errorf("error code = %q", errResp.Error)
	}

	// A stale pinned version maps to 412.
	svc.replaceAvailability = func(context.Context, uuid.UUID, booking.Availability, *int64, time.Time) (*booking.Doctor, error) {
		return nil, booking.ErrStaleAvailability
	}
	rec = doRequest(t, router, http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/availability", body, header)
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("stale version status = %d", rec.Code)
	}

	// Unknown weekdays are stopped by request validation.
	badBody := ReplaceAvailabilityRequest{
		Availability: []AvailabilityEntry{{Weekday: "Funday", Slots: []string{"09:00"}}},
	}
	rec = doRequest(t, router, http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/availability", badBody, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad weekday status = %d", rec.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	apptID := uuid.New()
	svc := &fakeService{
		cancel: func(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
			return &booking.Appointment{ID: id, Status: booking.StatusCancelled}, nil
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/appointments/"+apptID.String(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[AppointmentResponse](t, rec); resp.Status != "cancelled" {
		t.Errorf("status in body = %q", resp.Status)
	}

	svc.cancel = func(context.Context, uuid.UUID) (*booking.Appointment, error) {
		return nil, booking.ErrAppointmentNotFound
	}
	rec = doRequest(t, router, http.MethodDelete, "/api/v1/appointments/"+apptID.String(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown appointment status = %d", rec.Code)
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	apptID := uuid.New()
	svc := &fakeService{
		updateStatus: func(_ context.Context, id uuid.UUID, to booking.AppointmentStatus) (*booking.Appointment, error) {
			return &booking.Appointment{ID: id, Status: to}, nil
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPatch, "/api/v1/appointments/"+apptID.String()+"/status", UpdateStatusRequest{Status: "confirmed"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[AppointmentResponse](t, rec); resp.Status != "confirmed" {
		t.Errorf("status in body = %q", resp.Status)
	}

	// Unknown statuses are stopped by request validation.
	rec = doRequest(t, router, http.MethodPatch, "/api/v1/appointments/"+apptID.String()+"/status", UpdateStatusRequest{Status: "archived"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status code = %d", rec.Code)
	}

	svc.updateStatus = func(context.Context, uuid.UUID, booking.AppointmentStatus) (*booking.Appointment, error) {
		return nil, booking.ErrInvalidStatusTransition
	}
	rec = doRequest(t, router, http.MethodPatch, "/api/v1/appointments/"+apptID.String()+"/status", UpdateStatusRequest{Status: "completed"}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("illegal transition status = %d", rec.Code)
	}
}

func TestWorkingDatesEndpoint(t *testing.T) {
	doctorID := uuid.New()
	svc := &fakeService{
		workingDates: func(_ context.Context, _ uuid.UUID, from time.Time, horizonDays int) ([]time.Time, error) {
			if horizonDays != 0 {
				t.Errorf("horizonDays = %d, want 0 when unset", horizonDays)
			}
			return []time.Time{from, from.AddDate(0, 0, 7)}, nil
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/doctors/"+doctorID.String()+"/dates?from=2026-03-16", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[WorkingDatesResponse](t, rec)
	if len(resp.Dates) != 2 || resp.Dates[0] != "2026-03-16" || resp.Dates[1] != "2026-03-23" {
		t.Errorf("dates = %v", resp.Dates)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/doctors/"+doctorID.String()+"/dates?days=-1", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative days status = %d", rec.Code)
	}
}

func TestPatientAppointmentsEndpoint(t *testing.T) {
	patientID := uuid.New()
	svc := &fakeService{
		listByPatient: func(_ context.Context, id uuid.UUID, limit, offset int) ([]booking.Appointment, error) {
			if limit != 5 || offset != 10 {
				t.Errorf("limit/offset = %d/%d, want 5/10", limit, offset)
			}
			return []booking.Appointment{{ID: uuid.New(), PatientID: id, Status: booking.StatusPending}}, nil
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/patients/"+patientID.String()+"/appointments?limit=5&offset=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[AppointmentListResponse](t, rec)
	if len(resp.Appointments) != 1 {
		t.Errorf("appointments = %+v", resp.Appointments)
	}
}
