package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hrplabs/hrp-booking/internal/booking"
)

type AvailabilityEntry struct {
	Weekday string   `json:"weekday" validate:"required,weekday"`
	Slots   []string `json:"slots" validate:"required,dive,slotlabel"`
}

type ReplaceAvailabilityRequest struct {
	Availability []AvailabilityEntry `json:"availability" validate:"required,dive"`
}

type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id" validate:"required,uuid"`
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Date      string `json:"date" validate:"required,dateonly"`
	Slot      string `json:"slot" validate:"required,slotlabel"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      string    `json:"date"`
	Slot      string    `json:"slot"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date.Format(booking.DateFormat),
		Slot:      a.Slot,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

func toAppointmentListResponse(appts []booking.Appointment) AppointmentListResponse {
	out := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		out.Appointments = append(out.Appointments, toAppointmentResponse(&appts[i]))
	}
	return out
}

type AvailabilityResponse struct {
	DoctorID     uuid.UUID           `json:"doctor_id"`
	Version      int64               `json:"version"`
	Availability []AvailabilityEntry `json:"availability"`
}

func toAvailabilityResponse(d *booking.Doctor) AvailabilityResponse {
	entries := make([]AvailabilityEntry, 0, len(d.Availability))
	for _, day := range d.Availability {
		slots := day.Slots
		if slots == nil {
			slots = []string{}
		}
		entries = append(entries, AvailabilityEntry{Weekday: day.Weekday, Slots: slots})
	}
	return AvailabilityResponse{
		DoctorID:     d.ID,
		Version:      d.AvailabilityVersion,
		Availability: entries,
	}
}

type DayScheduleResponse struct {
	DoctorID   uuid.UUID `json:"doctor_id"`
	Date       string    `json:"date"`
	WorkingDay bool      `json:"working_day"`
	Slots      []string  `json:"slots"`
}

type WorkingDatesResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	From     string    `json:"from"`
	Dates    []string  `json:"dates"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	DoctorID string `json:"doctor_id,omitempty"`
	Date     string `json:"date,omitempty"`
	Slot     string `json:"slot,omitempty"`
}
