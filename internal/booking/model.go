package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

const (
	// SlotLabelFormat is the layout of a slot label, e.g. "09:00".
	SlotLabelFormat = "15:04"
	// DateFormat is the layout of a calendar day, e.g. "2026-03-17".
	DateFormat = "2006-01-02"
)

// allowedTransitions is the full set of legal status changes. Cancelled and
// completed are terminal.
var allowedTransitions = map[AppointmentStatus]map[AppointmentStatus]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusCompleted: true, StatusCancelled: true},
}

// ValidStatus reports whether s is one of the recognized appointment statuses.
func ValidStatus(s AppointmentStatus) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to AppointmentStatus) bool {
	return allowedTransitions[from][to]
}

// DayAvailability is one entry of a doctor's weekly template: a weekday and
// the ordered slot labels the doctor sees patients at on that weekday.
type DayAvailability struct {
	Weekday string   `json:"weekday"`
	Slots   []string `json:"slots"`
}

// Availability is a doctor's full weekly template. It is replaced wholesale
// on every edit, never patched.
type Availability []DayAvailability

type Doctor struct {
	ID                  uuid.UUID
	Name                string
	Specialty           *string
	Availability        Availability
	AvailabilityVersion int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is one booked slot. Date carries no time component; Slot is a
// label from the doctor's template for that weekday.
type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Slot      string
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the appointment still occupies its slot.
func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// DaySchedule is the resolver's answer for one doctor and one date.
// WorkingDay distinguishes "doctor does not work that weekday" from
// "working day with every slot taken".
type DaySchedule struct {
	DoctorID   uuid.UUID
	Date       time.Time
	WorkingDay bool
	Slots      []string
}
