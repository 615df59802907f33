package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrBookingConflict is raised by the storage layer when an insert hits
	// the active-booking uniqueness constraint. It is the authoritative
	// double-booking rejection; the service translates it into a
	// SlotTakenError.
	ErrBookingConflict = errors.New("active booking already exists for slot")

	// ErrStaleAvailability is raised when a template replacement carries a
	// version that no longer matches the stored one.
	ErrStaleAvailability = errors.New("availability version is stale")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// ReplaceAvailability swaps the doctor's whole template in one write and
	// bumps its version. A non-nil expectedVersion makes the write
	// conditional; nil preserves last-write-wins.
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, av Availability, expectedVersion *int64) (*Doctor, error)

	// CreateAppointment inserts a pending appointment. The partial unique
	// index over (doctor_id, appointment_date, slot) scoped to non-cancelled
	// rows is the sole serialization point; a violation surfaces as
	// ErrBookingConflict.
	CreateAppointment(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slot string) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// BookedSlots returns the slot labels of every non-cancelled appointment
	// for the doctor on the given date.
	BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)

	// UpdateAppointmentStatus is a compare-and-set: the row is updated only
	// while still in the from status. A CAS miss surfaces as
	// ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// FindElapsedConfirmed returns confirmed appointments whose date is
	// before day, or on day with a slot label before nowLabel. Used by the
	// completion worker.
	FindElapsedConfirmed(ctx context.Context, day time.Time, nowLabel string) ([]Appointment, error)
}
