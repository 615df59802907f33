package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// EditWindowClosedError rejects an availability edit attempted outside the
// allowed weekday. It reports the weekday the request actually landed on so
// callers can render a specific message.
type EditWindowClosedError struct {
	Requested time.Weekday
	Allowed   time.Weekday
}

func (e *EditWindowClosedError) Error() string {
	return fmt.Sprintf("availability edits are only allowed on %s, today is %s", e.Allowed, e.Requested)
}

// SlotTakenError is the authoritative double-booking rejection, translated
// from the storage layer's uniqueness violation.
type SlotTakenError struct {
	DoctorID uuid.UUID
	Date     time.Time
	Slot     string
}

func (e *SlotTakenError) Error() string {
	return fmt.Sprintf("slot %s on %s is already booked for doctor %s",
		e.Slot, e.Date.Format(DateFormat), e.DoctorID)
}

// SlotNotOfferedError is the advisory pre-check rejection: the requested slot
// is not currently free for the doctor on that date.
type SlotNotOfferedError struct {
	DoctorID   uuid.UUID
	Date       time.Time
	Slot       string
	WorkingDay bool
}

func (e *SlotNotOfferedError) Error() string {
	if !e.WorkingDay {
		return fmt.Sprintf("doctor %s does not work on %s", e.DoctorID, e.Date.Format(DateFormat))
	}
	return fmt.Sprintf("slot %s on %s is not offered for doctor %s",
		e.Slot, e.Date.Format(DateFormat), e.DoctorID)
}

// AvailabilityCache is a best-effort, TTL-bounded cache of doctor templates.
// All methods must be safe to skip; the service tolerates a nil cache.
type AvailabilityCache interface {
	Get(ctx context.Context, doctorID uuid.UUID) (Availability, bool)
	Set(ctx context.Context, doctorID uuid.UUID, av Availability)
	Invalidate(ctx context.Context, doctorID uuid.UUID)
}

// Policy holds the knobs of the booking core. Zero values fall back to the
// defaults the product ships with.
type Policy struct {
	GraceWindow time.Duration // same-day cutoff buffer
	HorizonDays int           // candidate-date horizon
	EditWeekday time.Weekday  // the only weekday template edits are accepted on
	Location    *time.Location
}

func (p Policy) withDefaults() Policy {
	if p.GraceWindow <= 0 {
		p.GraceWindow = DefaultGraceWindow
	}
	if p.HorizonDays <= 0 {
		p.HorizonDays = DefaultHorizonDays
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	return p
}

type Service struct {
	repo   Repository
	cache  AvailabilityCache
	policy Policy
	log    *zap.Logger
}

func NewService(repo Repository, cache AvailabilityCache, policy Policy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		policy: policy.withDefaults(),
		log:    log,
	}
}

// ReplaceAvailability validates and applies a wholesale replacement of the
// doctor's weekly template. The edit-window check and template validation
// both run before any storage call. A non-nil expectedVersion rejects stale
// writes; nil keeps the source's last-write-wins behavior.
//
// Existing appointments are never touched: removing a slot that already has
// a confirmed booking leaves that booking in place.
func (s *Service) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, av Availability, expectedVersion *int64, now time.Time) (*Doctor, error) {
	weekday := now.In(s.policy.Location).Weekday()
	if weekday != s.policy.EditWeekday {
		return nil, &EditWindowClosedError{Requested: weekday, Allowed: s.policy.EditWeekday}
	}

	if err := ValidateAvailability(av); err != nil {
		return nil, err
	}

	doctor, err := s.repo.ReplaceAvailability(ctx, doctorID, av, expectedVersion)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, doctorID)
	}

	s.log.Info("availability replaced",
		zap.String("doctor_id", doctorID.String()),
		zap.Int64("version", doctor.AvailabilityVersion),
		zap.Int("weekdays", len(av)))

	return doctor, nil
}

// GetDoctor returns the doctor with its current template and version.
func (s *Service) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctorByID(ctx, doctorID)
}

// availabilityFor reads the doctor's template through the cache.
func (s *Service) availabilityFor(ctx context.Context, doctorID uuid.UUID) (Availability, error) {
	if s.cache != nil {
		if av, ok := s.cache.Get(ctx, doctorID); ok {
			return av, nil
		}
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, doctorID, doctor.Availability)
	}
	return doctor.Availability, nil
}

// FreeSlotsOn answers "which slots are actually free for this doctor on this
// date": template slots for the weekday, minus booked slots, minus same-day
// slots starting before now+grace. WorkingDay is false when the doctor has
// no template entry for the weekday, so callers can tell "not a working day"
// from "fully booked".
func (s *Service) FreeSlotsOn(ctx context.Context, doctorID uuid.UUID, date, now time.Time) (*DaySchedule, error) {
	av, err := s.availabilityFor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	day := &DaySchedule{
		DoctorID: doctorID,
		Date:     Midnight(date),
		Slots:    []string{},
	}

	template := SlotsForDate(av, date)
	if template == nil {
		return day, nil
	}
	day.WorkingDay = true

	localNow := now.In(s.policy.Location)
	if Midnight(date).Before(Midnight(localNow)) {
		// The date is already behind us; nothing left to book.
		return day, nil
	}

	booked, err := s.repo.BookedSlots(ctx, doctorID, Midnight(date))
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}

	taken := make(map[string]bool, len(booked))
	for _, slot := range booked {
		taken[slot] = true
	}

	free := make([]string, 0, len(template))
	for _, slot := range template {
		if !taken[slot] {
			free = append(free, slot)
		}
	}

	day.Slots = UpcomingSlots(free, date, localNow, s.policy.GraceWindow)
	return day, nil
}

// WorkingDates derives the calendar dates the doctor works, walking forward
// from `from` over the configured horizon.
func (s *Service) WorkingDates(ctx context.Context, doctorID uuid.UUID, from time.Time, horizonDays int) ([]time.Time, error) {
	av, err := s.availabilityFor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if horizonDays <= 0 || horizonDays > s.policy.HorizonDays {
		horizonDays = s.policy.HorizonDays
	}
	return CandidateDates(av, from, horizonDays), nil
}

// Book reserves a slot for a patient. The free-slot pre-check gives a fast,
// friendly failure; the true authority is the ledger's uniqueness constraint,
// which closes the race a concurrent booking can open between the check and
// the insert.
func (s *Service) Book(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slot string, now time.Time) (*Appointment, error) {
	if !ValidSlotLabel(slot) {
		return nil, fmt.Errorf("%w: malformed slot label %q", ErrInvalidAvailability, slot)
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}

	day, err := s.FreeSlotsOn(ctx, doctorID, date, now)
	if err != nil {
		return nil, err
	}

	offered := false
	for _, free := range day.Slots {
		if free == slot {
			offered = true
			break
		}
	}
	if !offered {
		// A slot that is in the template but held by an active booking is
		// taken, not absent; the two rejections must not blur together.
		if day.WorkingDay {
			booked, err := s.repo.BookedSlots(ctx, doctorID, Midnight(date))
			if err != nil {
				return nil, fmt.Errorf("load booked slots: %w", err)
			}
			for _, b := range booked {
				if b == slot {
					return nil, &SlotTakenError{DoctorID: doctorID, Date: Midnight(date), Slot: slot}
				}
			}
		}
		return nil, &SlotNotOfferedError{
			DoctorID:   doctorID,
			Date:       Midnight(date),
			Slot:       slot,
			WorkingDay: day.WorkingDay,
		}
	}

	appt, err := s.repo.CreateAppointment(ctx, doctorID, patientID, Midnight(date), slot)
	if err != nil {
		if errors.Is(err, ErrBookingConflict) {
			return nil, &SlotTakenError{DoctorID: doctorID, Date: Midnight(date), Slot: slot}
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.String("date", appt.Date.Format(DateFormat)),
		zap.String("slot", slot))

	return appt, nil
}

// Cancel sets the appointment to cancelled and frees its slot for re-booking.
// Cancelling an already-cancelled appointment is a no-op success.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusCancelled:
		return appt, nil
	case StatusCompleted:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, StatusCancelled)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// CAS miss: somebody raced us. Re-read and treat a concurrent
			// cancellation as success.
			current, readErr := s.repo.GetAppointmentByID(ctx, id)
			if readErr == nil && current.Status == StatusCancelled {
				return current, nil
			}
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info("appointment cancelled", zap.String("appointment_id", id.String()))
	return updated, nil
}

// UpdateStatus performs one legal status transition. Cancellation through
// here follows the same rules as Cancel, including its idempotence.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, to)
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, id)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status == to {
		return appt, nil
	}
	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.log.Info("appointment status updated",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(appt.Status)),
		zap.String("to", string(to)))

	return updated, nil
}

// GetAppointment retrieves a single appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListByPatient returns a patient's booking history, most recent first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// DoctorDay returns every appointment for the doctor on the given date, in
// slot order. Staff day view.
func (s *Service) DoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListAppointmentsByDoctorDate(ctx, doctorID, Midnight(date))
}

// CompleteElapsed marks confirmed appointments whose slot has passed as
// completed. Called periodically by the completion worker.
func (s *Service) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	localNow := now.In(s.policy.Location)
	day := Midnight(localNow)
	nowLabel := localNow.Format(SlotLabelFormat)

	elapsed, err := s.repo.FindElapsedConfirmed(ctx, day, nowLabel)
	if err != nil {
		return 0, fmt.Errorf("find elapsed appointments: %w", err)
	}

	completed := 0
	for _, appt := range elapsed {
		if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Warn("failed to complete appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		completed++
	}

	return completed, nil
}
