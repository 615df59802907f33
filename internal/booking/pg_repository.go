package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres constraint names the repository translates into domain errors.
const (
	constraintActiveBooking = "uniq_active_booking"
	constraintDoctorFK      = "appointments_doctor_id_fkey"
	constraintPatientFK     = "appointments_patient_id_fkey"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string
	var availabilityRaw []byte

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&availabilityRaw,
		&d.AvailabilityVersion,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	if len(availabilityRaw) > 0 {
		if err := json.Unmarshal(availabilityRaw, &d.Availability); err != nil {
			return nil, fmt.Errorf("decode availability: %w", err)
		}
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&a.Slot,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// mapWriteError translates constraint violations raised by appointment
// writes into the domain taxonomy. Anything else passes through untouched.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintActiveBooking:
		return ErrBookingConflict
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == constraintDoctorFK:
		return ErrDoctorNotFound
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == constraintPatientFK:
		return ErrPatientNotFound
	}
	return err
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, availability, availability_version, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, av Availability, expectedVersion *int64) (*Doctor, error) {
	raw, err := json.Marshal(av)
	if err != nil {
		return nil, fmt.Errorf("encode availability: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET availability = $2,
		    availability_version = availability_version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND ($3::bigint IS NULL OR availability_version = $3)
		RETURNING id, name, specialty, availability, availability_version, created_at, updated_at
	`, doctorID, raw, expectedVersion)

	doctor, err := scanDoctor(row)
	if err == nil {
		return doctor, nil
	}
	if !errors.Is(err, ErrDoctorNotFound) {
		return nil, err
	}

	// Zero rows: either the doctor is missing or the version check failed.
	if _, lookupErr := r.GetDoctorByID(ctx, doctorID); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, ErrStaleAvailability
}

func (r *PgRepository) CreateAppointment(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slot string) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now(), now())
		RETURNING id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at
	`, id, doctorID, patientID, date, slot)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status <> 'cancelled'
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at
	`, id, to, from)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return appt, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, slot DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		ORDER BY slot ASC
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) FindElapsedConfirmed(ctx context.Context, day time.Time, nowLabel string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, slot, status, created_at, updated_at
		FROM appointments
		WHERE status = 'confirmed'
		  AND (appointment_date < $1
		       OR (appointment_date = $1 AND slot < $2))
	`, day, nowLabel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
