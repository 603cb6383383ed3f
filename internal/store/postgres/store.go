package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithScope runs fn in one transaction that holds the scope's advisory locks.
// Doctor scopes share the clinic lock and hold the doctor lock exclusively;
// clinic scopes hold the clinic lock exclusively.
func (s *Store) WithScope(ctx context.Context, scope models.Scope, fn func(store.Ledger) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockScope(ctx, tx, scope); err != nil {
		return err
	}
	if err = fn(&ledger{tx: tx}); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

// View runs fn in a read-only repeatable-read transaction so every read sees
// the same snapshot of the database.
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(&ledger{tx: tx})
}

func lockScope(ctx context.Context, tx pgx.Tx, scope models.Scope) error {
	clinicKey := models.Scope{ClinicID: scope.ClinicID}.Key()
	if !scope.IsDoctor() {
		_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, clinicKey)
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtextextended($1, 0))`, clinicKey); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scope.Key())
	return err
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	return listTickets(ctx, s.pool, filter)
}

func (s *Store) CountTickets(ctx context.Context, filter store.TicketFilter) (int, error) {
	return countTickets(ctx, s.pool, filter)
}

func (s *Store) GetCounter(ctx context.Context, key string) (int, bool, error) {
	return getCounter(ctx, s.pool, key)
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return getTicket(ctx, s.pool, ticketID)
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	if _, err := getTicket(ctx, s.pool, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]store.TicketEvent, 0)
	for rows.Next() {
		var event store.TicketEvent
		var payload []byte
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, rows.Err()
}

const clinicColumns = `
	clinic_id, name, email, password_hash, phone, address, services, opening, closing,
	average_process_time, max_active_queues, is_open, last_status_change, created_at`

func scanClinic(row pgx.Row) (models.Clinic, error) {
	var clinic models.Clinic
	err := row.Scan(
		&clinic.ClinicID, &clinic.Name, &clinic.Email, &clinic.PasswordHash, &clinic.Phone, &clinic.Address,
		&clinic.Services, &clinic.OperatingHours.Opening, &clinic.OperatingHours.Closing,
		&clinic.AverageProcessTime, &clinic.MaxActiveQueues, &clinic.IsOpen, &clinic.LastStatusChange, &clinic.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, store.ErrClinicNotFound
		}
		return models.Clinic{}, err
	}
	return clinic, nil
}

func (s *Store) CreateClinic(ctx context.Context, clinic models.Clinic) (models.Clinic, error) {
	if clinic.ClinicID == "" {
		clinic.ClinicID = uuid.NewString()
	}
	if clinic.Services == nil {
		clinic.Services = []string{}
	}
	now := time.Now().UTC()
	if clinic.CreatedAt.IsZero() {
		clinic.CreatedAt = now
	}
	if clinic.LastStatusChange.IsZero() {
		clinic.LastStatusChange = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clinics (`+clinicColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, clinic.ClinicID, clinic.Name, clinic.Email, clinic.PasswordHash, clinic.Phone, clinic.Address,
		clinic.Services, clinic.OperatingHours.Opening, clinic.OperatingHours.Closing,
		clinic.AverageProcessTime, clinic.MaxActiveQueues, clinic.IsOpen, clinic.LastStatusChange, clinic.CreatedAt)
	if err != nil {
		return models.Clinic{}, translate(err)
	}
	return clinic, nil
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	return getClinic(ctx, s.pool, clinicID, false)
}

func getClinic(ctx context.Context, q querier, clinicID string, forUpdate bool) (models.Clinic, error) {
	query := `SELECT ` + clinicColumns + ` FROM clinics WHERE clinic_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanClinic(q.QueryRow(ctx, query, clinicID))
}

func (s *Store) GetClinicByEmail(ctx context.Context, email string) (models.Clinic, error) {
	return scanClinic(s.pool.QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinics WHERE lower(email) = lower($1)`, email))
}

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clinicColumns+` FROM clinics ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clinics := make([]models.Clinic, 0)
	for rows.Next() {
		clinic, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		clinics = append(clinics, clinic)
	}
	return clinics, rows.Err()
}

func (s *Store) UpdateClinic(ctx context.Context, clinicID string, update store.ClinicUpdate) (models.Clinic, error) {
	var opening, closing *string
	if update.OperatingHours != nil {
		opening = &update.OperatingHours.Opening
		closing = &update.OperatingHours.Closing
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE clinics SET
			name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			address = COALESCE($4, address),
			services = COALESCE($5, services),
			opening = COALESCE($6, opening),
			closing = COALESCE($7, closing),
			average_process_time = COALESCE($8, average_process_time),
			max_active_queues = COALESCE($9, max_active_queues)
		WHERE clinic_id = $1
		RETURNING `+clinicColumns,
		clinicID, update.Name, update.Phone, update.Address, update.Services, opening, closing,
		update.AverageProcessTime, update.MaxActiveQueues)
	return scanClinic(row)
}

func (s *Store) DeleteClinic(ctx context.Context, clinicID string) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		UPDATE patients SET current_ticket_id = NULL
		WHERE current_ticket_id IN (SELECT ticket_id FROM tickets WHERE clinic_id = $1)
	`, clinicID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
		DELETE FROM serving_counters
		WHERE scope_key = 'clinic:' || $1
		   OR scope_key IN (SELECT 'doctor:' || doctor_id FROM doctors WHERE clinic_id = $1)
	`, clinicID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM clinics WHERE clinic_id = $1`, clinicID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrClinicNotFound
		return err
	}
	return tx.Commit(ctx)
}

const doctorColumns = `
	doctor_id, clinic_id, name, specialty, consultation_fee, is_active, is_available,
	available_days, available_from, available_to, last_status_change, created_at`

func scanDoctor(row pgx.Row) (models.Doctor, error) {
	var doctor models.Doctor
	err := row.Scan(
		&doctor.DoctorID, &doctor.ClinicID, &doctor.Name, &doctor.Specialty, &doctor.ConsultationFee,
		&doctor.IsActive, &doctor.IsAvailable, &doctor.AvailableDays,
		&doctor.AvailableHours.Opening, &doctor.AvailableHours.Closing, &doctor.LastStatusChange, &doctor.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Doctor{}, store.ErrDoctorNotFound
		}
		return models.Doctor{}, err
	}
	return doctor, nil
}

func (s *Store) CreateDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error) {
	if doctor.DoctorID == "" {
		doctor.DoctorID = uuid.NewString()
	}
	if doctor.AvailableDays == nil {
		doctor.AvailableDays = []string{}
	}
	now := time.Now().UTC()
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = now
	}
	if doctor.LastStatusChange.IsZero() {
		doctor.LastStatusChange = now
	}
	if _, err := getClinic(ctx, s.pool, doctor.ClinicID, false); err != nil {
		return models.Doctor{}, err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doctors (`+doctorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, doctor.DoctorID, doctor.ClinicID, doctor.Name, doctor.Specialty, doctor.ConsultationFee,
		doctor.IsActive, doctor.IsAvailable, doctor.AvailableDays,
		doctor.AvailableHours.Opening, doctor.AvailableHours.Closing, doctor.LastStatusChange, doctor.CreatedAt)
	if err != nil {
		return models.Doctor{}, translate(err)
	}
	return doctor, nil
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	return scanDoctor(s.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE doctor_id = $1`, doctorID))
}

func (s *Store) ListDoctors(ctx context.Context, clinicID string, activeOnly bool) ([]models.Doctor, error) {
	return listDoctors(ctx, s.pool, clinicID, activeOnly)
}

func listDoctors(ctx context.Context, q querier, clinicID string, activeOnly bool) ([]models.Doctor, error) {
	rows, err := q.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE clinic_id = $1 AND ($2 = FALSE OR is_active)
		ORDER BY name ASC
	`, clinicID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doctors := make([]models.Doctor, 0)
	for rows.Next() {
		doctor, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, doctor)
	}
	return doctors, rows.Err()
}

func (s *Store) UpdateDoctor(ctx context.Context, clinicID, doctorID string, update store.DoctorUpdate) (models.Doctor, error) {
	var from, to *string
	if update.AvailableHours != nil {
		from = &update.AvailableHours.Opening
		to = &update.AvailableHours.Closing
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE doctors SET
			name = COALESCE($3, name),
			specialty = COALESCE($4, specialty),
			consultation_fee = COALESCE($5, consultation_fee),
			is_active = COALESCE($6, is_active),
			available_days = COALESCE($7, available_days),
			available_from = COALESCE($8, available_from),
			available_to = COALESCE($9, available_to)
		WHERE doctor_id = $1 AND clinic_id = $2
		RETURNING `+doctorColumns,
		doctorID, clinicID, update.Name, update.Specialty, update.ConsultationFee, update.IsActive,
		update.AvailableDays, from, to)
	return scanDoctor(row)
}

const patientColumns = `patient_id, name, phone, device_token, current_ticket_id, created_at`

func scanPatient(row pgx.Row) (models.Patient, error) {
	var patient models.Patient
	var current sql.NullString
	if err := row.Scan(&patient.PatientID, &patient.Name, &patient.Phone, &patient.DeviceToken, &current, &patient.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	patient.CurrentTicketID = nullStringPtr(current)
	return patient, nil
}

func getPatient(ctx context.Context, q querier, patientID string) (models.Patient, error) {
	patient, err := scanPatient(q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, patientID))
	if err != nil {
		return models.Patient{}, err
	}
	rows, err := q.Query(ctx, `SELECT ticket_id FROM patient_history WHERE patient_id = $1 ORDER BY added_at ASC`, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ticketID string
		if err := rows.Scan(&ticketID); err != nil {
			return models.Patient{}, err
		}
		patient.History = append(patient.History, ticketID)
	}
	return patient, rows.Err()
}

func (s *Store) CreatePatient(ctx context.Context, patient models.Patient) (models.Patient, error) {
	if patient.PatientID == "" {
		patient.PatientID = uuid.NewString()
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, name, phone, device_token, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, patient.PatientID, patient.Name, patient.Phone, patient.DeviceToken, patient.CreatedAt)
	if err != nil {
		return models.Patient{}, translate(err)
	}
	patient.CurrentTicketID = nil
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	return getPatient(ctx, s.pool, patientID)
}

func (s *Store) GetPatientByPhone(ctx context.Context, phone string) (models.Patient, error) {
	patient, err := scanPatient(s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1`, phone))
	if err != nil {
		return models.Patient{}, err
	}
	return getPatient(ctx, s.pool, patient.PatientID)
}

func (s *Store) UpdatePatient(ctx context.Context, patientID string, update store.PatientUpdate) (models.Patient, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE patients SET
			name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			device_token = COALESCE($4, device_token)
		WHERE patient_id = $1
	`, patientID, update.Name, update.Phone, update.DeviceToken)
	if err != nil {
		return models.Patient{}, translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.Patient{}, store.ErrPatientNotFound
	}
	return getPatient(ctx, s.pool, patientID)
}
