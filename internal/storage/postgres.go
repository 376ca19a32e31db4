package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.PersistenceError("ping postgres", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return models.PersistenceError("ping postgres", err)
	}
	return nil
}

// classify maps driver errors onto the model sentinels. Anything that is not a
// server-side statement error is treated as the database being unreachable.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", op, models.ErrDuplicate)
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %w", op, models.ErrNotFound)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return models.PersistenceError(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return models.PersistenceError(op, err)
}

// --- Identities ---

const identityColumns = `identity_id, display_name, role, metadata, status, created_at, updated_at`

func scanIdentity(row pgx.Row) (models.Identity, error) {
	var (
		ident    models.Identity
		role     string
		status   string
		metadata []byte
	)
	if err := row.Scan(&ident.ID, &ident.DisplayName, &role, &metadata, &status, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		return models.Identity{}, err
	}
	ident.Role = models.Role(role)
	ident.Status = models.IdentityStatus(status)
	if len(metadata) > 0 && string(metadata) != "{}" {
		ident.Metadata = json.RawMessage(metadata)
	}
	return ident, nil
}

func (s *PostgresStore) FindIdentity(ctx context.Context, id string) (models.Identity, error) {
	ident, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE identity_id = $1`, id))
	if err != nil {
		return models.Identity{}, classify("find identity", err)
	}
	sigs, err := s.signatures(ctx, `WHERE fs.identity_id = $1`, id)
	if err != nil {
		return models.Identity{}, err
	}
	ident.Signatures = sigs[id]
	return ident, nil
}

func (s *PostgresStore) ListActiveIdentities(ctx context.Context) ([]models.Identity, error) {
	return s.ListIdentities(ctx, models.IdentityStatusActive)
}

// ListIdentities returns identities in creation order with their signatures.
// An empty status means any.
func (s *PostgresStore) ListIdentities(ctx context.Context, status models.IdentityStatus) ([]models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities`
	sigFilter := ``
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		sigFilter = `WHERE i.status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, identity_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list identities", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, classify("scan identity", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list identities", err)
	}

	sigs, err := s.signatures(ctx, sigFilter, args...)
	if err != nil {
		return nil, err
	}
	for i := range identities {
		identities[i].Signatures = sigs[identities[i].ID]
	}
	return identities, nil
}

// signatures loads signatures grouped by identity, in seq order.
func (s *PostgresStore) signatures(ctx context.Context, where string, args ...any) (map[string][]models.FaceSignature, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fs.id, fs.seq, fs.identity_id, fs.embedding, fs.source_key, fs.created_at
		FROM face_signatures fs
		JOIN identities i ON i.identity_id = fs.identity_id
		`+where+`
		ORDER BY fs.seq`, args...)
	if err != nil {
		return nil, classify("list signatures", err)
	}
	defer rows.Close()

	out := make(map[string][]models.FaceSignature)
	for rows.Next() {
		var (
			sig       models.FaceSignature
			embedding pgvector.Vector
		)
		if err := rows.Scan(&sig.ID, &sig.Seq, &sig.IdentityID, &embedding, &sig.SourceKey, &sig.CreatedAt); err != nil {
			return nil, classify("scan signature", err)
		}
		sig.Vector = embedding.Slice()
		out[sig.IdentityID] = append(out[sig.IdentityID], sig)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list signatures", err)
	}
	return out, nil
}

// CreateIdentity inserts the identity and its signatures in one transaction.
func (s *PostgresStore) CreateIdentity(ctx context.Context, ident models.Identity) (models.Identity, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Identity{}, classify("begin create identity", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	metadata := []byte(ident.Metadata)
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO identities (identity_id, display_name, role, metadata, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		ident.ID, ident.DisplayName, string(ident.Role), metadata, string(ident.Status),
	).Scan(&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return models.Identity{}, classify("create identity", err)
	}

	sigs := make([]models.FaceSignature, 0, len(ident.Signatures))
	for _, sig := range ident.Signatures {
		sig.IdentityID = ident.ID
		sig, err = insertSignature(ctx, tx, sig)
		if err != nil {
			return models.Identity{}, err
		}
		sigs = append(sigs, sig)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Identity{}, classify("commit create identity", err)
	}
	ident.Signatures = sigs
	return ident, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertSignature(ctx context.Context, q querier, sig models.FaceSignature) (models.FaceSignature, error) {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO face_signatures (id, identity_id, embedding, source_key)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`,
		sig.ID, sig.IdentityID, pgvector.NewVector(sig.Vector), sig.SourceKey,
	).Scan(&sig.Seq, &sig.CreatedAt)
	if err != nil {
		return models.FaceSignature{}, classify("add signature", err)
	}
	return sig, nil
}

func (s *PostgresStore) AddSignature(ctx context.Context, sig models.FaceSignature) (models.FaceSignature, error) {
	return insertSignature(ctx, s.pool, sig)
}

func (s *PostgresStore) SetIdentityStatus(ctx context.Context, id string, status models.IdentityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET status = $2, updated_at = NOW() WHERE identity_id = $1`,
		id, string(status))
	if err != nil {
		return classify("set identity status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set identity status %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// UpdateIdentity replaces the display name, role and metadata and returns
// the stored identity with its signatures.
func (s *PostgresStore) UpdateIdentity(ctx context.Context, ident models.Identity) (models.Identity, error) {
	metadata := []byte(ident.Metadata)
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	updated, err := scanIdentity(s.pool.QueryRow(ctx, `
		UPDATE identities
		SET display_name = $2, role = $3, metadata = $4, updated_at = NOW()
		WHERE identity_id = $1
		RETURNING `+identityColumns,
		ident.ID, ident.DisplayName, string(ident.Role), metadata))
	if err != nil {
		return models.Identity{}, classify("update identity", err)
	}
	sigs, err := s.signatures(ctx, `WHERE fs.identity_id = $1`, ident.ID)
	if err != nil {
		return models.Identity{}, err
	}
	updated.Signatures = sigs[ident.ID]
	return updated, nil
}

// SearchSignatures returns the nearest active signatures by L2 distance.
func (s *PostgresStore) SearchSignatures(ctx context.Context, vector []float32, limit int) ([]models.SignatureMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT fs.identity_id, i.display_name, fs.embedding <-> $1 AS distance
		FROM face_signatures fs
		JOIN identities i ON i.identity_id = fs.identity_id
		WHERE i.status = 'active'
		ORDER BY fs.embedding <-> $1, fs.seq
		LIMIT $2`,
		pgvector.NewVector(vector), limit,
	)
	if err != nil {
		return nil, classify("search signatures", err)
	}
	defer rows.Close()

	var matches []models.SignatureMatch
	for rows.Next() {
		var m models.SignatureMatch
		if err := rows.Scan(&m.IdentityID, &m.DisplayName, &m.Distance); err != nil {
			return nil, classify("scan signature match", err)
		}
		matches = append(matches, m)
	}
	return matches, classifyRows("search signatures", rows.Err())
}

func classifyRows(op string, err error) error {
	if err == nil {
		return nil
	}
	return classify(op, err)
}

// --- Attendance ---

// UpsertAttendanceEvent inserts the event or refreshes the time of day of the
// existing row with the same key. It reports whether a new row was created.
func (s *PostgresStore) UpsertAttendanceEvent(ctx context.Context, ev models.AttendanceEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO attendance_events (id, identity_id, date, time_of_day, schedule_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_id, date, schedule_id)
		DO UPDATE SET time_of_day = EXCLUDED.time_of_day, updated_at = NOW()
		RETURNING (xmax = 0)`,
		ev.ID, ev.IdentityID, pgDate(ev.Date), pgTime(ev.TimeOfDay), ev.ScheduleID,
	).Scan(&inserted)
	if err != nil {
		return false, classify("upsert attendance", err)
	}
	return inserted, nil
}

func (s *PostgresStore) HasAttendanceToday(ctx context.Context, identityID string, date models.Date, scheduleID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_events
			WHERE identity_id = $1 AND date = $2 AND schedule_id = $3
		)`,
		identityID, pgDate(date), scheduleID,
	).Scan(&exists)
	if err != nil {
		return false, classify("check attendance", err)
	}
	return exists, nil
}

// DeleteAttendanceEvent removes one event by id and returns it so callers
// can clear derived state such as the recorded-today cache.
func (s *PostgresStore) DeleteAttendanceEvent(ctx context.Context, id uuid.UUID) (models.AttendanceEvent, error) {
	var (
		ev   models.AttendanceEvent
		date pgtype.Date
		tod  pgtype.Time
	)
	err := s.pool.QueryRow(ctx, `
		DELETE FROM attendance_events WHERE id = $1
		RETURNING id, identity_id, date, time_of_day, schedule_id, created_at, updated_at`, id,
	).Scan(&ev.ID, &ev.IdentityID, &date, &tod, &ev.ScheduleID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return models.AttendanceEvent{}, classify("delete attendance", err)
	}
	ev.Date = models.DateOf(date.Time)
	ev.TimeOfDay = fromPgTime(tod)
	return ev, nil
}

// ListAttendance returns records newest first, joined with identity and
// schedule names.
func (s *PostgresStore) ListAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Date != nil {
		args = append(args, pgDate(*filter.Date))
		conds = append(conds, fmt.Sprintf("a.date = $%d", len(args)))
	}
	if filter.IdentityID != "" {
		args = append(args, filter.IdentityID)
		conds = append(conds, fmt.Sprintf("a.identity_id = $%d", len(args)))
	}
	query := `
		SELECT a.id, a.identity_id, a.date, a.time_of_day, a.schedule_id, a.created_at, a.updated_at,
		       i.display_name, i.role, COALESCE(sc.name, '')
		FROM attendance_events a
		JOIN identities i ON i.identity_id = a.identity_id
		LEFT JOIN schedules sc ON sc.id = a.schedule_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY a.date DESC, a.time_of_day DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list attendance", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var (
			rec  models.AttendanceRecord
			date pgtype.Date
			tod  pgtype.Time
			role string
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &date, &tod, &rec.ScheduleID,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.DisplayName, &role, &rec.ScheduleName); err != nil {
			return nil, classify("scan attendance", err)
		}
		rec.Date = models.DateOf(date.Time)
		rec.TimeOfDay = fromPgTime(tod)
		rec.Role = models.Role(role)
		records = append(records, rec)
	}
	return records, classifyRows("list attendance", rows.Err())
}

// --- Schedules ---

const scheduleColumns = `id, name, kind, start_time, end_time, active_weekdays, interval_minutes, is_active, created_at, updated_at`

func scanSchedule(row pgx.Row) (models.Schedule, error) {
	var (
		sc         models.Schedule
		kind       string
		start, end pgtype.Time
		weekdays   []int16
	)
	if err := row.Scan(&sc.ID, &sc.Name, &kind, &start, &end, &weekdays,
		&sc.IntervalMinutes, &sc.IsActive, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return models.Schedule{}, err
	}
	sc.Kind = models.ScheduleKind(kind)
	sc.Start = fromPgTime(start)
	sc.End = fromPgTime(end)
	for _, d := range weekdays {
		sc.Weekdays = append(sc.Weekdays, int(d))
	}
	return sc, nil
}

func weekdayArray(days []int) []int16 {
	out := make([]int16, len(days))
	for i, d := range days {
		out[i] = int16(d)
	}
	return out
}

func (s *PostgresStore) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.ListSchedules(ctx, false)
}

// ListSchedules returns schedules ordered by id.
func (s *PostgresStore) ListSchedules(ctx context.Context, includeInactive bool) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classify("list schedules", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, classify("scan schedule", err)
		}
		schedules = append(schedules, sc)
	}
	return schedules, classifyRows("list schedules", rows.Err())
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id int64) (models.Schedule, error) {
	sc, err := scanSchedule(s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return models.Schedule{}, classify("get schedule", err)
	}
	return sc, nil
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schedules (name, kind, start_time, end_time, active_weekdays, interval_minutes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		sc.Name, string(sc.Kind), pgTime(sc.Start), pgTime(sc.End), weekdayArray(sc.Weekdays),
		sc.IntervalMinutes, sc.IsActive,
	).Scan(&sc.ID, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return models.Schedule{}, classify("create schedule", err)
	}
	return sc, nil
}

func (s *PostgresStore) UpdateSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error) {
	err := s.pool.QueryRow(ctx, `
		UPDATE schedules
		SET name = $2, kind = $3, start_time = $4, end_time = $5, active_weekdays = $6,
		    interval_minutes = $7, is_active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		sc.ID, sc.Name, string(sc.Kind), pgTime(sc.Start), pgTime(sc.End), weekdayArray(sc.Weekdays),
		sc.IntervalMinutes, sc.IsActive,
	).Scan(&sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return models.Schedule{}, classify("update schedule", err)
	}
	return sc, nil
}

// DeactivateSchedule soft-deletes a schedule; recorded attendance keeps its reference.
func (s *PostgresStore) DeactivateSchedule(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return classify("deactivate schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate schedule %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", classify("get setting "+key, err)
	}
	return value, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return classify("put setting "+key, err)
	}
	return nil
}

// --- Conversions ---

func pgDate(d models.Date) pgtype.Date {
	return pgtype.Date{Time: d.Time(time.UTC), Valid: true}
}

func pgTime(t models.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func fromPgTime(t pgtype.Time) models.TimeOfDay {
	return models.TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}
