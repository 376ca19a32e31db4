// Package memstore is an in-memory implementation of the kiosk store for tests.
package memstore

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

type eventKey struct {
	identityID string
	date       models.Date
	scheduleID int64
}

// Store keeps identities, signatures, schedules, attendance and settings in maps.
// Error fields, when set, are returned by the matching methods.
type Store struct {
	mu             sync.RWMutex
	identities     map[string]models.Identity
	identityOrder  []string
	signatures     []models.FaceSignature
	nextSeq        int64
	schedules      map[int64]models.Schedule
	nextScheduleID int64
	events         map[eventKey]models.AttendanceEvent
	settings       map[string]string

	// Error injection
	FindIdentityError   error
	ListIdentitiesError error
	PingError           error
	CreateIdentityError error
	AddSignatureError   error
	SetStatusError      error // also fails UpdateIdentity
	UpsertError         error // also fails DeleteAttendanceEvent
	HasAttendanceError  error
	ListSchedulesError  error
	ScheduleWriteError  error
	ListAttendanceError error
	SettingsError       error
}

func New() *Store {
	return &Store{
		identities: make(map[string]models.Identity),
		schedules:  make(map[int64]models.Schedule),
		events:     make(map[eventKey]models.AttendanceEvent),
		settings:   make(map[string]string),
	}
}

// FailAll makes every method return err, or clears injected errors when err is nil.
func (s *Store) FailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FindIdentityError = err
	s.ListIdentitiesError = err
	s.CreateIdentityError = err
	s.AddSignatureError = err
	s.SetStatusError = err
	s.UpsertError = err
	s.HasAttendanceError = err
	s.ListSchedulesError = err
	s.ScheduleWriteError = err
	s.ListAttendanceError = err
	s.SettingsError = err
	s.PingError = err
}

func (s *Store) withSignatures(ident models.Identity) models.Identity {
	ident.Signatures = nil
	for _, sig := range s.signatures {
		if sig.IdentityID == ident.ID {
			ident.Signatures = append(ident.Signatures, sig)
		}
	}
	return ident
}

func (s *Store) FindIdentity(ctx context.Context, id string) (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FindIdentityError != nil {
		return models.Identity{}, s.FindIdentityError
	}
	ident, ok := s.identities[id]
	if !ok {
		return models.Identity{}, models.ErrNotFound
	}
	return s.withSignatures(ident), nil
}

func (s *Store) ListActiveIdentities(ctx context.Context) ([]models.Identity, error) {
	return s.ListIdentities(ctx, models.IdentityStatusActive)
}

// ListIdentities returns identities in creation order; an empty status means any.
func (s *Store) ListIdentities(ctx context.Context, status models.IdentityStatus) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListIdentitiesError != nil {
		return nil, s.ListIdentitiesError
	}
	var out []models.Identity
	for _, id := range s.identityOrder {
		ident := s.identities[id]
		if status != "" && ident.Status != status {
			continue
		}
		out = append(out, s.withSignatures(ident))
	}
	return out, nil
}

func (s *Store) CreateIdentity(ctx context.Context, ident models.Identity) (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateIdentityError != nil {
		return models.Identity{}, s.CreateIdentityError
	}
	if _, ok := s.identities[ident.ID]; ok {
		return models.Identity{}, models.ErrDuplicate
	}

	now := time.Now()
	sigs := ident.Signatures
	ident.Signatures = nil
	ident.CreatedAt, ident.UpdatedAt = now, now
	s.identities[ident.ID] = ident
	s.identityOrder = append(s.identityOrder, ident.ID)
	for _, sig := range sigs {
		sig.IdentityID = ident.ID
		s.appendSignature(sig, now)
	}
	return s.withSignatures(ident), nil
}

func (s *Store) appendSignature(sig models.FaceSignature, now time.Time) models.FaceSignature {
	s.nextSeq++
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	sig.Seq = s.nextSeq
	sig.CreatedAt = now
	sig.Vector = slices.Clone(sig.Vector)
	s.signatures = append(s.signatures, sig)
	return sig
}

func (s *Store) AddSignature(ctx context.Context, sig models.FaceSignature) (models.FaceSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddSignatureError != nil {
		return models.FaceSignature{}, s.AddSignatureError
	}
	if _, ok := s.identities[sig.IdentityID]; !ok {
		return models.FaceSignature{}, models.ErrNotFound
	}
	return s.appendSignature(sig, time.Now()), nil
}

// SearchSignatures returns the nearest active signatures by Euclidean distance.
func (s *Store) SearchSignatures(ctx context.Context, vector []float32, limit int) ([]models.SignatureMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListIdentitiesError != nil {
		return nil, s.ListIdentitiesError
	}
	var out []models.SignatureMatch
	for _, sig := range s.signatures {
		ident := s.identities[sig.IdentityID]
		if ident.Status != models.IdentityStatusActive || len(sig.Vector) != len(vector) {
			continue
		}
		var sum float64
		for i := range vector {
			d := float64(vector[i]) - float64(sig.Vector[i])
			sum += d * d
		}
		out = append(out, models.SignatureMatch{
			IdentityID:  ident.ID,
			DisplayName: ident.DisplayName,
			Distance:    math.Sqrt(sum),
		})
	}
	slices.SortStableFunc(out, func(a, b models.SignatureMatch) int { return cmp.Compare(a.Distance, b.Distance) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetIdentityStatus(ctx context.Context, id string, status models.IdentityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetStatusError != nil {
		return s.SetStatusError
	}
	ident, ok := s.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	ident.Status = status
	ident.UpdatedAt = time.Now()
	s.identities[id] = ident
	return nil
}

// UpdateIdentity replaces the display name, role and metadata.
func (s *Store) UpdateIdentity(ctx context.Context, ident models.Identity) (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetStatusError != nil {
		return models.Identity{}, s.SetStatusError
	}
	current, ok := s.identities[ident.ID]
	if !ok {
		return models.Identity{}, models.ErrNotFound
	}
	current.DisplayName = ident.DisplayName
	current.Role = ident.Role
	current.Metadata = slices.Clone(ident.Metadata)
	current.UpdatedAt = time.Now()
	s.identities[ident.ID] = current
	return s.withSignatures(current), nil
}

// UpsertAttendanceEvent inserts the event or, when the natural key exists,
// only refreshes its time of day. It reports whether a new row was created.
func (s *Store) UpsertAttendanceEvent(ctx context.Context, ev models.AttendanceEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertError != nil {
		return false, s.UpsertError
	}
	key := eventKey{ev.IdentityID, ev.Date, ev.ScheduleID}
	now := time.Now()
	if existing, ok := s.events[key]; ok {
		existing.TimeOfDay = ev.TimeOfDay
		existing.UpdatedAt = now
		s.events[key] = existing
		return false, nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt, ev.UpdatedAt = now, now
	s.events[key] = ev
	return true, nil
}

func (s *Store) HasAttendanceToday(ctx context.Context, identityID string, date models.Date, scheduleID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.HasAttendanceError != nil {
		return false, s.HasAttendanceError
	}
	_, ok := s.events[eventKey{identityID, date, scheduleID}]
	return ok, nil
}

// DeleteAttendanceEvent removes one event by id and returns it.
func (s *Store) DeleteAttendanceEvent(ctx context.Context, id uuid.UUID) (models.AttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertError != nil {
		return models.AttendanceEvent{}, s.UpsertError
	}
	for key, ev := range s.events {
		if ev.ID == id {
			delete(s.events, key)
			return ev, nil
		}
	}
	return models.AttendanceEvent{}, models.ErrNotFound
}

// AttendanceEvents returns every stored event, oldest first.
func (s *Store) AttendanceEvents() []models.AttendanceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AttendanceEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b models.AttendanceEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *Store) ListAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListAttendanceError != nil {
		return nil, s.ListAttendanceError
	}
	var out []models.AttendanceRecord
	for _, ev := range s.events {
		if filter.Date != nil && ev.Date != *filter.Date {
			continue
		}
		if filter.IdentityID != "" && ev.IdentityID != filter.IdentityID {
			continue
		}
		ident := s.identities[ev.IdentityID]
		out = append(out, models.AttendanceRecord{
			AttendanceEvent: ev,
			DisplayName:     ident.DisplayName,
			Role:            ident.Role,
			ScheduleName:    s.schedules[ev.ScheduleID].Name,
		})
	}
	slices.SortFunc(out, func(a, b models.AttendanceRecord) int {
		ad, bd := a.Date.Time(time.UTC), b.Date.Time(time.UTC)
		if c := bd.Compare(ad); c != 0 {
			return c
		}
		return cmp.Compare(b.TimeOfDay, a.TimeOfDay)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.ListSchedules(ctx, false)
}

// ListSchedules returns schedules ordered by id.
func (s *Store) ListSchedules(ctx context.Context, includeInactive bool) ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListSchedulesError != nil {
		return nil, s.ListSchedulesError
	}
	var out []models.Schedule
	for _, sc := range s.schedules {
		if !includeInactive && !sc.IsActive {
			continue
		}
		sc.Weekdays = slices.Clone(sc.Weekdays)
		out = append(out, sc)
	}
	slices.SortFunc(out, func(a, b models.Schedule) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ListSchedulesError != nil {
		return models.Schedule{}, s.ListSchedulesError
	}
	sc, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, models.ErrNotFound
	}
	return sc, nil
}

// CreateSchedule stores sc under the next id. A non-zero sc.ID is kept so tests
// can control ordering.
func (s *Store) CreateSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleWriteError != nil {
		return models.Schedule{}, s.ScheduleWriteError
	}
	if sc.ID == 0 {
		s.nextScheduleID++
		sc.ID = s.nextScheduleID
	} else if sc.ID > s.nextScheduleID {
		s.nextScheduleID = sc.ID
	}
	if _, ok := s.schedules[sc.ID]; ok {
		return models.Schedule{}, models.ErrDuplicate
	}
	now := time.Now()
	sc.CreatedAt, sc.UpdatedAt = now, now
	sc.Weekdays = slices.Clone(sc.Weekdays)
	s.schedules[sc.ID] = sc
	return sc, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleWriteError != nil {
		return models.Schedule{}, s.ScheduleWriteError
	}
	existing, ok := s.schedules[sc.ID]
	if !ok {
		return models.Schedule{}, models.ErrNotFound
	}
	sc.CreatedAt = existing.CreatedAt
	sc.UpdatedAt = time.Now()
	sc.Weekdays = slices.Clone(sc.Weekdays)
	s.schedules[sc.ID] = sc
	return sc, nil
}

// DeactivateSchedule soft-deletes a schedule.
func (s *Store) DeactivateSchedule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleWriteError != nil {
		return s.ScheduleWriteError
	}
	sc, ok := s.schedules[id]
	if !ok {
		return models.ErrNotFound
	}
	sc.IsActive = false
	sc.UpdatedAt = time.Now()
	s.schedules[id] = sc
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SettingsError != nil {
		return "", s.SettingsError
	}
	v, ok := s.settings[key]
	if !ok {
		return "", models.ErrNotFound
	}
	return v, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SettingsError != nil {
		return s.SettingsError
	}
	s.settings[key] = value
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PingError
}
