// Package enginetest provides in-memory stores with the same uniqueness and
// compare-and-swap semantics as the Mongo stores, for engine tests.
package enginetest

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	attendancestore "github.com/dalemusser/volunteerhub/internal/app/store/attendance"
	eventstore "github.com/dalemusser/volunteerhub/internal/app/store/events"
	ledgerstore "github.com/dalemusser/volunteerhub/internal/app/store/ledger"
	scansessionstore "github.com/dalemusser/volunteerhub/internal/app/store/scansessions"
	taskstore "github.com/dalemusser/volunteerhub/internal/app/store/tasks"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/txn"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is one shared in-memory database. A single mutex makes every
// operation atomic, matching what the Mongo stores guarantee per call.
type Memory struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	users      map[primitive.ObjectID]models.User
	txs        []models.XPTransaction
	attendance []models.AttendanceRecord
	events     map[primitive.ObjectID]models.Event
	tasks      map[primitive.ObjectID]models.Task
	sessions   map[primitive.ObjectID]models.ScanSession
	tiers      []models.LevelTier

	// FailAppend, when set, is returned by the next ledger append.
	FailAppend error
	// NoTransactions makes Atomic behave like a standalone server.
	NoTransactions bool
}

func NewMemory() *Memory {
	return &Memory{
		users:    map[primitive.ObjectID]models.User{},
		events:   map[primitive.ObjectID]models.Event{},
		tasks:    map[primitive.ObjectID]models.Task{},
		sessions: map[primitive.ObjectID]models.ScanSession{},
	}
}

// Views over the shared state, one per store interface.
func (m *Memory) Users() *Users           { return &Users{m} }
func (m *Memory) Ledger() *Ledger         { return &Ledger{m} }
func (m *Memory) Attendance() *Attendance { return &Attendance{m} }
func (m *Memory) Events() *Events         { return &Events{m} }
func (m *Memory) Tasks() *Tasks           { return &Tasks{m} }
func (m *Memory) Sessions() *Sessions     { return &Sessions{m} }
func (m *Memory) Tiers() *Tiers           { return &Tiers{m} }
func (m *Memory) Atomic() *Atomic         { return &Atomic{m} }

// AddUser stores u with a fresh ID when it has none.
func (m *Memory) AddUser(u models.User) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.Role == "" {
		u.Role = models.RoleVolunteer
	}
	m.users[u.ID] = u
	return u
}

// AddEvent stores e with a fresh ID when it has none.
func (m *Memory) AddEvent(e models.Event) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	m.events[e.ID] = e
	return e
}

// User returns a copy of the stored user.
func (m *Memory) User(id primitive.ObjectID) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// SetUserXP overwrites the cached counter, simulating a lost increment.
func (m *Memory) SetUserXP(id primitive.ObjectID, xp int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.XP = xp
	m.users[id] = u
}

// AppendUncounted inserts tx without bumping the counter, like a standalone
// append whose counter update has not landed yet.
func (m *Memory) AppendUncounted(tx models.XPTransaction) models.XPTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.ID = primitive.NewObjectID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	m.txs = append(m.txs, tx)
	return tx
}

// Transactions returns a copy of every ledger entry for userID.
func (m *Memory) Transactions(userID primitive.ObjectID) []models.XPTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.XPTransaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

// AttendanceCount returns how many records exist for the pair.
func (m *Memory) AttendanceCount(eventID, userID primitive.ObjectID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attendance {
		if a.EventID == eventID && a.UserID == userID {
			n++
		}
	}
	return n
}

/* ------------------------------- transactions ------------------------------ */

// Atomic runs fn and restores the prior state when fn fails. Transactions
// are serialized with each other; a write made outside one while it rolls
// back is lost.
type Atomic struct{ m *Memory }

func (a *Atomic) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.m.NoTransactions {
		return txn.ErrNotSupported
	}
	a.m.txMu.Lock()
	defer a.m.txMu.Unlock()
	snap := a.m.snapshot()
	if err := fn(ctx); err != nil {
		a.m.restore(snap)
		return err
	}
	return nil
}

type state struct {
	users      map[primitive.ObjectID]models.User
	txs        []models.XPTransaction
	attendance []models.AttendanceRecord
	events     map[primitive.ObjectID]models.Event
	tasks      map[primitive.ObjectID]models.Task
	sessions   map[primitive.ObjectID]models.ScanSession
	tiers      []models.LevelTier
}

func (m *Memory) snapshot() state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return state{
		users:      maps.Clone(m.users),
		txs:        append([]models.XPTransaction(nil), m.txs...),
		attendance: append([]models.AttendanceRecord(nil), m.attendance...),
		events:     maps.Clone(m.events),
		tasks:      maps.Clone(m.tasks),
		sessions:   maps.Clone(m.sessions),
		tiers:      append([]models.LevelTier(nil), m.tiers...),
	}
}

func (m *Memory) restore(st state) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users, m.txs, m.attendance = st.users, st.txs, st.attendance
	m.events, m.tasks, m.sessions, m.tiers = st.events, st.tasks, st.sessions, st.tiers
}

/* ---------------------------------- users --------------------------------- */

type Users struct{ m *Memory }

func (s *Users) GetByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return nil, userstore.ErrNotFound
	}
	return &u, nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.m.users {
		if u.Email != "" && strings.ToLower(u.Email) == email {
			return &u, nil
		}
	}
	return nil, userstore.ErrNotFound
}

func (s *Users) RecordLogin(_ context.Context, id primitive.ObjectID, prev *time.Time, streak int, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return userstore.ErrNotFound
	}
	switch {
	case prev == nil && u.LastLoginAt != nil,
		prev != nil && (u.LastLoginAt == nil || !u.LastLoginAt.Equal(*prev)):
		return userstore.ErrStaleLogin
	}
	at = at.UTC()
	u.Streak = streak
	u.LastLoginAt = &at
	s.m.users[id] = u
	return nil
}

func (s *Users) EachXP(_ context.Context, fn func(userstore.XPEntry) error) error {
	s.m.mu.Lock()
	entries := make([]userstore.XPEntry, 0, len(s.m.users))
	for id, u := range s.m.users {
		entries = append(entries, userstore.XPEntry{ID: id, XP: u.XP, UpdatedAt: u.XPUpdatedAt})
	}
	s.m.mu.Unlock()
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Users) RepairXP(_ context.Context, id primitive.ObjectID, expected, xp int64) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok || u.XP != expected {
		return false, nil
	}
	u.XP = xp
	u.XPUpdatedAt = time.Now().UTC()
	s.m.users[id] = u
	return true, nil
}

/* --------------------------------- ledger --------------------------------- */

type Ledger struct{ m *Memory }

func (s *Ledger) Append(_ context.Context, tx models.XPTransaction) (models.XPTransaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.FailAppend; err != nil {
		s.m.FailAppend = nil
		return models.XPTransaction{}, err
	}
	u, ok := s.m.users[tx.UserID]
	if !ok {
		return models.XPTransaction{}, ledgerstore.ErrUnknownUser
	}
	for _, prev := range s.m.txs {
		if tx.DedupeKey != "" && prev.DedupeKey == tx.DedupeKey {
			return models.XPTransaction{}, ledgerstore.ErrDuplicate
		}
		if tx.ReversalOf != nil && prev.ReversalOf != nil && *prev.ReversalOf == *tx.ReversalOf {
			return models.XPTransaction{}, ledgerstore.ErrDuplicate
		}
	}
	tx.ID = primitive.NewObjectID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.m.txs = append(s.m.txs, tx)
	u.XP += tx.Delta
	u.XPUpdatedAt = tx.CreatedAt
	s.m.users[u.ID] = u
	return tx, nil
}

func (s *Ledger) GetByID(_ context.Context, id primitive.ObjectID) (*models.XPTransaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, tx := range s.m.txs {
		if tx.ID == id {
			return &tx, nil
		}
	}
	return nil, ledgerstore.ErrNotFound
}

func (s *Ledger) FindByDedupeKey(_ context.Context, key string) (*models.XPTransaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, tx := range s.m.txs {
		if tx.DedupeKey == key {
			return &tx, nil
		}
	}
	return nil, ledgerstore.ErrNotFound
}

func (s *Ledger) Sum(_ context.Context, userID primitive.ObjectID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var sum int64
	for _, tx := range s.m.txs {
		if tx.UserID == userID {
			sum += tx.Delta
		}
	}
	return sum, nil
}

func (s *Ledger) ListByUser(_ context.Context, userID primitive.ObjectID, limit int64) ([]models.XPTransaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.XPTransaction{}
	for i := len(s.m.txs) - 1; i >= 0; i-- {
		if s.m.txs[i].UserID == userID {
			out = append(out, s.m.txs[i])
			if limit > 0 && int64(len(out)) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Ledger) Totals(_ context.Context) (map[primitive.ObjectID]int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := map[primitive.ObjectID]int64{}
	for _, tx := range s.m.txs {
		out[tx.UserID] += tx.Delta
	}
	return out, nil
}

/* ------------------------------- attendance ------------------------------- */

type Attendance struct{ m *Memory }

func (s *Attendance) Insert(_ context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.attendance {
		if a.EventID == rec.EventID && a.UserID == rec.UserID {
			return a, false, nil
		}
	}
	rec.ID = primitive.NewObjectID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.m.attendance = append(s.m.attendance, rec)
	return rec, true, nil
}

func (s *Attendance) Get(_ context.Context, eventID, userID primitive.ObjectID) (*models.AttendanceRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.attendance {
		if a.EventID == eventID && a.UserID == userID {
			return &a, nil
		}
	}
	return nil, attendancestore.ErrNotFound
}

func (s *Attendance) ListByEvent(_ context.Context, eventID primitive.ObjectID, limit int64) ([]models.AttendanceRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.AttendanceRecord{}
	for _, a := range s.m.attendance {
		if a.EventID != eventID {
			continue
		}
		out = append(out, a)
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *Attendance) CountByEvent(_ context.Context, eventID primitive.ObjectID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, a := range s.m.attendance {
		if a.EventID == eventID {
			n++
		}
	}
	return n, nil
}

/* ---------------------------------- events -------------------------------- */

type Events struct{ m *Memory }

func (s *Events) GetByID(_ context.Context, id primitive.ObjectID) (*models.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	e, ok := s.m.events[id]
	if !ok {
		return nil, eventstore.ErrNotFound
	}
	return &e, nil
}

/* ---------------------------------- tasks --------------------------------- */

type Tasks struct{ m *Memory }

func (s *Tasks) Create(_ context.Context, t models.Task) (models.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t.ID = primitive.NewObjectID()
	t.Status = models.TaskOpen
	t.Assignees = []primitive.ObjectID{}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	s.m.tasks[t.ID] = t
	return t, nil
}

func (s *Tasks) GetByID(_ context.Context, id primitive.ObjectID) (*models.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return nil, taskstore.ErrNotFound
	}
	t.Assignees = append([]primitive.ObjectID(nil), t.Assignees...)
	return &t, nil
}

func (s *Tasks) ListByStatus(_ context.Context, status models.TaskStatus, limit int64) ([]models.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.Task{}
	for _, t := range s.m.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Tasks) cas(id primitive.ObjectID, from models.TaskStatus, mutate func(*models.Task) bool) (*models.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return nil, taskstore.ErrNotFound
	}
	if t.Status != from || !mutate(&t) {
		return nil, taskstore.ErrStaleState
	}
	s.m.tasks[id] = t
	out := t
	out.Assignees = append([]primitive.ObjectID(nil), t.Assignees...)
	return &out, nil
}

func (s *Tasks) Claim(_ context.Context, id, userID primitive.ObjectID, at time.Time) (*models.Task, error) {
	return s.cas(id, models.TaskOpen, func(t *models.Task) bool {
		t.Status = models.TaskClaimed
		if !t.IsAssigned(userID) {
			t.Assignees = append(t.Assignees, userID)
		}
		t.UpdatedAt = at
		return true
	})
}

func (s *Tasks) Submit(_ context.Context, id primitive.ObjectID, sub models.Submission) (*models.Task, error) {
	return s.cas(id, models.TaskClaimed, func(t *models.Task) bool {
		if !t.IsAssigned(sub.UserID) {
			return false
		}
		t.Status = models.TaskSubmitted
		t.Submission = &sub
		t.UpdatedAt = sub.SubmittedAt
		return true
	})
}

func (s *Tasks) Verify(_ context.Context, id, approverID primitive.ObjectID, at time.Time) (*models.Task, error) {
	return s.cas(id, models.TaskSubmitted, func(t *models.Task) bool {
		t.Status = models.TaskVerified
		t.VerifiedBy = &approverID
		t.VerifiedAt = &at
		t.UpdatedAt = at
		return true
	})
}

func (s *Tasks) Delete(_ context.Context, id primitive.ObjectID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return taskstore.ErrNotFound
	}
	if t.Status == models.TaskVerified {
		return taskstore.ErrStaleState
	}
	delete(s.m.tasks, id)
	return nil
}

/* ------------------------------ scan sessions ----------------------------- */

type Sessions struct{ m *Memory }

func (s *Sessions) Create(_ context.Context, ss models.ScanSession) (models.ScanSession, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ss.ID = primitive.NewObjectID()
	if ss.CreatedAt.IsZero() {
		ss.CreatedAt = time.Now().UTC()
	}
	ss.UpdatedAt = ss.CreatedAt
	s.m.sessions[ss.ID] = ss
	return ss, nil
}

func (s *Sessions) GetByID(_ context.Context, id primitive.ObjectID) (*models.ScanSession, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ss, ok := s.m.sessions[id]
	if !ok {
		return nil, scansessionstore.ErrNotFound
	}
	return &ss, nil
}

func (s *Sessions) Transition(_ context.Context, id primitive.ObjectID, from models.ScanState, t scansessionstore.Transition) (*models.ScanSession, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ss, ok := s.m.sessions[id]
	if !ok {
		return nil, scansessionstore.ErrNotFound
	}
	if ss.State != from {
		return nil, scansessionstore.ErrStaleState
	}
	ss.State = t.To
	ss.UpdatedAt = t.At
	if t.RejectReason != "" {
		ss.RejectReason = t.RejectReason
	}
	if t.AttendanceID != nil {
		id := *t.AttendanceID
		ss.AttendanceID = &id
	}
	s.m.sessions[ss.ID] = ss
	return &ss, nil
}

func (s *Sessions) SetAttendance(_ context.Context, id, attendanceID primitive.ObjectID) (*models.ScanSession, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ss, ok := s.m.sessions[id]
	if !ok {
		return nil, scansessionstore.ErrNotFound
	}
	if ss.State != models.ScanApproved {
		return nil, scansessionstore.ErrStaleState
	}
	ss.AttendanceID = &attendanceID
	s.m.sessions[id] = ss
	return &ss, nil
}

func (s *Sessions) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id, ss := range s.m.sessions {
		if !ss.State.Terminal() && ss.ExpiresAt.Before(now) {
			ss.State = models.ScanRejected
			ss.RejectReason = "expired"
			ss.UpdatedAt = now
			s.m.sessions[id] = ss
			n++
		}
	}
	return n, nil
}

/* ---------------------------------- tiers --------------------------------- */

type Tiers struct{ m *Memory }

func (s *Tiers) List(_ context.Context) ([]models.LevelTier, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return append([]models.LevelTier{}, s.m.tiers...), nil
}

func (s *Tiers) Replace(_ context.Context, tiers []models.LevelTier) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.tiers = append([]models.LevelTier(nil), tiers...)
	return nil
}
