package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bootcamptracker/internal/clock"
)

// Memory is an in-process Ledger with the same per-day uniqueness as the
// Postgres table. It backs the in-process store backend and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

var _ Ledger = (*Memory)(nil)

func (m *Memory) FindInRange(_ context.Context, studentID string, day clock.Range) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.StudentID == studentID && day.Contains(rec.Date) {
			rec := rec
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *Memory) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

func (m *Memory) insertLocked(rec *Record) error {
	for _, existing := range m.records {
		if existing.StudentID == rec.StudentID && existing.Day.Equal(rec.Day) {
			return ErrDuplicateDay
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.records[rec.ID] = *rec
	return nil
}

func (m *Memory) InsertAbsent(_ context.Context, studentIDs []string, day clock.Range) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, id := range studentIDs {
		rec := Record{StudentID: id, Status: StatusAbsent, Date: day.StartOfDay, Day: day.Day()}
		if err := m.insertLocked(&rec); err == nil {
			inserted++
		}
	}
	return inserted, nil
}

func (m *Memory) StudentsRecordedIn(_ context.Context, day clock.Range) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]bool)
	for _, rec := range m.records {
		if day.Contains(rec.Date) {
			res[rec.StudentID] = true
		}
	}
	return res, nil
}

func (m *Memory) ListByStudent(_ context.Context, studentID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Record
	for _, rec := range m.records {
		if rec.StudentID == studentID {
			res = append(res, rec)
		}
	}
	sortChronological(res)
	return res, nil
}

func (m *Memory) ListByStudents(ctx context.Context, studentIDs []string) (map[string][]Record, error) {
	res := make(map[string][]Record, len(studentIDs))
	for _, id := range studentIDs {
		recs, _ := m.ListByStudent(ctx, id)
		if len(recs) > 0 {
			res[id] = recs
		}
	}
	return res, nil
}

func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) Update(_ context.Context, id string, p Patch) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Mission != nil {
		rec.Mission = *p.Mission
	}
	if p.Module != nil {
		rec.Module = *p.Module
	}
	if p.Note != nil {
		note := *p.Note
		rec.Note = &note
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return &rec, nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func sortChronological(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Date.Equal(recs[j].Date) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].Date.Before(recs[j].Date)
	})
}

// MemoryWindow is an in-process WindowStore for the in-process store backend.
type MemoryWindow struct {
	mu sync.Mutex
	w  *Window
}

var _ WindowStore = (*MemoryWindow)(nil)

func (m *MemoryWindow) Get(context.Context) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.w == nil {
		m.w = &Window{UpdatedAt: time.Now().UTC()}
	}
	return *m.w, nil
}

func (m *MemoryWindow) Open(_ context.Context, adminID string, code *string, at time.Time) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.w == nil {
		m.w = &Window{}
	}
	m.w.IsOpen = true
	m.w.VerificationCode = code
	m.w.OpenedBy = &adminID
	m.w.OpenedAt = &at
	m.w.ClosedAt = nil
	m.w.UpdatedAt = at
	return *m.w, nil
}

func (m *MemoryWindow) Close(_ context.Context, at time.Time) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.w == nil {
		m.w = &Window{}
	}
	m.w.IsOpen = false
	m.w.ClosedAt = &at
	m.w.UpdatedAt = at
	return *m.w, nil
}
