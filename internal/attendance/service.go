package attendance

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"bootcamptracker/internal/apperr"
	"bootcamptracker/internal/cache"
	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/metrics"
	"bootcamptracker/internal/user"
)

// CachePattern matches every cached attendance read.
const CachePattern = "cache:attendance:*"

const cachePrefix = "cache:attendance:"

// Cache is the read cache used for listings and per-student stats.
type Cache interface {
	cache.JSONCache
	Invalidate(ctx context.Context, patterns ...string)
}

// Service implements the attendance window and ledger operations.
type Service struct {
	window  WindowStore
	ledger  Ledger
	users   user.Directory
	cache   Cache
	clock   clock.Clock
	listTTL time.Duration
	log     *log.Logger
}

// NewService wires attendance dependencies.
func NewService(window WindowStore, ledger Ledger, users user.Directory, c Cache, clk clock.Clock, listTTL time.Duration, logger *log.Logger) *Service {
	if listTTL <= 0 {
		listTTL = time.Minute
	}
	return &Service{window: window, ledger: ledger, users: users, cache: c, clock: clk, listTTL: listTTL, log: logger}
}

// OpenWindow opens (or re-opens) the window. An empty code means none is required.
func (s *Service) OpenWindow(ctx context.Context, adminID string, code *string) (Window, error) {
	if code != nil {
		trimmed := strings.TrimSpace(*code)
		code = &trimmed
		if trimmed == "" {
			code = nil
		}
	}
	w, err := s.window.Open(ctx, adminID, code, s.clock.Now())
	if err != nil {
		return Window{}, apperr.Internal("Failed to open attendance window", err)
	}
	s.cache.Invalidate(ctx, CachePattern)
	metrics.WindowOpen.Set(1)
	s.log.Infof("attendance window opened by %s (code required: %t)", adminID, code != nil)
	return w, nil
}

// CloseWindow closes the window from any state.
func (s *Service) CloseWindow(ctx context.Context) (Window, error) {
	w, err := s.window.Close(ctx, s.clock.Now())
	if err != nil {
		return Window{}, apperr.Internal("Failed to close attendance window", err)
	}
	s.cache.Invalidate(ctx, CachePattern)
	metrics.WindowOpen.Set(0)
	s.log.Infof("attendance window closed")
	return w, nil
}

// WindowStatus returns the current window, materialising the default row.
func (s *Service) WindowStatus(ctx context.Context) (Window, error) {
	w, err := s.window.Get(ctx)
	if err != nil {
		return Window{}, apperr.Internal("Failed to read attendance window", err)
	}
	return w, nil
}

// Submit records today's attendance for a student.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Record, error) {
	rec, err := s.submit(ctx, in)
	if err != nil {
		outcome := metrics.Rejected
		if apperr.KindOf(err) == apperr.KindInternal {
			outcome = metrics.Failed
		}
		metrics.AttendanceSubmissions.WithLabelValues(outcome).Inc()
		return nil, err
	}
	metrics.AttendanceSubmissions.WithLabelValues(metrics.OK).Inc()
	return rec, nil
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (*Record, error) {
	w, err := s.window.Get(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to read attendance window", err)
	}
	if !w.IsOpen {
		return nil, apperr.Forbidden("Attendance window is closed")
	}
	if w.VerificationCode != nil && *w.VerificationCode != "" {
		if in.VerificationCode == nil || !codesMatch(*w.VerificationCode, *in.VerificationCode) {
			return nil, apperr.Forbidden("Invalid verification code")
		}
	}

	if in.Status == "" {
		in.Status = StatusAttended
	}
	if !in.Status.Valid() {
		return nil, apperr.BadRequest("Invalid attendance status")
	}
	if in.Mission < 0 || in.Module < 0 {
		return nil, apperr.BadRequest("Mission and module must not be negative")
	}

	today := s.clock.Today()

	student, err := s.users.FindByID(ctx, in.StudentID)
	if err != nil {
		return nil, apperr.Internal("Failed to look up student", err)
	}
	if student == nil {
		return nil, apperr.NotFound("Student not found")
	}
	if student.Role != user.RoleStudent {
		return nil, apperr.Forbidden("Only students can submit attendance")
	}

	existing, err := s.ledger.FindInRange(ctx, in.StudentID, today)
	if err != nil {
		return nil, apperr.Internal("Failed to check attendance", err)
	}
	if existing != nil {
		return nil, errAlreadySubmitted()
	}

	rec := &Record{
		StudentID:        in.StudentID,
		Status:           in.Status,
		Mission:          in.Mission,
		Module:           in.Module,
		Note:             in.Note,
		VerificationCode: in.VerificationCode,
		Date:             today.LocalNow,
		Day:              today.Day(),
	}
	if err := s.ledger.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateDay) {
			return nil, errAlreadySubmitted()
		}
		return nil, apperr.Internal("Failed to create attendance", err)
	}
	s.cache.Invalidate(ctx, CachePattern)
	s.log.Infof("attendance %s recorded for %s", rec.Status, rec.StudentID)
	return rec, nil
}

func errAlreadySubmitted() error {
	return apperr.BadRequest("Attendance already created for today. You can only submit once per day.")
}

// codesMatch requires an exact match; the submitted code is not normalised.
func codesMatch(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// SweepAbsences marks every student without a record on the target day as
// ABSENT. A nil target means yesterday in local time.
func (s *Service) SweepAbsences(ctx context.Context, target *time.Time) (SweepResult, error) {
	today := s.clock.Today()
	at := today.StartOfDay.Add(-24 * time.Hour)
	if target != nil {
		at = *target
	}
	day := s.clock.DayRange(at)
	if day.StartOfDay.After(today.StartOfDay) {
		return SweepResult{}, apperr.BadRequest("Cannot mark absences for a future date")
	}

	students, err := s.users.ListByRole(ctx, user.RoleStudent)
	if err != nil {
		return SweepResult{}, apperr.Internal("Failed to list students", err)
	}
	recorded, err := s.ledger.StudentsRecordedIn(ctx, day)
	if err != nil {
		return SweepResult{}, apperr.Internal("Failed to read attendance", err)
	}

	res := SweepResult{TotalStudents: len(students), TargetDate: day.StartOfDay}
	var missing []string
	for _, st := range students {
		if recorded[st.ID] {
			res.StudentsWithAttendance++
			continue
		}
		missing = append(missing, st.ID)
	}
	n, err := s.ledger.InsertAbsent(ctx, missing, day)
	if err != nil {
		return SweepResult{}, apperr.Internal("Failed to mark absences", err)
	}
	res.StudentsMarkedAbsent = n
	if n > 0 {
		s.cache.Invalidate(ctx, CachePattern)
		metrics.AbsencesMarked.Add(float64(n))
	}
	s.log.Infof("absence sweep for %s: %d students, %d recorded, %d marked absent",
		day.StartOfDay.Format("2006-01-02"), res.TotalStudents, res.StudentsWithAttendance, n)
	return res, nil
}

// StatsFor returns a student's records, newest first, with totals.
func (s *Service) StatsFor(ctx context.Context, studentID string) (StudentAttendance, error) {
	return cache.Remember(ctx, s.cache, cachePrefix+"student:"+studentID, s.listTTL, func(ctx context.Context) (StudentAttendance, error) {
		st, err := s.users.FindByID(ctx, studentID)
		if err != nil {
			return StudentAttendance{}, apperr.Internal("Failed to look up student", err)
		}
		if st == nil {
			return StudentAttendance{}, apperr.NotFound("Student not found")
		}
		recs, err := s.ledger.ListByStudent(ctx, studentID)
		if err != nil {
			return StudentAttendance{}, apperr.Internal("Failed to read attendance", err)
		}
		return summarize(*st, recs), nil
	})
}

// List returns every student with their records, narrowed by filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]StudentAttendance, error) {
	days := filter.AbsentFilter.Days()
	if filter.AbsentFilter != "" && days == 0 {
		return nil, apperr.BadRequest("absentFilter must be one of today, last2days, last3days")
	}
	search := strings.ToLower(strings.TrimSpace(filter.SearchTerm))
	today := s.clock.Today()
	key := fmt.Sprintf("%slist:%s:%s:%s", cachePrefix, today.Day().Format("2006-01-02"), filter.AbsentFilter, search)

	return cache.Remember(ctx, s.cache, key, s.listTTL, func(ctx context.Context) ([]StudentAttendance, error) {
		students, err := s.users.ListByRole(ctx, user.RoleStudent)
		if err != nil {
			return nil, apperr.Internal("Failed to list students", err)
		}
		matched := students[:0]
		for _, st := range students {
			if matchesSearch(st, search) {
				matched = append(matched, st)
			}
		}
		ids := make([]string, len(matched))
		for i, st := range matched {
			ids[i] = st.ID
		}
		byStudent, err := s.ledger.ListByStudents(ctx, ids)
		if err != nil {
			return nil, apperr.Internal("Failed to read attendance", err)
		}

		since := today.StartOfDay.Add(-time.Duration(days-1) * 24 * time.Hour)
		res := make([]StudentAttendance, 0, len(matched))
		for _, st := range matched {
			recs := byStudent[st.ID]
			if days > 0 && attendedSince(recs, since) {
				continue
			}
			res = append(res, summarize(st, recs))
		}
		return res, nil
	})
}

// UpdateRecord edits a record on behalf of staff.
func (s *Service) UpdateRecord(ctx context.Context, id string, p Patch) (*Record, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperr.BadRequest("Invalid attendance status")
	}
	if (p.Mission != nil && *p.Mission < 0) || (p.Module != nil && *p.Module < 0) {
		return nil, apperr.BadRequest("Mission and module must not be negative")
	}
	rec, err := s.ledger.Update(ctx, id, p)
	if err != nil {
		return nil, apperr.Internal("Failed to update attendance", err)
	}
	if rec == nil {
		return nil, apperr.NotFound("Attendance record not found")
	}
	s.cache.Invalidate(ctx, CachePattern)
	return rec, nil
}

// DeleteRecord removes a record on behalf of staff.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	ok, err := s.ledger.Delete(ctx, id)
	if err != nil {
		return apperr.Internal("Failed to delete attendance", err)
	}
	if !ok {
		return apperr.NotFound("Attendance record not found")
	}
	s.cache.Invalidate(ctx, CachePattern)
	return nil
}

func matchesSearch(u user.User, search string) bool {
	if search == "" {
		return true
	}
	if strings.Contains(strings.ToLower(u.Email), search) {
		return true
	}
	return u.Name != nil && strings.Contains(strings.ToLower(*u.Name), search)
}

func attendedSince(recs []Record, since time.Time) bool {
	for _, rec := range recs {
		if rec.Status == StatusAttended && !rec.Date.Before(since) {
			return true
		}
	}
	return false
}

// summarize expects recs oldest first and returns them newest first.
func summarize(st user.User, recs []Record) StudentAttendance {
	out := StudentAttendance{Student: st.Public(), Attendance: make([]IndexedRecord, len(recs))}
	for i, rec := range recs {
		out.Attendance[len(recs)-1-i] = IndexedRecord{Record: rec, AttendanceIndex: i}
		switch rec.Status {
		case StatusAttended:
			out.TotalPresent++
		case StatusAbsent:
			out.TotalAbsent++
		}
	}
	if total := out.TotalPresent + out.TotalAbsent; total > 0 {
		out.AttendancePercentage = round2(float64(out.TotalPresent) / float64(total) * 100)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
