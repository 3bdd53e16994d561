package attendance

import (
	"time"

	"bootcamptracker/internal/user"
)

// Status is the outcome recorded for a student on one day.
type Status string

const (
	StatusAttended Status = "ATTENDED"
	StatusAbsent   Status = "ABSENT"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusAttended || s == StatusAbsent
}

// Window is the single global attendance window.
type Window struct {
	IsOpen           bool       `json:"isOpen"`
	VerificationCode *string    `json:"verificationCode,omitempty"`
	RequiresCode     bool       `json:"requiresCode"`
	OpenedBy         *string    `json:"openedBy,omitempty"`
	OpenedAt         *time.Time `json:"openedAt,omitempty"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// State returns OPEN or CLOSED.
func (w Window) State() string {
	if w.IsOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// Redacted hides the verification code from non-staff callers.
func (w Window) Redacted() Window {
	w.RequiresCode = w.VerificationCode != nil && *w.VerificationCode != ""
	w.VerificationCode = nil
	return w
}

// Record is one ledger entry for a student and local day.
type Record struct {
	ID               string    `json:"id"`
	StudentID        string    `json:"studentId"`
	Status           Status    `json:"status"`
	Mission          int       `json:"mission"`
	Module           int       `json:"module"`
	Note             *string   `json:"note,omitempty"`
	VerificationCode *string   `json:"verificationCode,omitempty"`
	Date             time.Time `json:"date"`
	Day              time.Time `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IndexedRecord carries the record's chronological position among the
// student's records (0 is the oldest).
type IndexedRecord struct {
	Record
	AttendanceIndex int `json:"attendanceIndex"`
}

// StudentAttendance is a student with their records and totals.
type StudentAttendance struct {
	Student              user.Public     `json:"student"`
	Attendance           []IndexedRecord `json:"attendance"`
	TotalPresent         int             `json:"totalPresent"`
	TotalAbsent          int             `json:"totalAbsent"`
	AttendancePercentage float64         `json:"attendancePercentage"`
}

// SubmitInput is a new attendance submission.
type SubmitInput struct {
	StudentID        string
	Status           Status
	Mission          int
	Module           int
	Note             *string
	VerificationCode *string
}

// Patch updates selected fields of a record.
type Patch struct {
	Status  *Status
	Mission *int
	Module  *int
	Note    *string
}

// SweepResult summarises an absence sweep.
type SweepResult struct {
	TotalStudents          int       `json:"totalStudents"`
	StudentsWithAttendance int       `json:"studentsWithAttendance"`
	StudentsMarkedAbsent   int       `json:"studentsMarkedAbsent"`
	TargetDate             time.Time `json:"targetDate"`
}

// AbsentFilter narrows listings to students absent over recent days.
type AbsentFilter string

const (
	AbsentToday     AbsentFilter = "today"
	AbsentLast2Days AbsentFilter = "last2days"
	AbsentLast3Days AbsentFilter = "last3days"
)

// Days returns how many local days the filter spans, or 0 when unset.
func (f AbsentFilter) Days() int {
	switch f {
	case AbsentToday:
		return 1
	case AbsentLast2Days:
		return 2
	case AbsentLast3Days:
		return 3
	}
	return 0
}

// ListFilter selects students for the staff listing.
type ListFilter struct {
	SearchTerm   string
	AbsentFilter AbsentFilter
}
