package models

import (
	"fmt"
	"time"
)

// AdminStatus is the administrative review verdict on a program application.
// Stored as a numeric enum so new verdicts can be appended without migration.
type AdminStatus int

const (
	AdminStatusUnreviewed AdminStatus = 0
	AdminStatusApproved   AdminStatus = 1
	AdminStatusRejected   AdminStatus = 3
)

// String returns the human readable verdict label.
func (s AdminStatus) String() string {
	switch s {
	case AdminStatusUnreviewed:
		return "Unreviewed"
	case AdminStatusApproved:
		return "Approved"
	case AdminStatusRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// AdmissionStatus is the per-class admission lifecycle state.
type AdmissionStatus string

const (
	AdmissionUnassigned AdmissionStatus = "UNASSIGNED"
	AdmissionAdmitted   AdmissionStatus = "ADMITTED"
	AdmissionWaitlisted AdmissionStatus = "WAITLISTED"
)

// StudentProgramApplication is one student's application to a program.
// Records are created and updated exclusively by the submission sync; the
// external submission id is the upsert key and is unique across all programs.
type StudentProgramApplication struct {
	ID           string      `db:"id" json:"id"`
	UserID       string      `db:"user_id" json:"user_id"`
	ProgramID    string      `db:"program_id" json:"program_id"`
	SubmissionID int64       `db:"submission_id" json:"submission_id"`
	AdminStatus  AdminStatus `db:"admin_status" json:"admin_status"`
	AdminComment string      `db:"admin_comment" json:"admin_comment"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// StudentClassApplication is one ranked class choice on an application.
// (application_id, rank) is unique; at most one sibling may be admitted.
type StudentClassApplication struct {
	ID              string          `db:"id" json:"id"`
	ApplicationID   string          `db:"application_id" json:"application_id"`
	SubjectID       int64           `db:"subject_id" json:"subject_id"`
	Rank            int             `db:"rank" json:"rank"`
	TeacherRating   *int            `db:"teacher_rating" json:"teacher_rating,omitempty"`
	TeacherRanking  *int            `db:"teacher_ranking" json:"teacher_ranking,omitempty"`
	TeacherComment  string          `db:"teacher_comment" json:"teacher_comment"`
	AdmissionStatus AdmissionStatus `db:"admission_status" json:"admission_status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// ApplicationDetail enriches an application with user context and choices.
type ApplicationDetail struct {
	StudentProgramApplication
	Username string                    `db:"username" json:"username"`
	FullName string                    `db:"full_name" json:"full_name"`
	Choices  []StudentClassApplication `db:"-" json:"choices,omitempty"`
}

// ClassApplicationDetail enriches a class choice with subject context.
type ClassApplicationDetail struct {
	StudentClassApplication
	SubjectTitle string `db:"subject_title" json:"subject_title"`
}

// ApplicationUpsert is one reconciled submission ready to be persisted:
// the resolved local user plus every choice rank that resolved to a subject.
// Ranks absent from Choices are left untouched on existing records.
type ApplicationUpsert struct {
	SubmissionID int64
	UserID       string
	Choices      map[int]int64
}

// ApplicationFilter provides filters for listing applications.
type ApplicationFilter struct {
	ProgramID   string
	UserID      string
	AdminStatus *AdminStatus
	SubjectID   *int64
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
