package models

import "time"

// Subject is one class subject in a program's catalog. The numeric id is what
// form submissions reference in their "<id>|<display text>" choice tokens.
type Subject struct {
	ID        int64     `db:"id" json:"id"`
	ProgramID string    `db:"program_id" json:"program_id"`
	Title     string    `db:"title" json:"title"`
	Category  string    `db:"category" json:"category"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	ProgramID string
	Category  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
