package models

import "time"

// Program represents one run of the educational program students apply to.
type Program struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Year      int       `db:"year" json:"year"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ApplicationSettings carries the per-program form provider configuration:
// which external form holds the applications, the credential used to read it,
// and the mapping from semantic field names to opaque provider field ids.
// Field ids are either unset or positive; sync refuses to run without a form id.
type ApplicationSettings struct {
	ProgramID           string    `db:"program_id" json:"program_id"`
	FormID              *int64    `db:"form_id" json:"form_id,omitempty"`
	APIKey              string    `db:"api_key" json:"-"`
	UsernameFieldID     *int64    `db:"username_field_id" json:"username_field_id,omitempty"`
	CoreClass1FieldID   *int64    `db:"coreclass1_field_id" json:"coreclass1_field_id,omitempty"`
	CoreClass2FieldID   *int64    `db:"coreclass2_field_id" json:"coreclass2_field_id,omitempty"`
	CoreClass3FieldID   *int64    `db:"coreclass3_field_id" json:"coreclass3_field_id,omitempty"`
	TeacherViewTemplate string    `db:"teacher_view_template" json:"teacher_view_template"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// CoreClassFieldID returns the configured field id for the given preference
// rank (1..3), or nil when that rank has no mapped form field.
func (s *ApplicationSettings) CoreClassFieldID(rank int) *int64 {
	switch rank {
	case 1:
		return s.CoreClass1FieldID
	case 2:
		return s.CoreClass2FieldID
	case 3:
		return s.CoreClass3FieldID
	default:
		return nil
	}
}

// ProgramDetail bundles a program with its application settings.
type ProgramDetail struct {
	Program
	Settings *ApplicationSettings `json:"settings,omitempty"`
}
