package models

import (
	"time"

	"github.com/google/uuid"
)

// Categories an opportunity can be posted under. Stored as plain text;
// validated at the API boundary.
const (
	CategoryEnvironment = "Miljø og Natur"
	CategoryChildren    = "Barn og Ungdom"
	CategoryElderly     = "Eldre og Omsorg"
	CategorySports      = "Sport og Fritid"
	CategoryCulture     = "Kultur og Kunst"
	CategoryEducation   = "Utdanning"
	CategoryHealth      = "Helse"
	CategoryOther       = "Annet"
)

// Categories lists every valid opportunity category.
var Categories = []string{
	CategoryEnvironment,
	CategoryChildren,
	CategoryElderly,
	CategorySports,
	CategoryCulture,
	CategoryEducation,
	CategoryHealth,
	CategoryOther,
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Opportunity is a posted volunteer activity. Date carries day
// granularity only; the time of day is free text in TimeSlot.
type Opportunity struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Organization   string    `json:"organization"`
	Location       string    `json:"location"`
	Date           time.Time `json:"date"`
	TimeSlot       string    `json:"time_slot"`
	Category       string    `json:"category"`
	RequiredSkills []string  `json:"required_skills"`
	ContactEmail   string    `json:"contact_email"`
	ContactPhone   string    `json:"contact_phone,omitempty"`
	CreatorID      uuid.UUID `json:"creator_id"`
	IsTaken        bool      `json:"is_taken"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key implements store.Entity.
func (o Opportunity) Key() uuid.UUID { return o.ID }

// Clone returns a deep copy. Merging into a store must never alias the
// caller's slices.
func (o Opportunity) Clone() Opportunity {
	if o.RequiredSkills != nil {
		skills := make([]string, len(o.RequiredSkills))
		copy(skills, o.RequiredSkills)
		o.RequiredSkills = skills
	}
	return o
}
