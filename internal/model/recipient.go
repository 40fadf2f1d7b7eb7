package model

import "strings"

// Recipient is a resolved (address, display name) pair.
type Recipient struct {
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
}

type FilterKind string

const (
	FilterAll      FilterKind = "all"
	FilterOptedIn  FilterKind = "opted_in"
	FilterRecent   FilterKind = "recent"
	FilterSource   FilterKind = "source"
	FilterOffering FilterKind = "offering"
)

func (k FilterKind) String() string { return string(k) }

// ParseFilterKind normalizes input; empty => all.
func ParseFilterKind(s string) (FilterKind, bool) {
	switch k := FilterKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return FilterAll, true
	case FilterAll, FilterOptedIn, FilterRecent, FilterSource, FilterOffering:
		return k, true
	default:
		return FilterAll, false
	}
}

// RecipientFilter selects contacts for an enrollment batch.
type RecipientFilter struct {
	Kind     FilterKind `json:"kind"`
	Days     int        `json:"days,omitempty"`     // recent
	Source   string     `json:"source,omitempty"`   // source
	Offering string     `json:"offering,omitempty"` // offering
}
