package models

import "strings"

// DefaultJurisdiction is used when a request leaves the jurisdiction empty.
const DefaultJurisdiction = "DE"

// SearchRequest is a single entity-name search against one registry.
type SearchRequest struct {
	// Query is the entity name fragment to search for. Required.
	Query string `json:"query" form:"q" validate:"required,max=200"`

	// Jurisdiction is the two-letter registry code. Default: "DE".
	Jurisdiction string `json:"jurisdiction,omitempty" form:"jurisdiction" validate:"len=2,alpha"`
}

// Defaults trims the query and normalises the jurisdiction code.
func (r *SearchRequest) Defaults() {
	r.Query = strings.TrimSpace(r.Query)
	r.Jurisdiction = strings.ToUpper(strings.TrimSpace(r.Jurisdiction))
	if r.Jurisdiction == "" {
		r.Jurisdiction = DefaultJurisdiction
	}
}
