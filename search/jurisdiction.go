package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
)

// Jurisdiction is one registry's search page and the tolerant-match hints
// for its controls. Hints live here so a markup change on the registry only
// touches this table.
type Jurisdiction struct {
	Code string
	Name string
	URL  string

	Input  engine.Target
	Submit engine.Target
	Table  engine.Target
}

// Validate checks the URL and that every target compiles.
func (j Jurisdiction) Validate() error {
	if j.URL == "" {
		return fmt.Errorf("jurisdiction %s: empty URL", j.Code)
	}
	for _, t := range []engine.Target{j.Input, j.Submit, j.Table} {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("jurisdiction %s: %w", j.Code, err)
		}
	}
	return nil
}

// Delaware is the Delaware Division of Corporations entity name search.
var Delaware = Jurisdiction{
	Code:   "DE",
	Name:   "Delaware",
	URL:    "https://icis.corp.delaware.gov/ecorp/entitysearch/namesearch.aspx",
	Input:  engine.Target{Role: engine.RoleQueryInput, Hints: []string{"frmEntityName"}},
	Submit: engine.Target{Role: engine.RoleSubmit, Hints: []string{"btnSubmit"}},
	Table:  engine.Target{Role: engine.RoleResultsTable, Hints: []string{"gvResults"}},
}

// Registry maps jurisdiction codes to their search pages.
type Registry map[string]Jurisdiction

// DefaultRegistry returns the built-in jurisdictions.
func DefaultRegistry() Registry {
	return Registry{Delaware.Code: Delaware}
}

// Lookup returns the jurisdiction for code, case-insensitively.
func (r Registry) Lookup(code string) (Jurisdiction, error) {
	j, ok := r[strings.ToUpper(code)]
	if !ok {
		return Jurisdiction{}, models.NewSearchError(models.ErrCodeUnsupportedJurisdiction,
			fmt.Sprintf("unsupported jurisdiction %q (supported: %s)", code, strings.Join(r.Codes(), ", ")), nil)
	}
	return j, nil
}

// Codes returns the supported codes in sorted order.
func (r Registry) Codes() []string {
	codes := make([]string, 0, len(r))
	for c := range r {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks every jurisdiction.
func (r Registry) Validate() error {
	for _, code := range r.Codes() {
		if err := r[code].Validate(); err != nil {
			return err
		}
	}
	return nil
}
