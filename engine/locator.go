package engine

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Role is what a tolerant-matched element is used for.
type Role int

const (
	RoleQueryInput Role = iota
	RoleSubmit
	RoleResultsTable
)

func (r Role) String() string {
	switch r {
	case RoleQueryInput:
		return "query-input"
	case RoleSubmit:
		return "submit"
	case RoleResultsTable:
		return "results-table"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Target locates an element whose server-generated identifier is only
// partially stable: it matches on a substring of the id (or name) attribute
// instead of an exact value.
type Target struct {
	Role  Role
	Hints []string
}

// tags and attributes searched per role.
func (r Role) shape() (tags, attrs []string) {
	switch r {
	case RoleQueryInput:
		return []string{"input"}, []string{"id", "name"}
	case RoleSubmit:
		return []string{"input", "button"}, []string{"id", "name"}
	case RoleResultsTable:
		return []string{"table"}, []string{"id"}
	default:
		return nil, nil
	}
}

// Selector renders the target as a CSS selector group, one alternative per
// tag, attribute and hint.
func (t Target) Selector() string {
	tags, attrs := t.Role.shape()
	parts := make([]string, 0, len(tags)*len(attrs)*len(t.Hints))
	for _, hint := range t.Hints {
		for _, tag := range tags {
			for _, attr := range attrs {
				parts = append(parts, fmt.Sprintf(`%s[%s*="%s"]`, tag, attr, cssEscape(hint)))
			}
		}
	}
	return strings.Join(parts, ", ")
}

// Validate checks that the target has hints and compiles to a selector.
func (t Target) Validate() error {
	if len(t.Hints) == 0 {
		return fmt.Errorf("locator: %s has no hints", t.Role)
	}
	for _, h := range t.Hints {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("locator: %s has an empty hint", t.Role)
		}
	}
	if tags, _ := t.Role.shape(); tags == nil {
		return fmt.Errorf("locator: unknown role %s", t.Role)
	}
	if _, err := cascadia.ParseGroup(t.Selector()); err != nil {
		return fmt.Errorf("locator: %s selector: %w", t.Role, err)
	}
	return nil
}

func (t Target) String() string {
	return fmt.Sprintf("%s%v", t.Role, t.Hints)
}

// cssEscape escapes a hint for use inside a double-quoted attribute value.
func cssEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
