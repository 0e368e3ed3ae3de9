package models

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeNoResults      OutcomeKind = "no_results"
	OutcomeBlocked        OutcomeKind = "blocked"
	OutcomeTransientError OutcomeKind = "transient_error"
)

// Record is one data row of a registry results table.
type Record struct {
	FileNumber   string `json:"file_number"`
	EntityName   string `json:"entity_name"`
	Jurisdiction string `json:"jurisdiction"`
}

// Outcome is the classified result of one search. Exactly one variant is
// populated; build values with Success, NoResults, Blocked or TransientError.
type Outcome struct {
	Kind OutcomeKind

	// Records is set for OutcomeSuccess only.
	Records []Record

	// Reason is set for OutcomeBlocked only: the block phrase that matched.
	Reason string

	// Code and Message are set for OutcomeTransientError only.
	Code    string
	Message string

	// DiagnosticID references a captured page artifact, if one was stored.
	DiagnosticID string
}

// Success builds a success outcome. A nil slice is normalised to empty so
// callers can always range over and serialise Records.
func Success(records []Record) Outcome {
	if records == nil {
		records = []Record{}
	}
	return Outcome{Kind: OutcomeSuccess, Records: records}
}

// NoResults builds a confirmed empty-result outcome.
func NoResults() Outcome {
	return Outcome{Kind: OutcomeNoResults}
}

// Blocked builds an outcome for an explicit anti-bot signal.
func Blocked(reason string) Outcome {
	return Outcome{Kind: OutcomeBlocked, Reason: reason}
}

// TransientError builds an outcome for a failure that may succeed on retry.
func TransientError(code, message string) Outcome {
	return Outcome{Kind: OutcomeTransientError, Code: code, Message: message}
}

// Terminal reports whether the outcome is a confirmed page state rather
// than a failure.
func (o Outcome) Terminal() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeNoResults
}
