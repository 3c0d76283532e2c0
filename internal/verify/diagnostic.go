package verify

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/comalice/hsmkit/internal/primitives"
)

// Diagnostic codes. Codes are stable and never reused for other conditions.
const (
	CodeInvalidGraph             = "INVALID_GRAPH"
	CodeNondeterministic         = "NONDETERMINISTIC_TRANSITIONS"
	CodeRegionConflict           = "REGION_CONFLICT"
	CodeUnreachableState         = "UNREACHABLE_STATE"
	CodeUnreachableHistory       = "UNREACHABLE_HISTORY"
	CodeHistoryWithoutDefault    = "HISTORY_WITHOUT_DEFAULT"
	CodePermanentlyDeferredEvent = "PERMANENTLY_DEFERRED_EVENT"
	CodeImpureGuard              = "IMPURE_GUARD"
	CodeGuardTypeError           = "GUARD_TYPE_ERROR"
	CodeChoiceWithoutDefault     = "CHOICE_WITHOUT_DEFAULT"
	CodeCompletionCycle          = "COMPLETION_CYCLE"
	CodeStateSpaceTruncated      = "STATE_SPACE_TRUNCATED"
)

// Severity ranks diagnostics.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

var severityNames = [...]string{"error", "warning", "info"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "unknown"
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Diagnostic is one finding of the verifier.
type Diagnostic struct {
	Code     string                `json:"code" yaml:"code"`
	Severity Severity              `json:"severity" yaml:"severity"`
	Message  string                `json:"message" yaml:"message"`
	Loc      primitives.Location   `json:"location" yaml:"location"`
	Related  []primitives.Location `json:"related,omitempty" yaml:"related,omitempty"`
	// Subjects names the states, transitions or events involved.
	Subjects []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Loc.IsZero() {
		return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s %s: %s", d.Loc, d.Severity, d.Code, d.Message)
}

// Report is the result of Verify.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics" yaml:"diagnostics"`
	// Configurations is the number of distinct abstract states explored.
	Configurations int  `json:"configurations" yaml:"configurations"`
	Truncated      bool `json:"truncated" yaml:"truncated"`
}

// HasErrors reports whether any diagnostic is an error.
func (r *Report) HasErrors() bool {
	return slices.ContainsFunc(r.Diagnostics, func(d Diagnostic) bool { return d.Severity == SeverityError })
}

// ByCode returns the diagnostics with the given code.
func (r *Report) ByCode(code string) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

func (r *Report) add(d Diagnostic) { r.Diagnostics = append(r.Diagnostics, d) }

// sort orders diagnostics by location, then code, then message.
func (r *Report) sort() {
	slices.SortStableFunc(r.Diagnostics, func(a, b Diagnostic) int {
		return cmp.Or(
			cmp.Compare(a.Loc.File, b.Loc.File),
			cmp.Compare(a.Loc.Line, b.Loc.Line),
			cmp.Compare(a.Loc.Column, b.Loc.Column),
			cmp.Compare(a.Code, b.Code),
			cmp.Compare(a.Message, b.Message),
		)
	})
}
