package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/decision"
	"github.com/jonathan/onboarding-verifier/internal/types"
)

// Result holds the hard errors and soft warnings found for one document.
// Findings carries the same messages in field order for persistence.
type Result struct {
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
	Findings []types.Finding `json:"findings"`
}

// IsValid reports whether no error-severity finding was produced.
func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Decision returns the view of the result consumed by the decision engine.
func (r Result) Decision() decision.Validation {
	return decision.Validation{Errors: r.Errors, Warnings: r.Warnings}
}

func (r *Result) add(field string, sev types.Severity, msg string) {
	r.Findings = append(r.Findings, types.Finding{Field: field, Severity: sev, Message: msg})
	if sev == types.SeverityError {
		r.Errors = append(r.Errors, msg)
	} else {
		r.Warnings = append(r.Warnings, msg)
	}
}

// Validator checks extracted fields against the rules of their document kind.
type Validator struct {
	now func() time.Time
}

// New creates a Validator using the wall clock for date plausibility.
func New() *Validator {
	return &Validator{now: time.Now}
}

// NewWithClock creates a Validator with a fixed notion of "now", for tests.
func NewWithClock(now func() time.Time) *Validator {
	return &Validator{now: now}
}

// Validate applies the kind's field rules in declaration order.
func (v *Validator) Validate(kind types.DocumentKind, fields map[string]string) (Result, error) {
	spec, ok := kind.Spec()
	if !ok {
		return Result{}, &UnknownKindError{Kind: string(kind)}
	}

	result := Result{Errors: []string{}, Warnings: []string{}, Findings: []types.Finding{}}
	for _, field := range spec.Fields {
		value, present := lookup(field, fields)
		if !present {
			switch field.Missing {
			case types.MissingError:
				result.add(field.Name, types.SeverityError, fmt.Sprintf("%s is missing", field.Name))
			case types.MissingWarning:
				result.add(field.Name, types.SeverityWarning, fmt.Sprintf("%s is missing", field.Name))
			}
			continue
		}

		if sev, msg := v.checkFormat(field, value); msg != "" {
			result.add(field.Name, sev, msg)
		}
	}

	return result, nil
}

// lookup finds a non-blank value for the field. The canonical name is tried
// first, then each alias in declared order, so the choice never depends on map order.
// Exact keys win over case-insensitive ones.
func lookup(field types.FieldSpec, fields map[string]string) (string, bool) {
	names := append([]string{field.Name}, field.Aliases...)
	for _, name := range names {
		if v := strings.TrimSpace(fields[name]); v != "" {
			return v, true
		}
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, name := range names {
		for _, key := range keys {
			if v := strings.TrimSpace(fields[key]); v != "" && strings.EqualFold(key, name) {
				return v, true
			}
		}
	}
	return "", false
}

func (v *Validator) checkFormat(field types.FieldSpec, value string) (types.Severity, string) {
	switch field.Format {
	case types.FormatDate:
		d, ok := parseDate(value)
		if !ok {
			return types.SeverityWarning, fmt.Sprintf("%s %q is not a recognizable date", field.Name, value)
		}
		if d.After(v.now()) {
			return types.SeverityWarning, fmt.Sprintf("%s %q is in the future", field.Name, value)
		}
	case types.FormatPercentage:
		if !plausibleMarks(value) {
			return types.SeverityWarning, fmt.Sprintf("%s %q is not a plausible percentage or CGPA", field.Name, value)
		}
	case types.FormatAmount:
		if _, ok := parseAmount(value); !ok {
			return types.SeverityError, fmt.Sprintf("%s %q is not a valid positive amount", field.Name, value)
		}
	case types.FormatYear:
		if !plausibleYear(value, v.now()) {
			return types.SeverityWarning, fmt.Sprintf("%s %q is not a plausible year", field.Name, value)
		}
	case types.FormatBoolean:
		if !isTrue(value) {
			return types.SeverityWarning, fmt.Sprintf("%s is %q", field.Name, value)
		}
	case types.FormatIdentifier:
		if len(normalizeIdentifier(value)) < 4 {
			return types.SeverityWarning, fmt.Sprintf("%s %q looks too short", field.Name, value)
		}
	}
	return "", ""
}
