package domain

// ValidationResult accumulates every reason a plan violates the safety
// envelope. All checks run unconditionally; validation never short-circuits
// on the first failure, so a planning loop always sees the complete picture.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	// TooExpensive marks a hard-ceiling volume rejection so callers can
	// classify the failure as ErrTooExpensive rather than a generic
	// disallowed operation.
	TooExpensive bool `json:"too_expensive,omitempty"`
}

// AddError records a violation and marks the result invalid.
func (r *ValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// AddWarning records a non-fatal observation.
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Merge folds another result into the receiver.
func (r *ValidationResult) Merge(other ValidationResult) {
	for _, e := range other.Errors {
		r.AddError(e)
	}
	for _, w := range other.Warnings {
		r.AddWarning(w)
	}
	if other.TooExpensive {
		r.TooExpensive = true
	}
}

// NewValidationResult returns an empty, passing result.
func NewValidationResult() ValidationResult {
	return ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}
}
