package markov

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned at setup time when a component is
	// constructed with settings it cannot work with.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrCorpusUnavailable is returned when a corpus cannot be counted or enumerated.
	ErrCorpusUnavailable = errors.New("corpus unavailable")
	// ErrStoreUnavailable is returned when the transition store cannot be reached.
	ErrStoreUnavailable = errors.New("transition store unavailable")
	// ErrGenerationBudgetExceeded is returned by Generate when the walk has not
	// reached a terminal edge within the allowed number of steps.
	ErrGenerationBudgetExceeded = errors.New("generation budget exceeded")
	// ErrDegreeMismatch is returned when a generator's window length differs
	// from the degree its model was trained with.
	ErrDegreeMismatch = errors.New("generator degree does not match trained degree")
)

// SelectorError reports a corpus record whose text could not be extracted.
// Builders log it and move on to the next record.
type SelectorError struct {
	Index int
	Err   error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector failed on record %d: %v", e.Index, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

// ValidateDegree checks that a generator walks windows of the same length
// the model was trained with. A trained degree of 0 means unknown and always
// passes.
func ValidateDegree(trained, generating int) error {
	if trained == 0 || trained == generating {
		return nil
	}
	return fmt.Errorf("%w: trained with %d, generating with %d", ErrDegreeMismatch, trained, generating)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
