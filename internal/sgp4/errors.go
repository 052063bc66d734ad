package sgp4

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a propagation failure.
type ErrorKind int

const (
	KindEccentricity ErrorKind = iota + 1
	KindMeanMotion
	KindSemiLatusRectum
	KindDecayed
	KindKeplerNonConvergence
)

func (k ErrorKind) String() string {
	switch k {
	case KindEccentricity:
		return "eccentricity_out_of_range"
	case KindMeanMotion:
		return "mean_motion_non_positive"
	case KindSemiLatusRectum:
		return "semi_latus_rectum_negative"
	case KindDecayed:
		return "decayed"
	case KindKeplerNonConvergence:
		return "kepler_non_convergence"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is matching.
var (
	ErrInvalidElements = errors.New("invalid orbital elements")

	ErrPropagationFailure     = errors.New("propagation failure")
	ErrEccentricityOutOfRange = errors.New("eccentricity out of range")
	ErrMeanMotion             = errors.New("mean motion non-positive")
	ErrSemiLatusRectum        = errors.New("semi-latus rectum negative")
	ErrDecayed                = errors.New("satellite decayed")
	ErrKeplerNonConvergence   = errors.New("kepler solver did not converge")
)

// Numeric diagnostic codes, matching the classic SGP4 error numbering.
// Code 7 is used for Kepler non-convergence, which the classic code does not
// report.
const (
	codeMeanEccentricity = 1
	codeMeanMotion       = 2
	codePertEccentricity = 3
	codeSemiLatus        = 4
	codeDecayed          = 6
	codeKepler           = 7
)

// PropagationError reports why a propagation call failed. A failed call
// never carries a usable position.
type PropagationError struct {
	Kind    ErrorKind
	Code    int
	Minutes float64 // time since epoch of the failed call
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("sgp4: %s (code %d) at %.3f min since epoch", e.Kind, e.Code, e.Minutes)
}

// Is lets errors.Is match both the umbrella failure and the kind sentinel.
func (e *PropagationError) Is(target error) bool {
	if target == ErrPropagationFailure {
		return true
	}
	return target == e.Kind.sentinel()
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindEccentricity:
		return ErrEccentricityOutOfRange
	case KindMeanMotion:
		return ErrMeanMotion
	case KindSemiLatusRectum:
		return ErrSemiLatusRectum
	case KindDecayed:
		return ErrDecayed
	case KindKeplerNonConvergence:
		return ErrKeplerNonConvergence
	default:
		return nil
	}
}

func propagationError(code int, tsince float64) *PropagationError {
	var kind ErrorKind
	switch code {
	case codeMeanEccentricity, codePertEccentricity:
		kind = KindEccentricity
	case codeMeanMotion:
		kind = KindMeanMotion
	case codeSemiLatus:
		kind = KindSemiLatusRectum
	case codeDecayed:
		kind = KindDecayed
	case codeKepler:
		kind = KindKeplerNonConvergence
	}
	return &PropagationError{Kind: kind, Code: code, Minutes: tsince}
}

// InvalidElementsError is returned when a two-line element set is rejected
// at construction.
type InvalidElementsError struct {
	Field  string
	Reason string
}

func (e *InvalidElementsError) Error() string {
	return fmt.Sprintf("invalid elements: %s: %s", e.Field, e.Reason)
}

func (e *InvalidElementsError) Unwrap() error {
	return ErrInvalidElements
}

func invalid(field, format string, args ...any) error {
	return &InvalidElementsError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
