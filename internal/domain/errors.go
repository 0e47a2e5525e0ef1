package domain

import (
	"errors"
	"fmt"
)

// Fatal preconditions. Both stop the pipeline; callers match them with errors.Is.
var (
	// ErrMalformedInput reports a missing column or an unparseable timestamp or coordinate.
	ErrMalformedInput = errors.New("malformed input")

	// ErrDegenerateTrainingSet reports a training partition holding a single label class.
	ErrDegenerateTrainingSet = errors.New("degenerate training set")
)

var (
	ErrEmptyIncidentSet   = fmt.Errorf("%w: empty incident set", ErrMalformedInput)
	ErrInvalidCoordinates = fmt.Errorf("%w: coordinates out of range", ErrMalformedInput)
)
