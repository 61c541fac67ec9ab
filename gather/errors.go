package gather

import (
	"errors"

	"github.com/notargets/ResGather/state"
)

var (
	// ErrLabelNotFound is returned when a rank reports a global label that is
	// not part of the global cell ordering
	ErrLabelNotFound = errors.New("gather: global label not found")
	// ErrDuplicatePosition is returned when two packed positions claim the
	// same global position
	ErrDuplicatePosition = errors.New("gather: global position claimed twice")
	// ErrIncomplete is returned when the index maps leave global positions
	// unclaimed
	ErrIncomplete = errors.New("gather: global positions not covered")
	// ErrUnknownWell is returned when a rank sends a well the I/O rank's
	// topology does not contain
	ErrUnknownWell = errors.New("gather: well not in global well state")
	// ErrSizeMismatch is returned when sizes on the wire disagree with the
	// stored index map or the local grid
	ErrSizeMismatch = errors.New("gather: size mismatch")
	// ErrStrideMismatch is returned when a rank sends a field with a stride
	// the global state registered differently
	ErrStrideMismatch = state.ErrStrideMismatch
	// ErrNoIndexMap is returned when data arrives from a rank whose index map
	// was never distributed
	ErrNoIndexMap = errors.New("gather: no index map for rank")
)
