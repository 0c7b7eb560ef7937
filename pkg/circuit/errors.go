package circuit

import (
	"errors"
	"fmt"
)

// ErrFrozen is returned by builder calls after the circuit has been
// finalized by its first step.
var ErrFrozen = errors.New("circuit is frozen after the first step")

// UnknownHandleError reports an API call referencing an operator handle not
// present in the circuit.
type UnknownHandleError struct {
	Handle Handle
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("unknown operator handle %d", int(e.Handle))
}

// UnknownInputError reports a step supplying rows for an undeclared input
// stream.
type UnknownInputError struct {
	Name string
}

func (e *UnknownInputError) Error() string {
	return fmt.Sprintf("unknown input stream %q", e.Name)
}

// SchemaError reports an input row whose shape disagrees with the declared
// stream schema. The whole step is rejected before any state mutation.
type SchemaError struct {
	Input string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch on input %q: %v", e.Input, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// CycleError reports an edge that would create a cycle outside a declared
// recursive scope.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circuit contains a cycle through %v", e.Nodes)
}

// FixpointError reports a recursive scope that did not reach an empty delta
// within its iteration bound. The step fails and no state from the scope's
// iterations is retained.
type FixpointError struct {
	Scope      string
	Iterations int
}

func (e *FixpointError) Error() string {
	return fmt.Sprintf("recursive scope %s did not converge within %d iterations", e.Scope, e.Iterations)
}
