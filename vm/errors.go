package vm

import (
	"fmt"

	"github.com/chazu/flowvm/ast"
)

// ---------------------------------------------------------------------------
// Error values
// ---------------------------------------------------------------------------
//
// Everything the engine can fail on is a typed error value: compile-time
// errors abort VM construction, step-time errors abort the current step and
// leave the event running. Nothing here panics across the API boundary.

// CompileError reports a program that cannot be compiled into pipelines.
// No VM is produced when compilation fails.
type CompileError struct {
	Construct string // diagnostic label, e.g. `event "update"`
	Reason    string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("vm: cannot compile %s: %s", e.Construct, e.Reason)
}

// NotFoundError reports an unresolved reference: an unknown event, function,
// type, trait, method, operation, node, variable, or event handle.
type NotFoundError struct {
	Kind string // "event", "node", "global variable", ...
	Ref  ast.Reference
}

func (e *NotFoundError) Error() string {
	if e.Ref.IsNone() {
		return fmt.Sprintf("vm: %s not found", e.Kind)
	}
	return fmt.Sprintf("vm: %s %s not found", e.Kind, e.Ref)
}

// ArityError reports a mismatched number of inputs or outputs.
type ArityError struct {
	What     string // "inputs" or "outputs"
	Context  string // what was being called or run
	Expected int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("vm: %s: wrong number of %s: expected %d, got %d",
		e.Context, e.What, e.Expected, e.Got)
}

// ValueKindError reports a value of the wrong kind, carrying the offending
// reference for diagnosis.
type ValueKindError struct {
	Want  string // "boolean", "list", "object"
	Value Reference
}

func (e *ValueKindError) Error() string {
	return fmt.Sprintf("vm: value is not %s: %s", article(e.Want), e.Value.Value())
}

func article(noun string) string {
	switch noun {
	case "object":
		return "an " + noun
	default:
		return "a " + noun
	}
}

// IndexError reports list indexing out of bounds, or an input/output slot
// index outside the declared arity.
type IndexError struct {
	What  string // "list item", "input", "output"
	Len   int
	Index int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vm: %s index %d out of bounds (length %d)", e.What, e.Index, e.Len)
}

// KeyError reports a missing object key, carrying the offending value.
type KeyError struct {
	Key   string
	Value Reference
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("vm: object key %q not found in %s", e.Key, e.Value.Value())
}

// ControlFlowError reports misuse of the structured control-flow markers:
// break or continue outside a loop, or jump-stack underflow.
type ControlFlowError struct {
	Reason string
}

func (e *ControlFlowError) Error() string {
	return "vm: " + e.Reason
}

// MutationError reports a MutateValue whose destination could not be
// exclusively accessed because a borrow is held on it.
type MutationError struct {
	Destination Reference
	Source      Reference
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("vm: cannot mutate borrowed reference %s", e.Destination.Value())
}

// OperationError wraps a native operation failure with the operation name
// and a snapshot of its inputs.
type OperationError struct {
	Name   string
	Inputs []Value
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("vm: operation %q failed with inputs %v: %v", e.Name, e.Inputs, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// DocumentError reports a document tree that cannot be converted to a Value,
// such as a mapping with a non-string key.
type DocumentError struct {
	Reason string
}

func (e *DocumentError) Error() string {
	return "vm: cannot convert document: " + e.Reason
}
