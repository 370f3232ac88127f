// Package ast defines the program description consumed by the flowvm
// engine: events, functions, types with trait implementations, traits,
// global variables, native operation signatures, and the node/link graphs
// they own.
//
// Programs are produced by an external authoring pipeline and arrive
// already parsed. This package only models the data and resolves
// references; compilation into executable pipelines lives in package vm.
package ast

import (
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// References and links
// ---------------------------------------------------------------------------

// Reference identifies a program element by id, by name, or not at all.
// The zero value is the "none" reference.
type Reference struct {
	ID   uuid.UUID `cbor:"id,omitempty"`
	Name string    `cbor:"name,omitempty"`
}

// ByID builds a reference to an element id.
func ByID(id uuid.UUID) Reference { return Reference{ID: id} }

// ByName builds a reference to an element name.
func ByName(name string) Reference { return Reference{Name: name} }

// IsNone reports whether the reference points at nothing.
func (r Reference) IsNone() bool { return r.ID == uuid.Nil && r.Name == "" }

// Matches reports whether the reference resolves to the element with the
// given id and name. An id reference matches by id only; a name reference
// matches by name only.
func (r Reference) Matches(id uuid.UUID, name string) bool {
	if r.ID != uuid.Nil {
		return r.ID == id
	}
	if r.Name != "" {
		return r.Name == name
	}
	return false
}

func (r Reference) String() string {
	switch {
	case r.ID != uuid.Nil:
		return r.ID.String()
	case r.Name != "":
		return fmt.Sprintf("%q", r.Name)
	default:
		return "<none>"
	}
}

// Link names a single data dependency: output slot Output of another node.
// The zero value is the "absent" link.
type Link struct {
	Node   Reference `cbor:"node,omitempty"`
	Output int       `cbor:"output,omitempty"`
}

// IsNone reports whether the link is absent.
func (l Link) IsNone() bool { return l.Node.IsNone() }

func (l Link) String() string {
	if l.IsNone() {
		return "<none>"
	}
	return fmt.Sprintf("%s[%d]", l.Node, l.Output)
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// NodeType tags the effect a node performs when stepped.
type NodeType uint8

const (
	NodeInvalid NodeType = iota

	// Control flow
	NodeHalt
	NodeLoop
	NodeIfElse
	NodeBreak
	NodeContinue

	// Data access
	NodeGetInstance
	NodeGetGlobalVariable
	NodeGetLocalVariable
	NodeGetInput
	NodeSetOutput
	NodeGetValue
	NodeGetListItem
	NodeGetObjectItem
	NodeMutateValue

	// Calls
	NodeCallOperation
	NodeCallFunction
	NodeCallMethod
)

var nodeTypeNames = [...]string{
	NodeInvalid:           "Invalid",
	NodeHalt:              "Halt",
	NodeLoop:              "Loop",
	NodeIfElse:            "IfElse",
	NodeBreak:             "Break",
	NodeContinue:          "Continue",
	NodeGetInstance:       "GetInstance",
	NodeGetGlobalVariable: "GetGlobalVariable",
	NodeGetLocalVariable:  "GetLocalVariable",
	NodeGetInput:          "GetInput",
	NodeSetOutput:         "SetOutput",
	NodeGetValue:          "GetValue",
	NodeGetListItem:       "GetListItem",
	NodeGetObjectItem:     "GetObjectItem",
	NodeMutateValue:       "MutateValue",
	NodeCallOperation:     "CallOperation",
	NodeCallFunction:      "CallFunction",
	NodeCallMethod:        "CallMethod",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// Node is one unit of computation in a construct's graph. Which payload
// fields are meaningful depends on Type:
//
//	Loop               Body (first node of the loop body)
//	IfElse             Then, Else (branch entries)
//	GetInput,
//	SetOutput,
//	GetListItem        Index
//	GetObjectItem      Key
//	GetGlobalVariable,
//	GetLocalVariable,
//	CallOperation,
//	CallFunction       Ref
//	CallMethod         TypeRef, MethodRef
//	GetValue           Value (literal document tree)
type Node struct {
	ID     uuid.UUID `cbor:"id"`
	Name   string    `cbor:"name,omitempty"`
	Type   NodeType  `cbor:"type"`
	Next   Reference `cbor:"next,omitempty"`
	Inputs []Link    `cbor:"inputs,omitempty"`

	Body      Reference `cbor:"body,omitempty"`
	Then      Reference `cbor:"then,omitempty"`
	Else      Reference `cbor:"else,omitempty"`
	Index     int       `cbor:"index,omitempty"`
	Key       string    `cbor:"key,omitempty"`
	Ref       Reference `cbor:"ref,omitempty"`
	TypeRef   Reference `cbor:"typeRef,omitempty"`
	MethodRef Reference `cbor:"methodRef,omitempty"`
	Value     any       `cbor:"value,omitempty"`
}

// ---------------------------------------------------------------------------
// Constructs
// ---------------------------------------------------------------------------

// Pin declares one input or output slot of an event, function, method, or
// native operation. Arity is the length of the pin list; flowvm performs no
// per-pin type checking beyond that.
type Pin struct {
	Name string `cbor:"name,omitempty"`
}

// Variable declares a named storage slot. Global variables live on the VM;
// construct variables live on one activation record.
type Variable struct {
	ID   uuid.UUID `cbor:"id"`
	Name string    `cbor:"name,omitempty"`
}

// Method is a callable node graph owned by a trait (default body) or by a
// type's trait implementation (override).
type Method struct {
	ID        uuid.UUID  `cbor:"id"`
	Name      string     `cbor:"name"`
	Inputs    []Pin      `cbor:"inputs,omitempty"`
	Outputs   []Pin      `cbor:"outputs,omitempty"`
	Variables []Variable `cbor:"variables,omitempty"`
	Nodes     []Node     `cbor:"nodes,omitempty"`
}

// Trait declares a named set of method signatures with default bodies.
type Trait struct {
	ID      uuid.UUID `cbor:"id"`
	Name    string    `cbor:"name"`
	Methods []Method  `cbor:"methods,omitempty"`
}

// TraitImpl binds a trait to a type, optionally overriding methods. An
// override replaces the trait's default body for the method with the same
// name.
type TraitImpl struct {
	Trait   Reference `cbor:"trait"`
	Methods []Method  `cbor:"methods,omitempty"`
}

// Type is a named object kind with trait implementations.
type Type struct {
	ID    uuid.UUID   `cbor:"id"`
	Name  string      `cbor:"name"`
	Impls []TraitImpl `cbor:"impls,omitempty"`
}

// Event is an externally triggerable entry-point graph.
type Event struct {
	ID        uuid.UUID  `cbor:"id"`
	Name      string     `cbor:"name"`
	Inputs    []Pin      `cbor:"inputs,omitempty"`
	Outputs   []Pin      `cbor:"outputs,omitempty"`
	Variables []Variable `cbor:"variables,omitempty"`
	Entry     Reference  `cbor:"entry,omitempty"`
	Nodes     []Node     `cbor:"nodes,omitempty"`
}

// Function is a callable node graph without a bound instance.
type Function struct {
	ID        uuid.UUID  `cbor:"id"`
	Name      string     `cbor:"name"`
	Inputs    []Pin      `cbor:"inputs,omitempty"`
	Outputs   []Pin      `cbor:"outputs,omitempty"`
	Variables []Variable `cbor:"variables,omitempty"`
	Nodes     []Node     `cbor:"nodes,omitempty"`
}

// Operation declares the signature of a native operation the host must
// register before any node can call it.
type Operation struct {
	ID      uuid.UUID `cbor:"id"`
	Name    string    `cbor:"name"`
	Inputs  []Pin     `cbor:"inputs,omitempty"`
	Outputs []Pin     `cbor:"outputs,omitempty"`
}

// Program is the immutable description of one compiled flow program.
type Program struct {
	Name       string      `cbor:"name,omitempty"`
	Version    string      `cbor:"version,omitempty"`
	Events     []Event     `cbor:"events,omitempty"`
	Functions  []Function  `cbor:"functions,omitempty"`
	Types      []Type      `cbor:"types,omitempty"`
	Traits     []Trait     `cbor:"traits,omitempty"`
	Variables  []Variable  `cbor:"variables,omitempty"`
	Operations []Operation `cbor:"operations,omitempty"`
}

// ---------------------------------------------------------------------------
// Program lookups
// ---------------------------------------------------------------------------

// Event resolves an event reference, or nil.
func (p *Program) Event(ref Reference) *Event {
	for i := range p.Events {
		if ref.Matches(p.Events[i].ID, p.Events[i].Name) {
			return &p.Events[i]
		}
	}
	return nil
}

// EventNamed resolves an event by name, or nil.
func (p *Program) EventNamed(name string) *Event {
	return p.Event(ByName(name))
}

// Function resolves a function reference, or nil.
func (p *Program) Function(ref Reference) *Function {
	for i := range p.Functions {
		if ref.Matches(p.Functions[i].ID, p.Functions[i].Name) {
			return &p.Functions[i]
		}
	}
	return nil
}

// Type resolves a type reference, or nil.
func (p *Program) Type(ref Reference) *Type {
	for i := range p.Types {
		if ref.Matches(p.Types[i].ID, p.Types[i].Name) {
			return &p.Types[i]
		}
	}
	return nil
}

// Trait resolves a trait reference, or nil.
func (p *Program) Trait(ref Reference) *Trait {
	for i := range p.Traits {
		if ref.Matches(p.Traits[i].ID, p.Traits[i].Name) {
			return &p.Traits[i]
		}
	}
	return nil
}

// Operation resolves a native operation signature, or nil.
func (p *Program) Operation(ref Reference) *Operation {
	for i := range p.Operations {
		if ref.Matches(p.Operations[i].ID, p.Operations[i].Name) {
			return &p.Operations[i]
		}
	}
	return nil
}

// Variable resolves a global variable declaration, or nil.
func (p *Program) Variable(ref Reference) *Variable {
	for i := range p.Variables {
		if ref.Matches(p.Variables[i].ID, p.Variables[i].Name) {
			return &p.Variables[i]
		}
	}
	return nil
}
