package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: tagged union
// ---------------------------------------------------------------------------

// Kind identifies the variant a Value holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

var kindNames = [...]string{
	KindNone:   "None",
	KindBool:   "Bool",
	KindNumber: "Number",
	KindString: "String",
	KindList:   "List",
	KindObject: "Object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is the tagged union flowing through node graphs. List and Object
// hold References, never Values, so element aliasing survives nesting.
// The zero Value is None.
type Value struct {
	kind    Kind
	boolean bool
	number  float64
	str     string
	list    []Reference
	object  map[string]Reference
}

// None returns the None value.
func None() Value { return Value{} }

// Bool builds a Bool value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number builds a Number value.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// String builds a String value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// List builds a List value over the given element references.
func List(items ...Reference) Value {
	return Value{kind: KindList, list: items}
}

// Object builds an Object value over the given field references.
func Object(fields map[string]Reference) Value {
	if fields == nil {
		fields = make(map[string]Reference)
	}
	return Value{kind: KindObject, object: fields}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether the value is None.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsBool returns the boolean payload, and whether the value is a Bool.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsNumber returns the numeric payload, and whether the value is a Number.
func (v Value) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }

// AsString returns the string payload, and whether the value is a String.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsList returns the element references, and whether the value is a List.
func (v Value) AsList() ([]Reference, bool) { return v.list, v.kind == KindList }

// AsObject returns the field references, and whether the value is an Object.
func (v Value) AsObject() (map[string]Reference, bool) {
	return v.object, v.kind == KindObject
}

// Clone returns a value with fresh list/object containers holding the same
// element References. Mutating an element through the clone is still
// observable through the original; replacing a whole element is not.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		list := make([]Reference, len(v.list))
		copy(list, v.list)
		return Value{kind: KindList, list: list}
	case KindObject:
		object := make(map[string]Reference, len(v.object))
		for k, r := range v.object {
			object[k] = r
		}
		return Value{kind: KindObject, object: object}
	default:
		return v
	}
}

// Equal compares two values structurally, following element references.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.boolean == o.boolean
	case KindNumber:
		return v.number == o.number
	case KindString:
		return v.str == o.str
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Value().Equal(o.list[i].Value()) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.object) != len(o.object) {
			return false
		}
		for k, r := range v.object {
			or, ok := o.object[k]
			if !ok || !r.Value().Equal(or.Value()) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindNumber:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindList:
		var b strings.Builder
		b.WriteByte('[')
		for i, r := range v.list {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.Value().String())
		}
		b.WriteByte(']')
		return b.String()
	case KindObject:
		keys := make([]string, 0, len(v.object))
		for k := range v.object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", k, v.object[k].Value())
		}
		b.WriteByte('}')
		return b.String()
	}
	return "<invalid>"
}

// ---------------------------------------------------------------------------
// Reference: shared, mutably-aliasable handle
// ---------------------------------------------------------------------------

// Reference is a shared handle to one Value. Copies of a Reference alias the
// same cell: a mutation through one copy is observable through every other.
// The zero Reference is nil and unusable; obtain handles via NewReference.
type Reference struct {
	cell *cell
}

type cell struct {
	value   Value
	borrows int
}

// NewReference wraps a value in a fresh handle.
func NewReference(v Value) Reference {
	return Reference{cell: &cell{value: v}}
}

// NoneRef returns a fresh handle to None. Output slots and local variables
// start out as distinct NoneRef cells.
func NoneRef() Reference { return NewReference(None()) }

// IsNil reports whether the handle points at no cell at all.
func (r Reference) IsNil() bool { return r.cell == nil }

// Same reports whether two handles alias the same cell.
func (r Reference) Same(o Reference) bool { return r.cell != nil && r.cell == o.cell }

// Value reads the current content.
func (r Reference) Value() Value {
	if r.cell == nil {
		return None()
	}
	return r.cell.value
}

// Borrow registers a read borrow on the cell. While any borrow is held the
// cell refuses replacement (TryReplace fails). A native operation that
// retains a Reference across a return into the VM must hold a borrow for as
// long as it keeps reading.
func (r Reference) Borrow() Value {
	if r.cell == nil {
		return None()
	}
	r.cell.borrows++
	return r.cell.value
}

// Release drops one borrow. Releasing more times than borrowed is a
// programming error and panics.
func (r Reference) Release() {
	if r.cell == nil {
		return
	}
	if r.cell.borrows == 0 {
		panic("vm: Reference.Release without matching Borrow")
	}
	r.cell.borrows--
}

// TryReplace overwrites the cell content, failing with a MutationError when
// the cell is borrow-held at this instant.
func (r Reference) TryReplace(v Value) error {
	if r.cell == nil {
		return &MutationError{Destination: r}
	}
	if r.cell.borrows > 0 {
		return &MutationError{Destination: r}
	}
	r.cell.value = v
	return nil
}
