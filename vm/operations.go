package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Core native operations
// ---------------------------------------------------------------------------
//
// A small standard library of native operations. Registering them binds the
// implementations only; a program still has to declare matching operation
// signatures before any node can call them.

// RegisterCoreOperations registers the built-in arithmetic, logic, and
// collection operations on a VM.
func RegisterCoreOperations(vm *VM) {
	vm.RegisterOperation("add", binaryNumberOp(func(a, b float64) float64 { return a + b }))
	vm.RegisterOperation("sub", binaryNumberOp(func(a, b float64) float64 { return a - b }))
	vm.RegisterOperation("mul", binaryNumberOp(func(a, b float64) float64 { return a * b }))
	vm.RegisterOperation("div", OperationFunc(opDiv))
	vm.RegisterOperation("eq", OperationFunc(opEq))
	vm.RegisterOperation("lt", OperationFunc(opLt))
	vm.RegisterOperation("not", OperationFunc(opNot))
	vm.RegisterOperation("concat", OperationFunc(opConcat))
	vm.RegisterOperation("len", OperationFunc(opLen))
}

func arity(inputs []Reference, want int) error {
	if len(inputs) != want {
		return fmt.Errorf("expected %d inputs, got %d", want, len(inputs))
	}
	return nil
}

func numberArg(inputs []Reference, i int) (float64, error) {
	n, ok := inputs[i].Value().AsNumber()
	if !ok {
		return 0, fmt.Errorf("input %d is not a number: %s", i, inputs[i].Value())
	}
	return n, nil
}

// binaryNumberOp adapts a float64 binary function to the Operation contract.
func binaryNumberOp(f func(a, b float64) float64) Operation {
	return OperationFunc(func(inputs []Reference) ([]Reference, error) {
		if err := arity(inputs, 2); err != nil {
			return nil, err
		}
		a, err := numberArg(inputs, 0)
		if err != nil {
			return nil, err
		}
		b, err := numberArg(inputs, 1)
		if err != nil {
			return nil, err
		}
		return []Reference{NewReference(Number(f(a, b)))}, nil
	})
}

func opDiv(inputs []Reference) ([]Reference, error) {
	if err := arity(inputs, 2); err != nil {
		return nil, err
	}
	a, err := numberArg(inputs, 0)
	if err != nil {
		return nil, err
	}
	b, err := numberArg(inputs, 1)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, errors.New("division by zero")
	}
	return []Reference{NewReference(Number(a / b))}, nil
}

func opEq(inputs []Reference) ([]Reference, error) {
	if err := arity(inputs, 2); err != nil {
		return nil, err
	}
	equal := inputs[0].Value().Equal(inputs[1].Value())
	return []Reference{NewReference(Bool(equal))}, nil
}

func opLt(inputs []Reference) ([]Reference, error) {
	if err := arity(inputs, 2); err != nil {
		return nil, err
	}
	a, err := numberArg(inputs, 0)
	if err != nil {
		return nil, err
	}
	b, err := numberArg(inputs, 1)
	if err != nil {
		return nil, err
	}
	return []Reference{NewReference(Bool(a < b))}, nil
}

func opNot(inputs []Reference) ([]Reference, error) {
	if err := arity(inputs, 1); err != nil {
		return nil, err
	}
	b, ok := inputs[0].Value().AsBool()
	if !ok {
		return nil, fmt.Errorf("input 0 is not a boolean: %s", inputs[0].Value())
	}
	return []Reference{NewReference(Bool(!b))}, nil
}

func opConcat(inputs []Reference) ([]Reference, error) {
	if err := arity(inputs, 2); err != nil {
		return nil, err
	}
	a, ok := inputs[0].Value().AsString()
	if !ok {
		return nil, fmt.Errorf("input 0 is not a string: %s", inputs[0].Value())
	}
	b, ok := inputs[1].Value().AsString()
	if !ok {
		return nil, fmt.Errorf("input 1 is not a string: %s", inputs[1].Value())
	}
	return []Reference{NewReference(String(a + b))}, nil
}

func opLen(inputs []Reference) ([]Reference, error) {
	if err := arity(inputs, 1); err != nil {
		return nil, err
	}
	v := inputs[0].Value()
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return []Reference{NewReference(Number(float64(len(s))))}, nil
	case KindList:
		list, _ := v.AsList()
		return []Reference{NewReference(Number(float64(len(list))))}, nil
	case KindObject:
		object, _ := v.AsObject()
		return []Reference{NewReference(Number(float64(len(object))))}, nil
	default:
		return nil, fmt.Errorf("input 0 has no length: %s", v)
	}
}
