package vm

import (
	"fmt"

	"github.com/chazu/flowvm/ast"
)

// ---------------------------------------------------------------------------
// Stepper
// ---------------------------------------------------------------------------
//
// One step executes one node's effect and moves the instruction pointer:
// either an explicit jump (control-flow nodes and terminal bookkeeping) or
// an increment, never both. Call nodes push a frame instead; the caller's
// pointer stays on the call node until the callee returns.

type stepStatus uint8

const (
	stepContinue stepStatus = iota
	stepHalt
	stepStop
)

// stepEvent executes exactly one node of one running event.
func (vm *VM) stepEvent(run *eventRun) (stepStatus, error) {
	if err := vm.settle(run); err != nil {
		return stepStop, err
	}
	node, err := run.currentNode()
	if err != nil {
		return stepStop, err
	}
	if node == nil {
		return stepStop, nil
	}

	switch node.Type {
	case ast.NodeHalt:
		// Cross-tick suspension point: the step call ends, the event
		// stays running and resumes after the halt node.
		if err := vm.advanceRun(run); err != nil {
			return stepStop, err
		}
		return stepHalt, nil

	case ast.NodeLoop:
		run.pushJump(jump{kind: jumpLoop, node: node.ID})
		return stepContinue, run.goTo(node.Body)

	case ast.NodeBreak:
		loopNode, err := vm.enclosingLoop(run, "break")
		if err != nil {
			return stepContinue, err
		}
		return stepContinue, run.goTo(loopNode.Next)

	case ast.NodeContinue:
		loopNode, err := vm.enclosingLoop(run, "continue")
		if err != nil {
			return stepContinue, err
		}
		return stepContinue, run.goTo(loopNode.Body)

	case ast.NodeIfElse:
		link, err := inputLink(node, 0)
		if err != nil {
			return stepContinue, err
		}
		cond, err := run.linkValue(link)
		if err != nil {
			return stepContinue, err
		}
		b, ok := cond.Value().AsBool()
		if !ok {
			return stepContinue, &ValueKindError{Want: "boolean", Value: cond}
		}
		run.pushJump(jump{kind: jumpIfElse, node: node.ID})
		if b {
			return stepContinue, run.goTo(node.Then)
		}
		return stepContinue, run.goTo(node.Else)

	case ast.NodeGetInstance:
		instance, err := run.instanceValue()
		if err != nil {
			return stepContinue, err
		}
		run.cacheOutput(node.ID, instance)

	case ast.NodeGetGlobalVariable:
		value, err := vm.GlobalVariable(node.Ref)
		if err != nil {
			return stepContinue, err
		}
		run.cacheOutput(node.ID, value)

	case ast.NodeGetLocalVariable:
		value, err := run.localVariable(node.Ref)
		if err != nil {
			return stepContinue, err
		}
		run.cacheOutput(node.ID, value)

	case ast.NodeGetInput:
		value, err := run.inputValue(node.Index)
		if err != nil {
			return stepContinue, err
		}
		run.cacheOutput(node.ID, value)

	case ast.NodeSetOutput:
		link, err := inputLink(node, 0)
		if err != nil {
			return stepContinue, err
		}
		value, err := run.linkValue(link)
		if err != nil {
			return stepContinue, err
		}
		if err := run.setOutputValue(node.Index, value); err != nil {
			return stepContinue, err
		}

	case ast.NodeGetValue:
		value, err := FromDocument(node.Value)
		if err != nil {
			return stepContinue, err
		}
		run.cacheOutput(node.ID, NewReference(value))

	case ast.NodeGetListItem:
		ref, err := vm.singleInput(run, node)
		if err != nil {
			return stepContinue, err
		}
		list, ok := ref.Value().AsList()
		if !ok {
			return stepContinue, &ValueKindError{Want: "list", Value: ref}
		}
		if node.Index < 0 || node.Index >= len(list) {
			return stepContinue, &IndexError{What: "list item", Len: len(list), Index: node.Index}
		}
		run.cacheOutput(node.ID, list[node.Index])

	case ast.NodeGetObjectItem:
		ref, err := vm.singleInput(run, node)
		if err != nil {
			return stepContinue, err
		}
		object, ok := ref.Value().AsObject()
		if !ok {
			return stepContinue, &ValueKindError{Want: "object", Value: ref}
		}
		item, ok := object[node.Key]
		if !ok {
			return stepContinue, &KeyError{Key: node.Key, Value: ref}
		}
		run.cacheOutput(node.ID, item)

	case ast.NodeMutateValue:
		if err := vm.mutateValue(run, node); err != nil {
			return stepContinue, err
		}

	case ast.NodeCallOperation:
		if err := vm.callOperation(run, node); err != nil {
			return stepContinue, err
		}

	case ast.NodeCallFunction:
		// The new frame executes from the top of its order; the caller's
		// pointer advances when the frame returns.
		return stepContinue, vm.callFunction(run, node)

	case ast.NodeCallMethod:
		return stepContinue, vm.callMethod(run, node)

	default:
		return stepContinue, fmt.Errorf("vm: cannot execute node type %s", node.Type)
	}

	return stepContinue, vm.finishNode(run, node)
}

// enclosingLoop unwinds the jump stack to the innermost loop marker and
// returns the loop node it references.
func (vm *VM) enclosingLoop(run *eventRun, op string) (*ast.Node, error) {
	loopID, err := run.popLoopJump(op)
	if err != nil {
		return nil, err
	}
	f := run.top()
	loopNode, err := f.pipe.node(loopID)
	if err != nil {
		return nil, err
	}
	if loopNode.Type != ast.NodeLoop {
		return nil, &ControlFlowError{Reason: "jump marker does not reference a loop"}
	}
	return loopNode, nil
}

// singleInput reads a node's sole data input.
func (vm *VM) singleInput(run *eventRun, node *ast.Node) (Reference, error) {
	link, err := inputLink(node, 0)
	if err != nil {
		return Reference{}, err
	}
	return run.linkValue(link)
}

// mutateValue overwrites the destination cell (link 0) with a clone of the
// source's (link 1) current content, preserving every alias of the
// destination handle.
func (vm *VM) mutateValue(run *eventRun, node *ast.Node) error {
	dstLink, err := inputLink(node, 0)
	if err != nil {
		return err
	}
	dst, err := run.linkValue(dstLink)
	if err != nil {
		return err
	}
	srcLink, err := inputLink(node, 1)
	if err != nil {
		return err
	}
	src, err := run.linkValue(srcLink)
	if err != nil {
		return err
	}
	if err := dst.TryReplace(src.Value().Clone()); err != nil {
		return &MutationError{Destination: dst, Source: src}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// gatherInputs evaluates a call node's input links against the frame cache.
func (vm *VM) gatherInputs(run *eventRun, node *ast.Node) ([]Reference, error) {
	inputs := make([]Reference, len(node.Inputs))
	for i, link := range node.Inputs {
		value, err := run.linkValue(link)
		if err != nil {
			return nil, err
		}
		inputs[i] = value
	}
	return inputs, nil
}

func (vm *VM) callOperation(run *eventRun, node *ast.Node) error {
	sig := vm.program.Operation(node.Ref)
	if sig == nil {
		return &NotFoundError{Kind: "operation", Ref: node.Ref}
	}
	impl, ok := vm.operations[sig.Name]
	if !ok {
		return &NotFoundError{Kind: "registered operation", Ref: ast.ByName(sig.Name)}
	}
	inputs, err := vm.gatherInputs(run, node)
	if err != nil {
		return err
	}
	if len(inputs) != len(sig.Inputs) {
		return &ArityError{
			What:     "inputs",
			Context:  constructLabel("operation", sig.Name),
			Expected: len(sig.Inputs),
			Got:      len(inputs),
		}
	}
	outputs, err := impl.Invoke(inputs)
	if err != nil {
		snapshot := make([]Value, len(inputs))
		for i, r := range inputs {
			snapshot[i] = r.Value()
		}
		return &OperationError{Name: sig.Name, Inputs: snapshot, Err: err}
	}
	if len(outputs) != len(sig.Outputs) {
		return &ArityError{
			What:     "outputs",
			Context:  constructLabel("operation", sig.Name),
			Expected: len(sig.Outputs),
			Got:      len(outputs),
		}
	}
	run.cacheOutputs(node.ID, outputs)
	return nil
}

func (vm *VM) callFunction(run *eventRun, node *ast.Node) error {
	fn := vm.program.Function(node.Ref)
	if fn == nil {
		return &NotFoundError{Kind: "function", Ref: node.Ref}
	}
	pipe, ok := vm.funcPipes[fn.ID]
	if !ok {
		return &NotFoundError{Kind: "function", Ref: node.Ref}
	}
	inputs, err := vm.gatherInputs(run, node)
	if err != nil {
		return err
	}
	if len(inputs) != pipe.inputs {
		return &ArityError{
			What:     "inputs",
			Context:  constructLabel("function", fn.Name),
			Expected: pipe.inputs,
			Got:      len(inputs),
		}
	}
	run.frames = append(run.frames, newFrame(pipe, node.ID, true, Reference{}, inputs))
	return vm.settle(run)
}

func (vm *VM) callMethod(run *eventRun, node *ast.Node) error {
	typ := vm.program.Type(node.TypeRef)
	if typ == nil {
		return &NotFoundError{Kind: "type", Ref: node.TypeRef}
	}
	methodID, err := resolveMethod(vm.program, typ, node.MethodRef)
	if err != nil {
		return err
	}
	pipe, ok := vm.methodPipes[methodKey{typeID: typ.ID, methodID: methodID}]
	if !ok {
		return &NotFoundError{Kind: "method implementation", Ref: node.MethodRef}
	}
	inputs, err := vm.gatherInputs(run, node)
	if err != nil {
		return err
	}
	if len(inputs) != pipe.inputs {
		return &ArityError{
			What:     "inputs",
			Context:  constructLabel("method", typ.Name),
			Expected: pipe.inputs,
			Got:      len(inputs),
		}
	}
	if len(inputs) == 0 {
		return &IndexError{What: "input link", Len: 0, Index: 0}
	}
	// The call's first input is the bound instance.
	run.frames = append(run.frames, newFrame(pipe, node.ID, true, inputs[0], inputs))
	return vm.settle(run)
}

// ---------------------------------------------------------------------------
// Pointer advancement and frame return
// ---------------------------------------------------------------------------

// finishNode completes one executed node. A terminal node pops one jump
// marker: a Loop marker redirects to the loop node itself (re-evaluating the
// loop), an IfElse marker redirects past the if-else, the sentinel falls
// through to plain advancement.
func (vm *VM) finishNode(run *eventRun, node *ast.Node) error {
	if _, terminal := vm.terminals[node.ID]; terminal {
		j, err := run.popJump()
		if err != nil {
			return err
		}
		f := run.top()
		switch j.kind {
		case jumpLoop:
			loopNode, err := f.pipe.node(j.node)
			if err != nil {
				return err
			}
			if loopNode.Type != ast.NodeLoop {
				return &ControlFlowError{Reason: "jump marker does not reference a loop"}
			}
			return run.goTo(ast.ByID(j.node))
		case jumpIfElse:
			ifNode, err := f.pipe.node(j.node)
			if err != nil {
				return err
			}
			if ifNode.Type != ast.NodeIfElse {
				return &ControlFlowError{Reason: "jump marker does not reference an if-else"}
			}
			return run.goTo(ifNode.Next)
		}
	}
	return vm.advanceRun(run)
}

// advanceRun increments the top frame's instruction pointer and settles any
// frames that ran off the end of their order.
func (vm *VM) advanceRun(run *eventRun) error {
	if f := run.top(); f != nil {
		f.ip++
	}
	return vm.settle(run)
}

// settle pops exhausted frames. A nested frame's outputs are cached in the
// caller under the call node, which is then finished like any other executed
// node; the root frame's outputs become the event's final outputs.
func (vm *VM) settle(run *eventRun) error {
	for {
		f := run.top()
		if f == nil || !f.exhausted() {
			return nil
		}
		run.frames = run.frames[:len(run.frames)-1]
		if !f.nested {
			run.outputs = f.outputs
			continue
		}
		caller := run.top()
		run.cacheOutputs(f.caller, f.outputs)
		callNode, err := caller.pipe.node(f.caller)
		if err != nil {
			return err
		}
		if err := vm.finishNode(run, callNode); err != nil {
			return err
		}
	}
}
