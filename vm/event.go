package vm

import (
	"github.com/google/uuid"

	"github.com/chazu/flowvm/ast"
)

// ---------------------------------------------------------------------------
// Event activations: frames and jump stacks
// ---------------------------------------------------------------------------
//
// A running event is a stack of frames, one per nested event, function, or
// method activation. The innermost frame executes; structured control flow
// is bookkept on a per-frame jump stack so execution can suspend and resume
// across host ticks without borrowing the Go call stack.

type jumpKind uint8

const (
	jumpSentinel jumpKind = iota
	jumpLoop
	jumpIfElse
)

// jump is one control-flow marker. Loop and IfElse markers carry the node
// that opened the block; the sentinel seeds every fresh frame.
type jump struct {
	kind jumpKind
	node uuid.UUID
}

// frame is one activation record.
type frame struct {
	pipe     *pipeline
	caller   uuid.UUID // call node in the parent frame
	nested   bool      // false for the event's root frame
	ip       int
	instance Reference // bound instance for method frames, nil handle otherwise
	inputs   []Reference
	outputs  []Reference
	locals   map[uuid.UUID]Reference
	jumps    []jump
	cache    map[uuid.UUID][]Reference // node id -> cached outputs
}

func newFrame(pipe *pipeline, caller uuid.UUID, nested bool, instance Reference, inputs []Reference) *frame {
	outputs := make([]Reference, pipe.outputs)
	for i := range outputs {
		outputs[i] = NoneRef()
	}
	locals := make(map[uuid.UUID]Reference, len(pipe.vars))
	for _, v := range pipe.vars {
		locals[v.ID] = NoneRef()
	}
	return &frame{
		pipe:     pipe,
		caller:   caller,
		nested:   nested,
		instance: instance,
		inputs:   inputs,
		outputs:  outputs,
		locals:   locals,
		jumps:    []jump{{kind: jumpSentinel}},
		cache:    make(map[uuid.UUID][]Reference),
	}
}

func (f *frame) exhausted() bool { return f.ip >= len(f.pipe.order) }

// eventRun is the live state of one triggered event: the frame stack plus
// the final output slots filled when the root frame completes.
type eventRun struct {
	frames  []*frame
	outputs []Reference
}

func newEventRun(pipe *pipeline, inputs []Reference) *eventRun {
	return &eventRun{
		frames: []*frame{newFrame(pipe, uuid.Nil, false, Reference{}, inputs)},
	}
}

func (e *eventRun) top() *frame {
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1]
}

// currentNode returns the node the top frame's instruction pointer rests on,
// or nil when the event has run out of frames.
func (e *eventRun) currentNode() (*ast.Node, error) {
	f := e.top()
	if f == nil || f.exhausted() {
		return nil, nil
	}
	return f.pipe.node(f.pipe.order[f.ip])
}

// ---------------------------------------------------------------------------
// Node output cache
// ---------------------------------------------------------------------------

// cacheOutputs stores a node's outputs in the top frame. Caches are scoped
// to one frame; inner frames never read an enclosing frame's cache.
func (e *eventRun) cacheOutputs(node uuid.UUID, outputs []Reference) {
	if f := e.top(); f != nil {
		f.cache[node] = outputs
	}
}

func (e *eventRun) cacheOutput(node uuid.UUID, output Reference) {
	e.cacheOutputs(node, []Reference{output})
}

// linkValue reads a predecessor's cached output through a data link.
func (e *eventRun) linkValue(link ast.Link) (Reference, error) {
	f := e.top()
	if f == nil {
		return Reference{}, &NotFoundError{Kind: "cached output", Ref: link.Node}
	}
	if link.IsNone() {
		return Reference{}, &NotFoundError{Kind: "cached output", Ref: link.Node}
	}
	id, err := f.pipe.resolve(link.Node)
	if err != nil {
		return Reference{}, err
	}
	outputs, ok := f.cache[id]
	if !ok {
		return Reference{}, &NotFoundError{Kind: "cached output", Ref: link.Node}
	}
	if link.Output < 0 || link.Output >= len(outputs) {
		return Reference{}, &IndexError{What: "cached output", Len: len(outputs), Index: link.Output}
	}
	return outputs[link.Output], nil
}

// inputLink returns the i-th declared input link of a node, failing when the
// node declares fewer.
func inputLink(node *ast.Node, i int) (ast.Link, error) {
	if i < 0 || i >= len(node.Inputs) {
		return ast.Link{}, &IndexError{What: "input link", Len: len(node.Inputs), Index: i}
	}
	return node.Inputs[i], nil
}

// ---------------------------------------------------------------------------
// Instruction pointer movement
// ---------------------------------------------------------------------------

// goTo repositions the top frame's instruction pointer at the given node.
// The node executes next: a jump replaces the normal increment.
func (e *eventRun) goTo(ref ast.Reference) error {
	f := e.top()
	if f == nil {
		return &NotFoundError{Kind: "node", Ref: ref}
	}
	id, err := f.pipe.resolve(ref)
	if err != nil {
		return err
	}
	f.ip = f.pipe.pos[id]
	return nil
}

// Instruction pointer advancement and frame popping live on the VM (see
// interpreter.go): returning from a nested frame runs the caller's call
// node through the same terminal bookkeeping as any other executed node,
// which needs the VM's terminal set.

// ---------------------------------------------------------------------------
// Jump stack
// ---------------------------------------------------------------------------

func (e *eventRun) pushJump(j jump) {
	if f := e.top(); f != nil {
		f.jumps = append(f.jumps, j)
	}
}

func (e *eventRun) popJump() (jump, error) {
	f := e.top()
	if f == nil || len(f.jumps) == 0 {
		return jump{}, &ControlFlowError{Reason: "jump stack underflow"}
	}
	j := f.jumps[len(f.jumps)-1]
	f.jumps = f.jumps[:len(f.jumps)-1]
	return j, nil
}

// popLoopJump unwinds the jump stack to the innermost Loop marker,
// discarding IfElse markers opened inside the loop body. Reaching the
// sentinel means there is no enclosing loop.
func (e *eventRun) popLoopJump(op string) (uuid.UUID, error) {
	f := e.top()
	if f == nil {
		return uuid.Nil, &ControlFlowError{Reason: op + " used outside a loop"}
	}
	for len(f.jumps) > 0 {
		j := f.jumps[len(f.jumps)-1]
		f.jumps = f.jumps[:len(f.jumps)-1]
		switch j.kind {
		case jumpLoop:
			return j.node, nil
		case jumpIfElse:
			continue
		default:
			// Sentinel: restore it, the frame is outside any loop.
			f.jumps = append(f.jumps, j)
			return uuid.Nil, &ControlFlowError{Reason: op + " used outside a loop"}
		}
	}
	return uuid.Nil, &ControlFlowError{Reason: "jump stack underflow"}
}

// ---------------------------------------------------------------------------
// Frame slot access
// ---------------------------------------------------------------------------

func (e *eventRun) instanceValue() (Reference, error) {
	f := e.top()
	if f == nil || f.instance.IsNil() {
		return Reference{}, &NotFoundError{Kind: "instance"}
	}
	return f.instance, nil
}

func (e *eventRun) inputValue(i int) (Reference, error) {
	f := e.top()
	if f == nil || i < 0 || i >= len(f.inputs) {
		n := 0
		if f != nil {
			n = len(f.inputs)
		}
		return Reference{}, &IndexError{What: "input", Len: n, Index: i}
	}
	return f.inputs[i], nil
}

func (e *eventRun) setOutputValue(i int, value Reference) error {
	f := e.top()
	if f == nil || i < 0 || i >= len(f.outputs) {
		n := 0
		if f != nil {
			n = len(f.outputs)
		}
		return &IndexError{What: "output", Len: n, Index: i}
	}
	f.outputs[i] = value
	return nil
}

func (e *eventRun) localVariable(ref ast.Reference) (Reference, error) {
	f := e.top()
	if f != nil {
		if ref.ID != uuid.Nil {
			if r, ok := f.locals[ref.ID]; ok {
				return r, nil
			}
		} else if id, ok := f.pipe.variable(ref); ok {
			if r, ok := f.locals[id]; ok {
				return r, nil
			}
		}
	}
	return Reference{}, &NotFoundError{Kind: "local variable", Ref: ref}
}
