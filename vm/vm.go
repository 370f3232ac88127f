package vm

import (
	"github.com/google/uuid"

	"github.com/chazu/flowvm/ast"
)

// ---------------------------------------------------------------------------
// VM: the flowvm execution engine
// ---------------------------------------------------------------------------

// Operation is a host-supplied native operation. Invoke receives the node's
// ordered input references and returns the ordered outputs. An Operation
// must not re-enter the VM while holding a Reference; if it retains a
// Reference past its return it must hold a Borrow for as long as it reads.
type Operation interface {
	Invoke(inputs []Reference) ([]Reference, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(inputs []Reference) ([]Reference, error)

// Invoke calls the function.
func (f OperationFunc) Invoke(inputs []Reference) ([]Reference, error) {
	return f(inputs)
}

// VM interprets one compiled program. It owns the compiled pipelines, the
// dispatch table, the native operation registry, the global variable store,
// and the running/completed event tables. A VM is single-threaded and
// cooperative: the host decides how many steps to take per tick, and no two
// steps ever run concurrently.
type VM struct {
	program    *ast.Program
	operations map[string]Operation
	globals    map[uuid.UUID]Reference

	running   map[uuid.UUID]*eventRun
	completed map[uuid.UUID][]Reference

	eventPipes  map[uuid.UUID]*pipeline
	funcPipes   map[uuid.UUID]*pipeline
	methodPipes map[methodKey]*pipeline
	dispatch    dispatchTable

	// terminals is the union of terminal nodes across every compiled
	// construct, consulted by the stepper for jump-stack popping.
	terminals map[uuid.UUID]struct{}
}

// New compiles a program into a VM. Compilation orders every event,
// function, and chosen method body and resolves the dispatch table; any
// cyclic graph or unresolved reference fails the whole construction and no
// VM is returned.
func New(program *ast.Program) (*VM, error) {
	terminals := make(map[uuid.UUID]struct{})

	eventPipes := make(map[uuid.UUID]*pipeline, len(program.Events))
	for i := range program.Events {
		ev := &program.Events[i]
		pipe, err := compilePipeline(constructLabel("event", ev.Name),
			ev.Nodes, ev.Variables, len(ev.Inputs), len(ev.Outputs), terminals)
		if err != nil {
			return nil, err
		}
		eventPipes[ev.ID] = pipe
	}

	funcPipes := make(map[uuid.UUID]*pipeline, len(program.Functions))
	for i := range program.Functions {
		fn := &program.Functions[i]
		pipe, err := compilePipeline(constructLabel("function", fn.Name),
			fn.Nodes, fn.Variables, len(fn.Inputs), len(fn.Outputs), terminals)
		if err != nil {
			return nil, err
		}
		funcPipes[fn.ID] = pipe
	}

	dispatch, methodPipes, err := buildDispatch(program, terminals)
	if err != nil {
		return nil, err
	}

	globals := make(map[uuid.UUID]Reference, len(program.Variables))
	for _, v := range program.Variables {
		globals[v.ID] = NoneRef()
	}

	return &VM{
		program:     program,
		operations:  make(map[string]Operation),
		globals:     globals,
		running:     make(map[uuid.UUID]*eventRun),
		completed:   make(map[uuid.UUID][]Reference),
		eventPipes:  eventPipes,
		funcPipes:   funcPipes,
		methodPipes: methodPipes,
		dispatch:    dispatch,
		terminals:   terminals,
	}, nil
}

// Program returns the program this VM interprets.
func (vm *VM) Program() *ast.Program { return vm.program }

// ---------------------------------------------------------------------------
// Native operation registry
// ---------------------------------------------------------------------------

// RegisterOperation binds a native implementation to an operation name.
// Registering over an existing name replaces it.
func (vm *VM) RegisterOperation(name string, op Operation) {
	vm.operations[name] = op
}

// UnregisterOperation removes a native implementation. It reports whether
// one was registered.
func (vm *VM) UnregisterOperation(name string) bool {
	_, ok := vm.operations[name]
	delete(vm.operations, name)
	return ok
}

// ---------------------------------------------------------------------------
// Global variables
// ---------------------------------------------------------------------------

// GlobalVariable resolves a global variable by id or name.
func (vm *VM) GlobalVariable(ref ast.Reference) (Reference, error) {
	if ref.ID != uuid.Nil {
		if r, ok := vm.globals[ref.ID]; ok {
			return r, nil
		}
	} else if v := vm.program.Variable(ref); v != nil {
		if r, ok := vm.globals[v.ID]; ok {
			return r, nil
		}
	}
	return Reference{}, &NotFoundError{Kind: "global variable", Ref: ref}
}

// SetGlobalVariable rebinds a global variable slot to a new Reference and
// returns the previous one.
func (vm *VM) SetGlobalVariable(ref ast.Reference, value Reference) (Reference, error) {
	var id uuid.UUID
	if ref.ID != uuid.Nil {
		id = ref.ID
	} else if v := vm.program.Variable(ref); v != nil {
		id = v.ID
	}
	prev, ok := vm.globals[id]
	if !ok {
		return Reference{}, &NotFoundError{Kind: "global variable", Ref: ref}
	}
	vm.globals[id] = value
	return prev, nil
}

// ---------------------------------------------------------------------------
// Event lifecycle
// ---------------------------------------------------------------------------

// RunEvent triggers an event by name and returns an opaque handle without
// blocking. Input arity is validated against the event's declaration before
// any state changes. An event without an entry node completes synchronously
// with empty outputs.
func (vm *VM) RunEvent(name string, inputs []Reference) (uuid.UUID, error) {
	ev := vm.program.EventNamed(name)
	if ev == nil {
		return uuid.Nil, &NotFoundError{Kind: "event", Ref: ast.ByName(name)}
	}
	if len(inputs) != len(ev.Inputs) {
		return uuid.Nil, &ArityError{
			What:     "inputs",
			Context:  constructLabel("event", name),
			Expected: len(ev.Inputs),
			Got:      len(inputs),
		}
	}
	handle := uuid.New()
	if ev.Entry.IsNone() {
		vm.completed[handle] = nil
		return handle, nil
	}
	pipe, ok := vm.eventPipes[ev.ID]
	if !ok {
		return uuid.Nil, &NotFoundError{Kind: "event", Ref: ast.ByName(name)}
	}
	// Execution always begins at the top of the compiled order so every
	// node's data dependencies are cached before it runs; the entry
	// reference only decides whether the event runs at all.
	vm.running[handle] = newEventRun(pipe, inputs)
	return handle, nil
}

// DestroyEvent discards a running event's context stack and moves it to
// completed with empty outputs.
func (vm *VM) DestroyEvent(handle uuid.UUID) error {
	if _, ok := vm.running[handle]; !ok {
		return &NotFoundError{Kind: "event handle", Ref: ast.ByID(handle)}
	}
	delete(vm.running, handle)
	vm.completed[handle] = nil
	return nil
}

// ProcessEvents drives every running event forward until it halts (stays
// running) or exhausts its root frame (moves to completed). The batch stops
// at the first error; events not yet processed by this call are left
// running untouched.
func (vm *VM) ProcessEvents() error {
	handles := make([]uuid.UUID, 0, len(vm.running))
	for handle := range vm.running {
		handles = append(handles, handle)
	}
	for _, handle := range handles {
		run := vm.running[handle]
		done, err := vm.processEvent(run)
		if err != nil {
			return err
		}
		if done {
			delete(vm.running, handle)
			vm.completed[handle] = run.outputs
		}
	}
	return nil
}

// processEvent steps one event until it halts or stops. It reports whether
// the event completed.
func (vm *VM) processEvent(run *eventRun) (bool, error) {
	for {
		status, err := vm.stepEvent(run)
		if err != nil {
			return false, err
		}
		switch status {
		case stepHalt:
			return false, nil
		case stepStop:
			return true, nil
		}
	}
}

// SingleStepEvent executes exactly one node of one running event. When the
// root frame exhausts as a result, the event moves to completed.
func (vm *VM) SingleStepEvent(handle uuid.UUID) error {
	run, ok := vm.running[handle]
	if !ok {
		return &NotFoundError{Kind: "event handle", Ref: ast.ByID(handle)}
	}
	if _, err := vm.stepEvent(run); err != nil {
		return err
	}
	if len(run.frames) == 0 {
		delete(vm.running, handle)
		vm.completed[handle] = run.outputs
	}
	return nil
}

// CompletedEvents drains the completed-outputs table. The table empties on
// return: an immediate second call yields an empty map.
func (vm *VM) CompletedEvents() map[uuid.UUID][]Reference {
	completed := vm.completed
	vm.completed = make(map[uuid.UUID][]Reference)
	return completed
}

// RunningEvents returns the number of events currently running.
func (vm *VM) RunningEvents() int { return len(vm.running) }
