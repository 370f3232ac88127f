package vm

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/chazu/flowvm/ast"
)

// additionProgram declares an event that feeds its two inputs through a
// function whose body calls the native "add" operation.
func additionProgram() *ast.Program {
	return &ast.Program{
		Name: "addition",
		Events: []ast.Event{{
			ID:      uuid.New(),
			Name:    "main",
			Inputs:  []ast.Pin{{Name: "a"}, {Name: "b"}},
			Outputs: []ast.Pin{{Name: "sum"}},
			Entry:   ast.ByName("a"),
			Nodes: []ast.Node{
				{ID: uuid.New(), Name: "a", Type: ast.NodeGetInput, Index: 0},
				{ID: uuid.New(), Name: "b", Type: ast.NodeGetInput, Index: 1},
				{ID: uuid.New(), Name: "call", Type: ast.NodeCallFunction, Ref: ast.ByName("sum2"),
					Inputs: []ast.Link{{Node: ast.ByName("a")}, {Node: ast.ByName("b")}}},
				{ID: uuid.New(), Name: "out", Type: ast.NodeSetOutput, Index: 0,
					Inputs: []ast.Link{{Node: ast.ByName("call")}}},
			},
		}},
		Functions: []ast.Function{{
			ID:      uuid.New(),
			Name:    "sum2",
			Inputs:  []ast.Pin{{Name: "x"}, {Name: "y"}},
			Outputs: []ast.Pin{{Name: "sum"}},
			Nodes: []ast.Node{
				{ID: uuid.New(), Name: "x", Type: ast.NodeGetInput, Index: 0},
				{ID: uuid.New(), Name: "y", Type: ast.NodeGetInput, Index: 1},
				{ID: uuid.New(), Name: "op", Type: ast.NodeCallOperation, Ref: ast.ByName("add"),
					Inputs: []ast.Link{{Node: ast.ByName("x")}, {Node: ast.ByName("y")}}},
				{ID: uuid.New(), Name: "ret", Type: ast.NodeSetOutput, Index: 0,
					Inputs: []ast.Link{{Node: ast.ByName("op")}}},
			},
		}},
		Operations: []ast.Operation{
			{ID: uuid.New(), Name: "add", Inputs: []ast.Pin{{}, {}}, Outputs: []ast.Pin{{}}},
		},
	}
}

func numberRefs(nums ...float64) []Reference {
	refs := make([]Reference, len(nums))
	for i, n := range nums {
		refs[i] = NewReference(Number(n))
	}
	return refs
}

func newMachine(t *testing.T, program *ast.Program) *VM {
	t.Helper()
	machine, err := New(program)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	RegisterCoreOperations(machine)
	return machine
}

// drainOne drains the completed table expecting exactly one event.
func drainOne(t *testing.T, machine *VM, handle uuid.UUID) []Reference {
	t.Helper()
	completed := machine.CompletedEvents()
	if len(completed) != 1 {
		t.Fatalf("completed events = %d, want 1", len(completed))
	}
	outputs, ok := completed[handle]
	if !ok {
		t.Fatalf("completed table is missing handle %s", handle)
	}
	return outputs
}

func TestRunEventThroughFunctionCall(t *testing.T) {
	machine := newMachine(t, additionProgram())

	handle, err := machine.RunEvent("main", numberRefs(2, 3))
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	if machine.RunningEvents() != 1 {
		t.Fatalf("running events = %d, want 1", machine.RunningEvents())
	}
	if err := machine.ProcessEvents(); err != nil {
		t.Fatalf("ProcessEvents failed: %v", err)
	}
	if machine.RunningEvents() != 0 {
		t.Fatalf("running events = %d, want 0", machine.RunningEvents())
	}

	outputs := drainOne(t, machine, handle)
	if len(outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(outputs))
	}
	if n, ok := outputs[0].Value().AsNumber(); !ok || n != 5 {
		t.Errorf("output = %s, want 5", outputs[0].Value())
	}
}

func TestCompletedEventsDrainsOnce(t *testing.T) {
	machine := newMachine(t, additionProgram())

	handle, err := machine.RunEvent("main", numberRefs(1, 1))
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	if err := machine.ProcessEvents(); err != nil {
		t.Fatalf("ProcessEvents failed: %v", err)
	}

	first := machine.CompletedEvents()
	if _, ok := first[handle]; !ok {
		t.Fatalf("first drain is missing handle %s", handle)
	}
	second := machine.CompletedEvents()
	if len(second) != 0 {
		t.Errorf("second drain returned %d events, want 0", len(second))
	}
}

func TestRunEventUnknown(t *testing.T) {
	machine := newMachine(t, additionProgram())

	_, err := machine.RunEvent("nonsense", nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "event" {
		t.Fatalf("err = %v, want event NotFoundError", err)
	}
}

func TestRunEventArityMismatchLeavesStateUntouched(t *testing.T) {
	machine := newMachine(t, additionProgram())

	_, err := machine.RunEvent("main", numberRefs(2))
	var arity *ArityError
	if !errors.As(err, &arity) {
		t.Fatalf("err = %v, want ArityError", err)
	}
	if machine.RunningEvents() != 0 {
		t.Errorf("running events = %d, want 0", machine.RunningEvents())
	}
	if completed := machine.CompletedEvents(); len(completed) != 0 {
		t.Errorf("completed events = %d, want 0", len(completed))
	}
}

func TestRunEventWithoutEntryCompletesImmediately(t *testing.T) {
	program := &ast.Program{
		Events: []ast.Event{{ID: uuid.New(), Name: "idle"}},
	}
	machine := newMachine(t, program)

	handle, err := machine.RunEvent("idle", nil)
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	if machine.RunningEvents() != 0 {
		t.Errorf("running events = %d, want 0", machine.RunningEvents())
	}
	outputs := drainOne(t, machine, handle)
	if len(outputs) != 0 {
		t.Errorf("outputs = %d, want 0", len(outputs))
	}
}

// haltProgram caches a literal, suspends, then emits the literal.
func haltProgram() *ast.Program {
	return &ast.Program{
		Events: []ast.Event{{
			ID:      uuid.New(),
			Name:    "tick",
			Outputs: []ast.Pin{{}},
			Entry:   ast.ByName("v"),
			Nodes: []ast.Node{
				{ID: uuid.New(), Name: "v", Type: ast.NodeGetValue, Value: 7},
				{ID: uuid.New(), Name: "h", Type: ast.NodeHalt, Next: ast.ByName("out")},
				{ID: uuid.New(), Name: "out", Type: ast.NodeSetOutput, Index: 0,
					Inputs: []ast.Link{{Node: ast.ByName("v")}}},
			},
		}},
	}
}

func TestHaltSuspendsAcrossTicks(t *testing.T) {
	machine := newMachine(t, haltProgram())

	handle, err := machine.RunEvent("tick", nil)
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}

	// First tick stops at the halt boundary.
	if err := machine.ProcessEvents(); err != nil {
		t.Fatalf("ProcessEvents failed: %v", err)
	}
	if machine.RunningEvents() != 1 {
		t.Fatalf("running events after halt = %d, want 1", machine.RunningEvents())
	}
	if completed := machine.CompletedEvents(); len(completed) != 0 {
		t.Fatalf("completed events after halt = %d, want 0", len(completed))
	}

	// Second tick resumes past it.
	if err := machine.ProcessEvents(); err != nil {
		t.Fatalf("ProcessEvents failed: %v", err)
	}
	outputs := drainOne(t, machine, handle)
	if n, ok := outputs[0].Value().AsNumber(); !ok || n != 7 {
		t.Errorf("output = %s, want 7", outputs[0].Value())
	}
}

func TestSingleStepEventCompletes(t *testing.T) {
	machine := newMachine(t, additionProgram())

	handle, err := machine.RunEvent("main", numberRefs(4, 6))
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}

	for i := 0; machine.RunningEvents() > 0; i++ {
		if i > 100 {
			t.Fatal("event did not complete within 100 steps")
		}
		if err := machine.SingleStepEvent(handle); err != nil {
			t.Fatalf("SingleStepEvent failed at step %d: %v", i, err)
		}
	}

	outputs := drainOne(t, machine, handle)
	if n, ok := outputs[0].Value().AsNumber(); !ok || n != 10 {
		t.Errorf("output = %s, want 10", outputs[0].Value())
	}

	var nf *NotFoundError
	if err := machine.SingleStepEvent(handle); !errors.As(err, &nf) || nf.Kind != "event handle" {
		t.Errorf("stepping a completed event: err = %v, want event handle NotFoundError", err)
	}
}

func TestDestroyEvent(t *testing.T) {
	machine := newMachine(t, haltProgram())

	handle, err := machine.RunEvent("tick", nil)
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	if err := machine.DestroyEvent(handle); err != nil {
		t.Fatalf("DestroyEvent failed: %v", err)
	}
	if machine.RunningEvents() != 0 {
		t.Errorf("running events = %d, want 0", machine.RunningEvents())
	}
	outputs := drainOne(t, machine, handle)
	if len(outputs) != 0 {
		t.Errorf("outputs = %d, want 0", len(outputs))
	}

	var nf *NotFoundError
	if err := machine.DestroyEvent(handle); !errors.As(err, &nf) {
		t.Errorf("destroying twice: err = %v, want NotFoundError", err)
	}
}

func TestGlobalVariableAliasing(t *testing.T) {
	program := &ast.Program{
		Variables: []ast.Variable{{ID: uuid.New(), Name: "score"}},
		Events: []ast.Event{{
			ID:      uuid.New(),
			Name:    "report",
			Outputs: []ast.Pin{{}},
			Entry:   ast.ByName("g"),
			Nodes: []ast.Node{
				{ID: uuid.New(), Name: "g", Type: ast.NodeGetGlobalVariable, Ref: ast.ByName("score")},
				{ID: uuid.New(), Name: "out", Type: ast.NodeSetOutput, Index: 0,
					Inputs: []ast.Link{{Node: ast.ByName("g")}}},
			},
		}},
	}
	machine := newMachine(t, program)

	cell := NewReference(Number(5))
	if _, err := machine.SetGlobalVariable(ast.ByName("score"), cell); err != nil {
		t.Fatalf("SetGlobalVariable failed: %v", err)
	}

	handle, err := machine.RunEvent("report", nil)
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	if err := machine.ProcessEvents(); err != nil {
		t.Fatalf("ProcessEvents failed: %v", err)
	}

	outputs := drainOne(t, machine, handle)
	if n, ok := outputs[0].Value().AsNumber(); !ok || n != 5 {
		t.Fatalf("output = %s, want 5", outputs[0].Value())
	}

	// The emitted reference aliases the global cell.
	if !outputs[0].Same(cell) {
		t.Error("event output does not alias the global variable cell")
	}
	if err := outputs[0].TryReplace(Number(9)); err != nil {
		t.Fatalf("TryReplace failed: %v", err)
	}
	got, err := machine.GlobalVariable(ast.ByName("score"))
	if err != nil {
		t.Fatalf("GlobalVariable failed: %v", err)
	}
	if n, ok := got.Value().AsNumber(); !ok || n != 9 {
		t.Errorf("global after mutation = %s, want 9", got.Value())
	}
}

func TestGlobalVariableUnknown(t *testing.T) {
	machine := newMachine(t, additionProgram())

	var nf *NotFoundError
	if _, err := machine.GlobalVariable(ast.ByName("ghost")); !errors.As(err, &nf) {
		t.Errorf("GlobalVariable: err = %v, want NotFoundError", err)
	}
	if _, err := machine.SetGlobalVariable(ast.ByName("ghost"), NoneRef()); !errors.As(err, &nf) {
		t.Errorf("SetGlobalVariable: err = %v, want NotFoundError", err)
	}
}

func TestUnregisteredOperationFailsStep(t *testing.T) {
	machine, err := New(additionProgram())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// No native operations registered at all.

	if _, err := machine.RunEvent("main", numberRefs(1, 2)); err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	err = machine.ProcessEvents()
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "registered operation" {
		t.Fatalf("err = %v, want registered operation NotFoundError", err)
	}
	if machine.RunningEvents() != 1 {
		t.Errorf("running events = %d, want 1 (failed event stays queued)", machine.RunningEvents())
	}
}

func TestOperationFailureIsWrapped(t *testing.T) {
	machine := newMachine(t, additionProgram())
	machine.RegisterOperation("add", OperationFunc(func([]Reference) ([]Reference, error) {
		return nil, errors.New("exploded")
	}))

	if _, err := machine.RunEvent("main", numberRefs(1, 2)); err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	err := machine.ProcessEvents()
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v, want OperationError", err)
	}
	if opErr.Name != "add" {
		t.Errorf("operation name = %q, want add", opErr.Name)
	}
	if len(opErr.Inputs) != 2 {
		t.Errorf("input snapshot = %d values, want 2", len(opErr.Inputs))
	}
}

func TestUnregisterOperation(t *testing.T) {
	machine := newMachine(t, additionProgram())

	if !machine.UnregisterOperation("add") {
		t.Error("UnregisterOperation(add) = false, want true")
	}
	if machine.UnregisterOperation("add") {
		t.Error("second UnregisterOperation(add) = true, want false")
	}
}
