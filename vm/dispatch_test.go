package vm

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/chazu/flowvm/ast"
)

// greeterProgram declares a trait with a default method body, one type that
// inherits it, and one type that overrides it. The event calls the method on
// both types and emits both results.
func greeterProgram() *ast.Program {
	methodBody := func(text string) []ast.Node {
		return []ast.Node{
			{ID: uuid.New(), Name: "msg", Type: ast.NodeGetValue, Value: text},
			{ID: uuid.New(), Name: "ret", Type: ast.NodeSetOutput, Index: 0,
				Inputs: []ast.Link{{Node: ast.ByName("msg")}}},
		}
	}
	return &ast.Program{
		Traits: []ast.Trait{{
			ID:   uuid.New(),
			Name: "greeter",
			Methods: []ast.Method{{
				ID:      uuid.New(),
				Name:    "greet",
				Inputs:  []ast.Pin{{Name: "self"}},
				Outputs: []ast.Pin{{}},
				Nodes:   methodBody("default"),
			}},
		}},
		Types: []ast.Type{
			{
				ID:   uuid.New(),
				Name: "plain",
				Impls: []ast.TraitImpl{{
					Trait: ast.ByName("greeter"),
				}},
			},
			{
				ID:   uuid.New(),
				Name: "loud",
				Impls: []ast.TraitImpl{{
					Trait: ast.ByName("greeter"),
					Methods: []ast.Method{{
						ID:      uuid.New(),
						Name:    "greet",
						Inputs:  []ast.Pin{{Name: "self"}},
						Outputs: []ast.Pin{{}},
						Nodes:   methodBody("override"),
					}},
				}},
			},
		},
		Events: []ast.Event{{
			ID:      uuid.New(),
			Name:    "greet-both",
			Outputs: []ast.Pin{{}, {}},
			Entry:   ast.ByName("inst"),
			Nodes: []ast.Node{
				{ID: uuid.New(), Name: "inst", Type: ast.NodeGetValue, Value: "it"},
				{ID: uuid.New(), Name: "callPlain", Type: ast.NodeCallMethod,
					TypeRef: ast.ByName("plain"), MethodRef: ast.ByName("greet"),
					Inputs: []ast.Link{{Node: ast.ByName("inst")}}},
				{ID: uuid.New(), Name: "out0", Type: ast.NodeSetOutput, Index: 0,
					Next:   ast.ByName("callLoud"),
					Inputs: []ast.Link{{Node: ast.ByName("callPlain")}}},
				{ID: uuid.New(), Name: "callLoud", Type: ast.NodeCallMethod,
					TypeRef: ast.ByName("loud"), MethodRef: ast.ByName("greet"),
					Inputs: []ast.Link{{Node: ast.ByName("inst")}}},
				{ID: uuid.New(), Name: "out1", Type: ast.NodeSetOutput, Index: 1,
					Inputs: []ast.Link{{Node: ast.ByName("callLoud")}}},
			},
		}},
	}
}

func TestMethodDispatchOverrideVersusDefault(t *testing.T) {
	machine := newMachine(t, greeterProgram())

	handle, err := machine.RunEvent("greet-both", nil)
	if err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	if err := machine.ProcessEvents(); err != nil {
		t.Fatalf("ProcessEvents failed: %v", err)
	}

	outputs := drainOne(t, machine, handle)
	if len(outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outputs))
	}
	if s, ok := outputs[0].Value().AsString(); !ok || s != "default" {
		t.Errorf("plain.greet = %s, want default", outputs[0].Value())
	}
	if s, ok := outputs[1].Value().AsString(); !ok || s != "override" {
		t.Errorf("loud.greet = %s, want override", outputs[1].Value())
	}
}

func TestDispatchTableRecordsOverrides(t *testing.T) {
	program := greeterProgram()
	terminals := make(map[uuid.UUID]struct{})
	table, pipes, err := buildDispatch(program, terminals)
	if err != nil {
		t.Fatalf("buildDispatch failed: %v", err)
	}

	methodID := program.Traits[0].Methods[0].ID
	plainID := program.Types[0].ID
	loudID := program.Types[1].ID

	if b := table[plainID][methodID]; b.overridden {
		t.Error("plain.greet recorded as overridden")
	}
	if b := table[loudID][methodID]; !b.overridden {
		t.Error("loud.greet not recorded as overridden")
	}
	if len(pipes) != 2 {
		t.Errorf("compiled method pipelines = %d, want 2", len(pipes))
	}
}

func TestUnresolvedTraitFailsConstruction(t *testing.T) {
	program := greeterProgram()
	program.Types[0].Impls[0].Trait = ast.ByName("phantom")

	_, err := New(program)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "trait" {
		t.Fatalf("err = %v, want trait NotFoundError", err)
	}
}

func TestCallMethodUnknownMethod(t *testing.T) {
	program := greeterProgram()
	// Point the call at a method the trait never declared.
	program.Events[0].Nodes[1].MethodRef = ast.ByName("shout")
	machine := newMachine(t, program)

	if _, err := machine.RunEvent("greet-both", nil); err != nil {
		t.Fatalf("RunEvent failed: %v", err)
	}
	err := machine.ProcessEvents()
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "method" {
		t.Fatalf("err = %v, want method NotFoundError", err)
	}
}

func TestResolveMethodByOverrideID(t *testing.T) {
	program := greeterProgram()
	loud := &program.Types[1]
	overrideID := loud.Impls[0].Methods[0].ID
	declaredID := program.Traits[0].Methods[0].ID

	got, err := resolveMethod(program, loud, ast.ByID(overrideID))
	if err != nil {
		t.Fatalf("resolveMethod failed: %v", err)
	}
	if got != declaredID {
		t.Errorf("resolved method id = %s, want the trait-declared id %s", got, declaredID)
	}
}
