package vm

import (
	"github.com/google/uuid"

	"github.com/chazu/flowvm/ast"
)

// ---------------------------------------------------------------------------
// Dispatch table
// ---------------------------------------------------------------------------
//
// Method dispatch is resolved once at compile time. For every method a trait
// declares, each implementing type either supplies an override (matched by
// name) or inherits the trait's default body. The chosen body is compiled
// into a pipeline keyed by (type id, trait method id); calls never re-derive
// the choice.

// methodKey identifies one compiled method body: the implementing type plus
// the trait-declared method identity.
type methodKey struct {
	typeID   uuid.UUID
	methodID uuid.UUID
}

// methodBinding records which trait owns a method and whether the type
// overrides the trait's default body.
type methodBinding struct {
	trait      uuid.UUID
	overridden bool
}

// dispatchTable maps type id -> trait method id -> binding.
type dispatchTable map[uuid.UUID]map[uuid.UUID]methodBinding

// buildDispatch validates trait references, fills the dispatch table, and
// compiles the chosen body of every (type, trait method) pair.
func buildDispatch(prog *ast.Program, terminals map[uuid.UUID]struct{}) (dispatchTable, map[methodKey]*pipeline, error) {
	table := make(dispatchTable, len(prog.Types))
	pipes := make(map[methodKey]*pipeline)
	for ti := range prog.Types {
		typ := &prog.Types[ti]
		bindings := make(map[uuid.UUID]methodBinding)
		for ii := range typ.Impls {
			impl := &typ.Impls[ii]
			trait := prog.Trait(impl.Trait)
			if trait == nil {
				return nil, nil, &NotFoundError{Kind: "trait", Ref: impl.Trait}
			}
			for mi := range trait.Methods {
				declared := &trait.Methods[mi]
				chosen := declared
				overridden := false
				for oi := range impl.Methods {
					if impl.Methods[oi].Name == declared.Name {
						chosen = &impl.Methods[oi]
						overridden = true
						break
					}
				}
				bindings[declared.ID] = methodBinding{trait: trait.ID, overridden: overridden}

				label := constructLabel("method", typ.Name+"."+declared.Name)
				pipe, err := compilePipeline(label, chosen.Nodes, chosen.Variables,
					len(chosen.Inputs), len(chosen.Outputs), terminals)
				if err != nil {
					return nil, nil, err
				}
				pipes[methodKey{typeID: typ.ID, methodID: declared.ID}] = pipe
			}
		}
		table[typ.ID] = bindings
	}
	return table, pipes, nil
}

// resolveMethod maps a call-site method reference to the trait-declared
// method id for the given type. The reference may name either the trait's
// declared method or the type's override.
func resolveMethod(prog *ast.Program, typ *ast.Type, ref ast.Reference) (uuid.UUID, error) {
	for ii := range typ.Impls {
		impl := &typ.Impls[ii]
		trait := prog.Trait(impl.Trait)
		if trait == nil {
			continue
		}
		for mi := range trait.Methods {
			if ref.Matches(trait.Methods[mi].ID, trait.Methods[mi].Name) {
				return trait.Methods[mi].ID, nil
			}
		}
		for oi := range impl.Methods {
			if !ref.Matches(impl.Methods[oi].ID, impl.Methods[oi].Name) {
				continue
			}
			for mi := range trait.Methods {
				if trait.Methods[mi].Name == impl.Methods[oi].Name {
					return trait.Methods[mi].ID, nil
				}
			}
		}
	}
	return uuid.Nil, &NotFoundError{Kind: "method", Ref: ref}
}
