package vm

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chazu/flowvm/ast"
)

// ---------------------------------------------------------------------------
// Pipeline compiler
// ---------------------------------------------------------------------------
//
// Each event, function, and method body compiles into a pipeline: a linear
// execution order that is topological with respect to both control edges
// (next-node links) and data edges (input links, producer before consumer).
// Control-flow nodes later reposition the instruction pointer inside this
// order; the order itself never changes after compilation.

type pipeline struct {
	label   string // diagnostic, e.g. `event "update"`
	order   []uuid.UUID
	pos     map[uuid.UUID]int
	nodes   map[uuid.UUID]*ast.Node
	byName  map[string]uuid.UUID
	vars    []ast.Variable
	inputs  int
	outputs int
}

// compilePipeline orders one construct's node list. Terminal nodes (no
// outgoing control or data edge) are added to the terminals set shared
// across the whole program.
func compilePipeline(label string, nodes []ast.Node, vars []ast.Variable, inputs, outputs int, terminals map[uuid.UUID]struct{}) (*pipeline, error) {
	p := &pipeline{
		label:   label,
		order:   make([]uuid.UUID, 0, len(nodes)),
		pos:     make(map[uuid.UUID]int, len(nodes)),
		nodes:   make(map[uuid.UUID]*ast.Node, len(nodes)),
		byName:  make(map[string]uuid.UUID, len(nodes)),
		vars:    vars,
		inputs:  inputs,
		outputs: outputs,
	}
	index := make(map[uuid.UUID]int, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		p.nodes[node.ID] = node
		if node.Name != "" {
			if _, dup := p.byName[node.Name]; !dup {
				p.byName[node.Name] = node.ID
			}
		}
		index[node.ID] = i
	}

	// Edge lists: control (next) plus data (input links).
	succs := make([][]int, len(nodes))
	indegree := make([]int, len(nodes))
	addEdge := func(from, to int) {
		succs[from] = append(succs[from], to)
		indegree[to]++
	}
	for i := range nodes {
		node := &nodes[i]
		if !node.Next.IsNone() {
			to, err := p.resolve(node.Next)
			if err != nil {
				return nil, err
			}
			addEdge(i, index[to])
		}
		for _, link := range node.Inputs {
			if link.IsNone() {
				continue
			}
			from, err := p.resolve(link.Node)
			if err != nil {
				return nil, err
			}
			addEdge(index[from], i)
		}
	}

	// Kahn's algorithm, picking the smallest declaration index among the
	// ready nodes so the order is deterministic and follows author layout.
	picked := make([]bool, len(nodes))
	for range nodes {
		next := -1
		for i := range nodes {
			if !picked[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &CompileError{Construct: label, Reason: "flow graph is cyclic"}
		}
		picked[next] = true
		id := nodes[next].ID
		p.pos[id] = len(p.order)
		p.order = append(p.order, id)
		for _, to := range succs[next] {
			indegree[to]--
		}
	}

	for i := range nodes {
		if len(succs[i]) == 0 {
			terminals[nodes[i].ID] = struct{}{}
		}
	}
	return p, nil
}

// resolve turns a node reference into a node id within this construct.
func (p *pipeline) resolve(ref ast.Reference) (uuid.UUID, error) {
	if ref.ID != uuid.Nil {
		if _, ok := p.nodes[ref.ID]; ok {
			return ref.ID, nil
		}
	} else if ref.Name != "" {
		if id, ok := p.byName[ref.Name]; ok {
			return id, nil
		}
	}
	return uuid.Nil, &NotFoundError{Kind: "node", Ref: ref}
}

// node returns the node for an id previously resolved in this pipeline.
func (p *pipeline) node(id uuid.UUID) (*ast.Node, error) {
	if n, ok := p.nodes[id]; ok {
		return n, nil
	}
	return nil, &NotFoundError{Kind: "node", Ref: ast.ByID(id)}
}

// variable resolves a local variable declaration by id or name.
func (p *pipeline) variable(ref ast.Reference) (uuid.UUID, bool) {
	for i := range p.vars {
		if ref.Matches(p.vars[i].ID, p.vars[i].Name) {
			return p.vars[i].ID, true
		}
	}
	return uuid.Nil, false
}

func constructLabel(kind, name string) string {
	return fmt.Sprintf("%s %q", kind, name)
}
