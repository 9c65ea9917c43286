// Package graph executes a fixed directed graph of named steps over a
// WorkflowState, checkpointing after every step and suspending for external
// input when a step asks for it.
package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/contentflow/pkg/models"
)

// END is the terminal routing target.
const END = "__end__"

// StepFunc is one named unit of work.
type StepFunc func(ctx context.Context, s *models.WorkflowState) StepResult

// BranchFunc picks a branch key from the post-merge state. It must be pure.
type BranchFunc func(s *models.WorkflowState) string

// Edge is an outgoing route: either static or conditional.
type Edge struct {
	static   string
	branch   BranchFunc
	branches map[string]string
}

// Static always advances to next.
func Static(next string) Edge {
	return Edge{static: next}
}

// Conditional evaluates fn and looks the key up in branches.
func Conditional(fn BranchFunc, branches map[string]string) Edge {
	return Edge{branch: fn, branches: maps.Clone(branches)}
}

// Targets lists every node the edge may route to.
func (e Edge) Targets() []string {
	if e.branch == nil {
		return []string{e.static}
	}

	return slices.Sorted(maps.Values(e.branches))
}

// Next resolves the edge against s.
func (e Edge) Next(s *models.WorkflowState) (string, error) {
	if e.branch == nil {
		return e.static, nil
	}

	key := e.branch(s)

	next, ok := e.branches[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBranch, key)
	}

	return next, nil
}

var (
	// ErrUnknownBranch is returned when a conditional edge yields a key missing from its table.
	ErrUnknownBranch = errors.New("unknown branch key")

	// ErrInvalidDefinition is returned by Build for an inconsistent graph.
	ErrInvalidDefinition = errors.New("invalid graph definition")
)

// Definition is an immutable graph. Build one with a Builder and share it.
type Definition struct {
	name  string
	entry string
	steps map[string]StepFunc
	edges map[string]Edge
	order []string
}

func (d *Definition) Name() string  { return d.name }
func (d *Definition) Entry() string { return d.entry }

// Steps returns step names in declaration order.
func (d *Definition) Steps() []string { return slices.Clone(d.order) }

// Edge returns the outgoing edge of step.
func (d *Definition) Edge(step string) (Edge, bool) {
	e, ok := d.edges[step]

	return e, ok
}

func (d *Definition) step(name string) (StepFunc, bool) {
	fn, ok := d.steps[name]

	return fn, ok
}

// Builder assembles a Definition. It is not safe for concurrent use.
type Builder struct {
	name  string
	entry string
	steps map[string]StepFunc
	edges map[string]Edge
	order []string
	errs  []error
}

// NewBuilder starts a graph called name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		steps: make(map[string]StepFunc),
		edges: make(map[string]Edge),
	}
}

// Step registers a named step.
func (b *Builder) Step(name string, fn StepFunc) *Builder {
	switch {
	case name == "" || name == END:
		b.errs = append(b.errs, fmt.Errorf("step name %q is reserved", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("step %s has no function", name))
	default:
		if _, dup := b.steps[name]; dup {
			b.errs = append(b.errs, fmt.Errorf("step %s declared twice", name))
		}

		b.steps[name] = fn
		b.order = append(b.order, name)
	}

	return b
}

// Edge sets the outgoing route of from.
func (b *Builder) Edge(from string, edge Edge) *Builder {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("step %s has two outgoing edges", from))
	}

	b.edges[from] = edge

	return b
}

// Entry sets the first step of a run.
func (b *Builder) Entry(name string) *Builder {
	b.entry = name

	return b
}

// Build checks the graph and freezes it.
func (b *Builder) Build() (*Definition, error) {
	errs := slices.Clone(b.errs)

	if _, ok := b.steps[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry step %q is not declared", b.entry))
	}

	for _, name := range b.order {
		edge, ok := b.edges[name]
		if !ok {
			errs = append(errs, fmt.Errorf("step %s has no outgoing edge", name))

			continue
		}

		if edge.branch != nil && len(edge.branches) == 0 {
			errs = append(errs, fmt.Errorf("step %s has a conditional edge without branches", name))
		}

		for _, target := range edge.Targets() {
			if _, ok := b.steps[target]; !ok && target != END {
				errs = append(errs, fmt.Errorf("step %s routes to unknown step %q", name, target))
			}
		}
	}

	for from := range b.edges {
		if _, ok := b.steps[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown step %q", from))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(errs...))
	}

	return &Definition{
		name:  b.name,
		entry: b.entry,
		steps: maps.Clone(b.steps),
		edges: maps.Clone(b.edges),
		order: slices.Clone(b.order),
	}, nil
}
