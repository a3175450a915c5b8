package domain

import (
	"context"
	"fmt"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/domain/requirement"
)

// Values carries port values of one node invocation: port name to file path
// (datasets) or literal (fields).
type Values map[string]string

// NodeFunc is the compute of one node: pure with respect to this engine,
// typically shelling out to an external imaging tool.
type NodeFunc func(ctx context.Context, in Values) (Values, error)

// Node is one opaque compute step with named input/output ports.
type Node struct {
	Name    string
	Inputs  []string
	Outputs []string

	// external tools the node needs, validated before execution.
	Requirements []requirement.Requirement

	Fn NodeFunc
}

// Port addresses one named port on one node.
type Port struct {
	Node string
	Name string
}

func (p Port) String() string {
	return p.Node + "." + p.Name
}

type edge struct {
	from Port
	to   Port
}

// Graph is a directed acyclic compute graph. Nodes are added, then wired
// port-to-port; execution resolves a topological order each time.
type Graph struct {
	nodes map[string]*Node
	order []string // insertion order, for stable iteration
	edges []edge
}

func NewGraph() *Graph {
	return &Graph{nodes: map[string]*Node{}}
}

// Add registers a node. Duplicate node names are a usage error.
func (g *Graph) Add(n *Node) error {
	if _, ok := g.nodes[n.Name]; ok {
		return fmt.Errorf("%w: node '%s' is added already", domerr.ErrUsage, n.Name)
	}
	g.nodes[n.Name] = n
	g.order = append(g.order, n.Name)
	return nil
}

func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Connect wires an output port of one node into an input port of another.
func (g *Graph) Connect(fromNode, fromPort, toNode, toPort string) error {
	from, ok := g.nodes[fromNode]
	if !ok {
		return fmt.Errorf("%w: node '%s' is not in the graph", domerr.ErrUsage, fromNode)
	}
	to, ok := g.nodes[toNode]
	if !ok {
		return fmt.Errorf("%w: node '%s' is not in the graph", domerr.ErrUsage, toNode)
	}
	if !hasPort(from.Outputs, fromPort) {
		return fmt.Errorf("%w: node '%s' has no output port '%s'", domerr.ErrUsage, fromNode, fromPort)
	}
	if !hasPort(to.Inputs, toPort) {
		return fmt.Errorf("%w: node '%s' has no input port '%s'", domerr.ErrUsage, toNode, toPort)
	}
	g.edges = append(g.edges, edge{
		from: Port{Node: fromNode, Name: fromPort},
		to:   Port{Node: toNode, Name: toPort},
	})
	return nil
}

func hasPort(ports []string, name string) bool {
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}

// Execute runs every node in dependency order.
//
// seed provides boundary input values addressed by port; the returned map
// holds the value of every port produced during the run, so callers can read
// boundary outputs off it.
func (g *Graph) Execute(ctx context.Context, seed map[Port]string) (map[Port]string, error) {
	sorted, err := g.topological()
	if err != nil {
		return nil, err
	}

	produced := map[Port]string{}
	for p, v := range seed {
		produced[p] = v
	}

	for _, name := range sorted {
		node := g.nodes[name]
		in := Values{}
		for _, port := range node.Inputs {
			if v, ok := produced[Port{Node: name, Name: port}]; ok {
				in[port] = v
			}
		}
		out, err := node.Fn(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("node '%s': %w", name, err)
		}
		for port, v := range out {
			produced[Port{Node: name, Name: port}] = v
		}
		// propagate along edges leaving this node
		for _, e := range g.edges {
			if e.from.Node != name {
				continue
			}
			if v, ok := produced[e.from]; ok {
				produced[e.to] = v
			}
		}
	}
	return produced, nil
}

// topological orders nodes with Kahn's algorithm, insertion order as
// tie-break. A cycle among nodes is a usage error.
func (g *Graph) topological() ([]string, error) {
	indeg := map[string]int{}
	for _, name := range g.order {
		indeg[name] = 0
	}
	for _, e := range g.edges {
		indeg[e.to.Node]++
	}

	ready := []string{}
	for _, name := range g.order {
		if indeg[name] == 0 {
			ready = append(ready, name)
		}
	}

	sorted := make([]string, 0, len(g.order))
	for 0 < len(ready) {
		name := ready[0]
		ready = ready[1:]
		sorted = append(sorted, name)
		for _, e := range g.edges {
			if e.from.Node != name {
				continue
			}
			indeg[e.to.Node]--
			if indeg[e.to.Node] == 0 {
				ready = append(ready, e.to.Node)
			}
		}
	}
	if len(sorted) != len(g.order) {
		return nil, fmt.Errorf("%w: compute graph contains a cycle", domerr.ErrUsage)
	}
	return sorted, nil
}

// Requirements collects the tool requirements of every node.
func (g *Graph) Requirements() []requirement.Requirement {
	reqs := []requirement.Requirement{}
	for _, name := range g.order {
		reqs = append(reqs, g.nodes[name].Requirements...)
	}
	return reqs
}
