package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCycle is returned when a feature graph is not acyclic
var ErrCycle = errors.New("feature graph contains a cycle")

// Layers groups node ids by longest-path depth from the roots. Nodes without
// incoming edges sit in layer 0; every other node sits one layer below its
// deepest dependency. Ids within a layer are sorted.
func (d FeatureDAG) Layers() ([][]string, error) {
	indegree := make(map[string]int, len(d.Nodes))
	for _, n := range d.Nodes {
		if _, dup := indegree[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %q", n.ID)
		}
		indegree[n.ID] = 0
	}

	children := make(map[string][]string, len(d.Nodes))
	for _, e := range d.Edges {
		if _, ok := indegree[e.From]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.From)
		}
		if _, ok := indegree[e.To]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.To)
		}
		children[e.From] = append(children[e.From], e.To)
		indegree[e.To]++
	}

	depth := make(map[string]int, len(d.Nodes))
	queue := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	maxDepth := -1
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		if depth[id] > maxDepth {
			maxDepth = depth[id]
		}
		for _, child := range children[id] {
			if depth[id]+1 > depth[child] {
				depth[child] = depth[id] + 1
			}
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited != len(d.Nodes) {
		return nil, ErrCycle
	}

	layers := make([][]string, maxDepth+1)
	for _, n := range d.Nodes {
		layers[depth[n.ID]] = append(layers[depth[n.ID]], n.ID)
	}
	for _, layer := range layers {
		sort.Strings(layer)
	}
	return layers, nil
}
