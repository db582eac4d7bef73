package service

import "github.com/veo3pk/studio/internal/repository"

// chainNode is one storyboard item; dependsOn indexes the arena and is -1 for none.
type chainNode struct {
	index     int
	dependsOn int
	record    *repository.GenerationRecord
}

// chainArena holds batch items by index. Dependencies always point to a lower index.
type chainArena struct {
	nodes []chainNode
}

func newChainArena(records []*repository.GenerationRecord, chained bool) *chainArena {
	nodes := make([]chainNode, len(records))
	for i, rec := range records {
		dep := -1
		if chained && i > 0 {
			dep = i - 1
		}
		nodes[i] = chainNode{index: i, dependsOn: dep, record: rec}
	}
	return &chainArena{nodes: nodes}
}

// waves groups indexes so that each node runs only after its dependency settled.
// Nodes in one wave are independent of each other.
func (a *chainArena) waves() [][]int {
	depth := make([]int, len(a.nodes))
	var out [][]int
	for i, n := range a.nodes {
		if n.dependsOn >= 0 {
			depth[i] = depth[n.dependsOn] + 1
		}
		for len(out) <= depth[i] {
			out = append(out, nil)
		}
		out[depth[i]] = append(out[depth[i]], i)
	}
	return out
}

// dependency returns the settled record node i builds on, or nil.
func (a *chainArena) dependency(i int) *repository.GenerationRecord {
	dep := a.nodes[i].dependsOn
	if dep < 0 {
		return nil
	}
	return a.nodes[dep].record
}

func (a *chainArena) record(i int) *repository.GenerationRecord { return a.nodes[i].record }

// settle stores the latest state of node i; callers write only their own index.
func (a *chainArena) settle(i int, rec *repository.GenerationRecord) {
	if rec != nil {
		a.nodes[i].record = rec
	}
}
