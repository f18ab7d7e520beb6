// Package sorter implements the deterministic mempool transaction ordering
// described by §4.5: coinbase-first, dependency-correct, CPFP-aware, with a
// wtxid tiebreak that survives witness malleability.
package sorter

import (
	"bytes"
	"container/heap"
	"fmt"
	"sort"
)

// Input references the parent transaction an input spends from. An empty
// ParentTxid marks a coinbase input (§4.5 "Coinbase first").
type Input struct {
	ParentTxid string
}

// Node is one candidate transaction (or malleated variant of one) to order.
// Wtxid must be unique across the input set; Txid may repeat across
// variants that share the same non-witness data.
type Node struct {
	Wtxid       [32]byte
	Txid        string
	Inputs      []Input
	PriorityFee float64
}

// MalformedInputError is returned for input sets that violate the sorter's
// structural invariants (§4.5 "Failure semantics").
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %s", e.Reason)
}

type internalNode struct {
	node       Node
	isCoinbase bool
	children   map[int]struct{}
	parents    map[int]struct{}
}

// component is a strongly-connected group of nodes, folded together so
// cycles (including self-references) are emitted as a single unit
// (§4.5 "Edge cases").
type component struct {
	members    []int
	isCoinbase bool
	effective  float64
	repHash    [32]byte
	parents    map[int]struct{}
	children   map[int]struct{}
}

// Sort produces the deterministic emission order for nodes. It never
// panics on well-formed input; malformed input (duplicate wtxid) yields
// MalformedInputError.
func Sort(nodes []Node) ([]Node, error) {
	internals, err := buildGraph(nodes)
	if err != nil {
		return nil, err
	}
	comps, memberOf := stronglyConnectedComponents(internals)
	linkComponents(comps, memberOf, internals)
	computeEffectivePriority(comps)

	order := selectEmissionOrder(comps)

	result := make([]Node, 0, len(nodes))
	for _, ci := range order {
		c := comps[ci]
		members := append([]int(nil), c.members...)
		sort.Slice(members, func(a, b int) bool {
			return bytes.Compare(internals[members[a]].node.Wtxid[:], internals[members[b]].node.Wtxid[:]) < 0
		})
		for _, m := range members {
			result = append(result, internals[m].node)
		}
	}
	return result, nil
}

func buildGraph(nodes []Node) ([]*internalNode, error) {
	seen := make(map[[32]byte]bool, len(nodes))
	internals := make([]*internalNode, len(nodes))
	byTxid := make(map[string][]int)

	for i, n := range nodes {
		if seen[n.Wtxid] {
			return nil, &MalformedInputError{Reason: "duplicate wtxid"}
		}
		seen[n.Wtxid] = true

		coinbase := false
		for _, in := range n.Inputs {
			if in.ParentTxid == "" {
				coinbase = true
				break
			}
		}
		internals[i] = &internalNode{
			node:       n,
			isCoinbase: coinbase,
			children:   make(map[int]struct{}),
			parents:    make(map[int]struct{}),
		}
		byTxid[n.Txid] = append(byTxid[n.Txid], i)
	}

	for i, n := range nodes {
		for _, in := range n.Inputs {
			if in.ParentTxid == "" {
				continue
			}
			parentIdxs, present := byTxid[in.ParentTxid]
			if !present {
				// Input refers to a txid outside the set: satisfied by
				// external state, no edge to add (§4.5 "Edge cases").
				continue
			}
			for _, p := range parentIdxs {
				if p == i {
					continue // self-reference is folded via SCC below
				}
				internals[p].children[i] = struct{}{}
				internals[i].parents[p] = struct{}{}
			}
		}
	}

	return internals, nil
}

// stronglyConnectedComponents runs Tarjan's algorithm to fold cycles
// (including self-references) into single emission units.
func stronglyConnectedComponents(internals []*internalNode) ([]*component, map[int]int) {
	n := len(internals)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	counter := 0
	var comps []*component
	memberOf := make(map[int]int, n)

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		// Iterate children in deterministic (sorted) order so the
		// resulting SCC set is stable regardless of map iteration order.
		children := sortedKeys(internals[v].children)
		for _, w := range children {
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var members []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				members = append(members, w)
				if w == v {
					break
				}
			}
			ci := len(comps)
			for _, m := range members {
				memberOf[m] = ci
			}
			comps = append(comps, &component{
				members:  members,
				parents:  make(map[int]struct{}),
				children: make(map[int]struct{}),
			})
		}
	}

	// Deterministic iteration order over vertices.
	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
	return comps, memberOf
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// linkComponents wires condensed-graph edges between components, computes
// each component's representative hash (lexicographically smallest member
// wtxid, for deterministic tiebreaks), seeds its effective priority from
// its own members' fees, and marks it coinbase if any member is.
func linkComponents(comps []*component, memberOf map[int]int, internals []*internalNode) {
	for ci, c := range comps {
		var rep [32]byte
		first := true
		for _, m := range c.members {
			w := internals[m].node.Wtxid
			if first || bytes.Compare(w[:], rep[:]) < 0 {
				rep = w
				first = false
			}
			if internals[m].isCoinbase {
				c.isCoinbase = true
			}
			if internals[m].node.PriorityFee > c.effective {
				c.effective = internals[m].node.PriorityFee
			}
			for p := range internals[m].parents {
				pc := memberOf[p]
				if pc != ci {
					c.parents[pc] = struct{}{}
					comps[pc].children[ci] = struct{}{}
				}
			}
		}
		c.repHash = rep
	}
}

// computeEffectivePriority propagates CPFP effective priority bottom-up:
// a component's effective priority is the max of its own fees (already
// seeded by linkComponents) and the effective priority of every component
// that depends on it (§4.5 "Effective priority").
func computeEffectivePriority(comps []*component) {
	order := topologicalOrder(comps)
	for i := len(order) - 1; i >= 0; i-- {
		c := comps[order[i]]
		for child := range c.children {
			if comps[child].effective > c.effective {
				c.effective = comps[child].effective
			}
		}
	}
}

func topologicalOrder(comps []*component) []int {
	indegree := make([]int, len(comps))
	for _, c := range comps {
		for child := range c.children {
			indegree[child]++
		}
	}
	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(comps))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool {
			return bytes.Compare(comps[ready[a]].repHash[:], comps[ready[b]].repHash[:]) < 0
		})
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)
		children := sortedKeys(comps[v].children)
		for _, w := range children {
			indegree[w]--
			if indegree[w] == 0 {
				ready = append(ready, w)
			}
		}
	}
	return order
}

// readyHeap selects, among emission-ready components, the one with the
// highest effective priority, tiebroken by representative wtxid hash
// (§4.5 "Selection order"). Modeled on the priority queue idiom used by
// the mempool's txPriorityQueue.
type readyHeap struct {
	comps []*component
	idxs  []int
}

func (h readyHeap) Len() int { return len(h.idxs) }
func (h readyHeap) Less(i, j int) bool {
	a, b := h.comps[h.idxs[i]], h.comps[h.idxs[j]]
	if a.isCoinbase != b.isCoinbase {
		return a.isCoinbase
	}
	if a.effective != b.effective {
		return a.effective > b.effective
	}
	return bytes.Compare(a.repHash[:], b.repHash[:]) < 0
}
func (h readyHeap) Swap(i, j int)        { h.idxs[i], h.idxs[j] = h.idxs[j], h.idxs[i] }
func (h *readyHeap) Push(x interface{})  { h.idxs = append(h.idxs, x.(int)) }
func (h *readyHeap) Pop() interface{} {
	old := h.idxs
	n := len(old)
	v := old[n-1]
	h.idxs = old[:n-1]
	return v
}

// selectEmissionOrder repeatedly pops the ready component with the highest
// priority (coinbase components always win the tie, then effective
// priority, then representative hash), matching §4.5 "Selection order".
func selectEmissionOrder(comps []*component) []int {
	indegree := make([]int, len(comps))
	for _, c := range comps {
		for child := range c.children {
			indegree[child]++
		}
	}

	h := &readyHeap{comps: comps}
	queued := make([]bool, len(comps))
	for i, d := range indegree {
		if d == 0 {
			heap.Push(h, i)
			queued[i] = true
		}
	}

	order := make([]int, 0, len(comps))
	for h.Len() > 0 {
		ci := heap.Pop(h).(int)
		order = append(order, ci)
		children := sortedKeys(comps[ci].children)
		for _, w := range children {
			indegree[w]--
			if indegree[w] == 0 && !queued[w] {
				heap.Push(h, w)
				queued[w] = true
			}
		}
	}
	return order
}
