package consensus

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/peers"
)

// AssignmentStrategy picks the node responsible for a block among the eligible
// candidates. It returns an empty string when there are no candidates.
type AssignmentStrategy interface {
	Assign(index int, payload chain.Payload, candidates []peers.Node) string
}

// AssignFunc adapts a function to the AssignmentStrategy interface.
type AssignFunc func(index int, payload chain.Payload, candidates []peers.Node) string

// Assign implements AssignmentStrategy.
func (f AssignFunc) Assign(index int, payload chain.Payload, candidates []peers.Node) string {
	return f(index, payload, candidates)
}

func sortedByID(candidates []peers.Node) []peers.Node {
	res := make([]peers.Node, len(candidates))
	copy(res, candidates)
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// RoundRobin assigns block i to the i-th candidate in id order, modulo the
// number of candidates.
type RoundRobin struct{}

// Assign implements AssignmentStrategy.
func (RoundRobin) Assign(index int, _ chain.Payload, candidates []peers.Node) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := sortedByID(candidates)
	if index < 0 {
		index = -index
	}
	return sorted[index%len(sorted)].ID
}

// ReputationWeighted picks a candidate with a probability proportional to its
// reputation. The draw is seeded by the block index, so every node computes
// the same result for the same candidates.
type ReputationWeighted struct{}

// Assign implements AssignmentStrategy.
func (ReputationWeighted) Assign(index int, payload chain.Payload, candidates []peers.Node) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := sortedByID(candidates)

	total := 0.0
	for _, c := range sorted {
		total += c.Reputation
	}
	if total <= 0 {
		return RoundRobin{}.Assign(index, payload, candidates)
	}

	h := fnv.New64a()
	h.Write([]byte(strconv.Itoa(index)))
	point := float64(h.Sum64()%1000000) / 1000000 * total

	acc := 0.0
	for _, c := range sorted {
		acc += c.Reputation
		if point < acc {
			return c.ID
		}
	}
	return sorted[len(sorted)-1].ID
}

// NewAssignmentStrategy returns the strategy with the given name,
// "round-robin" or "reputation". Unknown names select round-robin.
func NewAssignmentStrategy(name string) AssignmentStrategy {
	switch name {
	case "reputation":
		return ReputationWeighted{}
	default:
		return RoundRobin{}
	}
}
