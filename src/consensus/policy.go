package consensus

import (
	"fmt"

	"github.com/mosaicnetworks/memorychain/src/chain"
)

// Denominator selects the nodes a quorum is computed over.
type Denominator string

const (
	// OnlineOnly counts only the nodes currently online.
	OnlineOnly Denominator = "online"
	// AllRegistered counts every node ever registered.
	AllRegistered Denominator = "all"
)

// DefaultThreshold is a simple majority.
const DefaultThreshold = 0.5

// QuorumPolicy decides when enough votes agree. A quorum is reached when
// strictly more than Threshold of the voters agree.
type QuorumPolicy struct {
	Threshold   float64
	Denominator Denominator
}

// DefaultQuorumPolicy is a strict majority of the online nodes.
func DefaultQuorumPolicy() QuorumPolicy {
	return QuorumPolicy{
		Threshold:   DefaultThreshold,
		Denominator: OnlineOnly,
	}
}

// Validate ...
func (p QuorumPolicy) Validate() error {
	if p.Threshold < 0.5 || p.Threshold >= 1 {
		return fmt.Errorf("quorum threshold must be in [0.5, 1), got %v", p.Threshold)
	}
	switch p.Denominator {
	case OnlineOnly, AllRegistered:
	default:
		return fmt.Errorf("unknown quorum denominator %q", p.Denominator)
	}
	return nil
}

// OnlineOnly reports whether only online nodes count.
func (p QuorumPolicy) OnlineOnly() bool {
	return p.Denominator != AllRegistered
}

// Reached reports whether count votes out of n voters form a quorum.
func (p QuorumPolicy) Reached(count, n int) bool {
	if n == 0 {
		return false
	}
	return float64(count)/float64(n) > p.Threshold
}

// Needed returns the smallest number of agreeing votes that reaches the
// quorum with n voters.
func (p QuorumPolicy) Needed(n int) int {
	for c := 0; c <= n; c++ {
		if p.Reached(c, n) {
			return c
		}
	}
	return n + 1
}

// tally counts the votes cast by the given voters. Votes from anyone else are
// ignored.
type tally struct {
	voters    int
	approvals int
	rejects   int
	choices   map[string]int
	counted   map[string]Vote
}

func newTally(votes map[string]Vote, voters []string) tally {
	t := tally{
		voters:  len(voters),
		choices: make(map[string]int),
		counted: make(map[string]Vote),
	}
	for _, id := range voters {
		v, ok := votes[id]
		if !ok {
			continue
		}
		t.counted[id] = v
		if v.Choice != "" {
			t.choices[v.Choice]++
			continue
		}
		switch v.Decision {
		case chain.Approve:
			t.approvals++
		case chain.Reject:
			t.rejects++
		}
	}
	return t
}

// winner returns the choice reaching the quorum, if any. With a threshold of
// at least one half, at most one choice can.
func (t tally) winner(p QuorumPolicy) (string, bool) {
	for c, n := range t.choices {
		if p.Reached(n, t.voters) {
			return c, true
		}
	}
	return "", false
}
