package consensus

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/memorychain/src/chain"
)

// Certificate is the set of votes that decided a proposal. It is recorded in
// the committed block as endorsements, so that any node can check it.
type Certificate struct {
	ProposalID string
	Votes      []Vote
}

// NewCertificate builds a certificate with votes sorted by voter.
func NewCertificate(proposalID string, votes map[string]Vote) Certificate {
	c := Certificate{
		ProposalID: proposalID,
		Votes:      make([]Vote, 0, len(votes)),
	}
	for _, v := range votes {
		c.Votes = append(c.Votes, v)
	}
	sort.Slice(c.Votes, func(i, j int) bool { return c.Votes[i].NodeID < c.Votes[j].NodeID })
	return c
}

// CertificateOf rebuilds the certificate recorded in a block.
func CertificateOf(block *chain.Block) Certificate {
	c := Certificate{
		ProposalID: block.Body.ProposalID,
		Votes:      make([]Vote, 0, len(block.Body.Endorsements)),
	}
	for _, e := range block.Body.Endorsements {
		c.Votes = append(c.Votes, Vote{
			ProposalID: c.ProposalID,
			NodeID:     e.NodeID,
			Decision:   e.Decision,
			Choice:     e.Choice,
			Timestamp:  e.Timestamp,
			Signature:  e.Signature,
		})
	}
	return c
}

// Endorsements converts the votes for recording in a block.
func (c *Certificate) Endorsements() []chain.Endorsement {
	res := make([]chain.Endorsement, 0, len(c.Votes))
	for _, v := range c.Votes {
		res = append(res, chain.Endorsement{
			NodeID:    v.NodeID,
			Decision:  v.Decision,
			Choice:    v.Choice,
			Timestamp: v.Timestamp,
			Signature: v.Signature,
		})
	}
	return res
}

// Decisions returns the approval decisions of the certificate by node.
func (c *Certificate) Decisions() map[string]chain.Decision {
	res := make(map[string]chain.Decision, len(c.Votes))
	for _, v := range c.Votes {
		if v.Decision != "" {
			res[v.NodeID] = v.Decision
		}
	}
	return res
}

// votes indexes the votes by voter. A voter appearing twice is an error.
func (c *Certificate) votes() (map[string]Vote, error) {
	res := make(map[string]Vote, len(c.Votes))
	for _, v := range c.Votes {
		if v.ProposalID != c.ProposalID {
			return nil, fmt.Errorf("certificate of %s carries a vote for %s", c.ProposalID, v.ProposalID)
		}
		if _, dup := res[v.NodeID]; dup {
			return nil, fmt.Errorf("certificate of %s carries two votes from %s", c.ProposalID, v.NodeID)
		}
		res[v.NodeID] = v
	}
	return res, nil
}

/*******************************************************************************
Checks
*******************************************************************************/

// VerifyCertificate checks the votes recorded in a block that is about to be
// appended: every voter is registered, every signature matches the registered
// key, and the value the block stands for reaches the quorum of the current
// voters.
func (e *Engine) VerifyCertificate(block *chain.Block) error {
	cert := CertificateOf(block)
	if cert.ProposalID == "" {
		return fmt.Errorf("block %d does not name its proposal", block.Index())
	}

	votes, err := cert.votes()
	if err != nil {
		return err
	}
	for _, v := range votes {
		if err := e.checkVoter(v); err != nil {
			return err
		}
	}

	policy := e.conf.Policy
	voters := e.electorate.Voters(policy.OnlineOnly())
	agree := countValue(newTally(votes, voters), block.Decided())
	if !policy.Reached(agree, len(voters)) {
		return fmt.Errorf("%w: block %d has %d of %d votes for %s",
			ErrNoQuorum, block.Index(), agree, len(voters), block.Decided())
	}

	return nil
}

// CheckEndorsements checks the votes recorded in a block of the past, such as
// blocks fetched while catching up. The electorate at the time of the commit
// is gone, so the quorum cannot be recomputed: the recorded votes must carry
// valid signatures when the voter's key is known, and a strict majority of
// them must agree with the block.
func (e *Engine) CheckEndorsements(block *chain.Block) error {
	cert := CertificateOf(block)
	votes, err := cert.votes()
	if err != nil {
		return err
	}
	if len(votes) == 0 {
		return fmt.Errorf("%w: block %d carries no votes", ErrNoQuorum, block.Index())
	}

	agree := 0
	for _, v := range votes {
		if pub := e.electorate.PubKey(v.NodeID); pub != "" {
			if ok, err := v.Verify(pub); err != nil || !ok {
				return ErrInvalidSignature
			}
		}
		if v.Value() == block.Decided() {
			agree++
		}
	}
	if 2*agree <= len(votes) {
		return fmt.Errorf("%w: block %d has %d of %d recorded votes for %s",
			ErrNoQuorum, block.Index(), agree, len(votes), block.Decided())
	}
	return nil
}

func countValue(t tally, value string) int {
	switch value {
	case string(chain.Approve):
		return t.approvals
	case string(chain.Reject):
		return t.rejects
	}
	return t.choices[value]
}
