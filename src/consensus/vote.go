package consensus

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
)

// Vote is the ballot of one node on one proposal. Decision is used by approval
// ballots and Choice by choice ballots.
type Vote struct {
	ProposalID string
	NodeID     string
	Decision   chain.Decision `json:",omitempty"`
	Choice     string         `json:",omitempty"`
	Timestamp  int64
	Signature  string `json:",omitempty"`
}

// Value returns the decision or the choice, whichever is set.
func (v *Vote) Value() string {
	if v.Choice != "" {
		return v.Choice
	}
	return string(v.Decision)
}

func (v *Vote) signBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d", v.ProposalID, v.NodeID, v.Decision, v.Choice, v.Timestamp))
}

// Sign signs the vote with the private key of the voter.
func (v *Vote) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := keys.SignMessage(priv, v.signBytes())
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// Verify checks the signature against a hex encoded public key.
func (v *Vote) Verify(pubKeyHex string) (bool, error) {
	if v.Signature == "" {
		return false, nil
	}
	return keys.VerifyMessage(pubKeyHex, v.signBytes(), v.Signature)
}

// Withdrawal is the request of a proposer to cancel its proposal. It is
// signed like a vote.
type Withdrawal struct {
	ProposalID string
	NodeID     string
	Timestamp  int64
	Signature  string `json:",omitempty"`
}

func (w *Withdrawal) signBytes() []byte {
	return []byte(fmt.Sprintf("withdraw|%s|%s|%d", w.ProposalID, w.NodeID, w.Timestamp))
}

// Sign signs the withdrawal with the private key of the proposer.
func (w *Withdrawal) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := keys.SignMessage(priv, w.signBytes())
	if err != nil {
		return err
	}
	w.Signature = sig
	return nil
}

// Verify checks the signature against a hex encoded public key.
func (w *Withdrawal) Verify(pubKeyHex string) (bool, error) {
	if w.Signature == "" {
		return false, nil
	}
	return keys.VerifyMessage(pubKeyHex, w.signBytes(), w.Signature)
}
