package node

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/memorychain/src/consensus"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
)

// Validator struct holds the identity of a node: its key and the ID derived
// from it.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id     string
	pubHex string
}

// NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	v := &Validator{
		Key:     key,
		Moniker: moniker,
	}
	v.ID()
	v.PublicKeyHex()
	return v
}

// ID returns the node ID derived from the public key
func (v *Validator) ID() string {
	if v.id == "" {
		v.id = keys.PublicKeyID(&v.Key.PublicKey)
	}
	return v.id
}

// PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

// SignVote signs a vote cast by this node
func (v *Validator) SignVote(vote *consensus.Vote) error {
	return vote.Sign(v.Key)
}

// SignWithdrawal signs the withdrawal of a proposal made by this node
func (v *Validator) SignWithdrawal(w *consensus.Withdrawal) error {
	return w.Sign(v.Key)
}
