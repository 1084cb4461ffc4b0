package chain

import (
	"bytes"
	"strings"

	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/crypto"
	"github.com/ugorji/go/codec"
	"github.com/vmihailenco/msgpack/v5"
)

// GenesisHash is the PreviousHash of the block at index 0.
var GenesisHash = "0X" + strings.Repeat("0", 64)

// BlockBody is the hashed part of a Block.
type BlockBody struct {
	Index             int
	Timestamp         int64
	Payload           Payload
	PreviousHash      string
	ProposerNodeID    string
	ResponsibleNodeID string
	// ProposalID and Endorsements record the proposal and the votes that
	// decided the block.
	ProposalID   string        `json:",omitempty"`
	Endorsements []Endorsement `json:",omitempty"`
}

// Endorsement is a signed vote kept in the block it decided. Exactly one of
// Decision and Choice is set.
type Endorsement struct {
	NodeID    string
	Decision  Decision `json:",omitempty"`
	Choice    string   `json:",omitempty"`
	Timestamp int64
	Signature string `json:",omitempty"`
}

// Value returns the decision or the choice, whichever is set.
func (e *Endorsement) Value() string {
	if e.Choice != "" {
		return e.Choice
	}
	return string(e.Decision)
}

// Marshal returns the canonical JSON encoding of the body. Map keys are sorted
// so that every node computes the same bytes.
func (bb *BlockBody) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(bb); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Hash returns the SHA256 of the canonical encoding.
func (bb *BlockBody) Hash() ([]byte, error) {
	hashBytes, err := bb.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// Block is an entry of the chain.
type Block struct {
	Body BlockBody
	Hash string
}

// NewBlock creates a block. The hash is left empty until Seal is called.
func NewBlock(index int,
	timestamp int64,
	payload Payload,
	previousHash string,
	proposer string,
	responsible string) *Block {

	return &Block{
		Body: BlockBody{
			Index:             index,
			Timestamp:         timestamp,
			Payload:           payload,
			PreviousHash:      previousHash,
			ProposerNodeID:    proposer,
			ResponsibleNodeID: responsible,
		},
	}
}

// Index ...
func (b *Block) Index() int {
	return b.Body.Index
}

// Timestamp ...
func (b *Block) Timestamp() int64 {
	return b.Body.Timestamp
}

// Payload ...
func (b *Block) Payload() Payload {
	return b.Body.Payload
}

// PreviousHash ...
func (b *Block) PreviousHash() string {
	return b.Body.PreviousHash
}

// Endorse records the proposal and the votes that decided the block. The
// block must be sealed afterwards.
func (b *Block) Endorse(proposalID string, endorsements []Endorsement) {
	b.Body.ProposalID = proposalID
	b.Body.Endorsements = endorsements
}

// Decided returns the value the endorsements of the block must agree on: the
// level of a difficulty record, reject for a rejected solution, approve
// otherwise.
func (b *Block) Decided() string {
	p := b.Body.Payload
	switch {
	case p.Task != nil && p.Task.Action == TaskDifficulty:
		return string(p.Task.Difficulty)
	case p.SolutionVote != nil && !p.SolutionVote.Accepted:
		return string(Reject)
	}
	return string(Approve)
}

// ComputeHash recomputes the hash of the body.
func (b *Block) ComputeHash() (string, error) {
	h, err := b.Body.Hash()
	if err != nil {
		return "", err
	}
	return common.EncodeToString(h), nil
}

// Seal computes and sets the hash. It must be called again whenever the body
// changes.
func (b *Block) Seal() error {
	h, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// Copy returns a deep copy obtained through an encoding round trip.
func (b *Block) Copy() (*Block, error) {
	bs, err := b.Marshal()
	if err != nil {
		return nil, err
	}
	nb := new(Block)
	if err := nb.Unmarshal(bs); err != nil {
		return nil, err
	}
	return nb, nil
}

// Marshal is the msgpack encoding used to persist blocks.
func (b *Block) Marshal() ([]byte, error) {
	return msgpack.Marshal(b)
}

// Unmarshal ...
func (b *Block) Unmarshal(data []byte) error {
	return msgpack.Unmarshal(data, b)
}
