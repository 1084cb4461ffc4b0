package net

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/consensus"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport("")
		return it
	case TCP:
		tt, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, 2*time.Second, common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go tt.Listen()
		return tt
	default:
		panic("Unknown transport type")
	}
}

// newTestPair returns a consumer transport and a transport that can reach it.
func newTestPair(ttype int, t *testing.T) (Transport, Transport) {
	trans1 := NewTestTransport(ttype, t)
	trans2 := NewTestTransport(ttype, t)

	if ttype == INMEM {
		itrans1 := trans1.(*InmemTransport)
		itrans2 := trans2.(*InmemTransport)
		itrans1.Connect(itrans2.LocalAddr(), itrans2)
		itrans2.Connect(itrans1.LocalAddr(), itrans1)
	}

	return trans1, trans2
}

// serveOne answers the next RPC of trans with resp or err, after checking the
// command with check.
func serveOne(t *testing.T, trans Transport, check func(cmd interface{}), resp interface{}, err error) {
	go func() {
		select {
		case rpc := <-trans.Consumer():
			check(rpc.Command)
			rpc.Respond(resp, err)
		case <-time.After(time.Second):
			t.Errorf("timeout")
		}
	}()
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_Heartbeat(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1, trans2 := newTestPair(ttype, t)

		args := HeartbeatRequest{
			FromID:      "N00000002",
			Address:     trans2.AdvertiseAddr(),
			ChainLength: 4,
			HeadHash:    "0XABCD",
		}
		args.Activity.State = "working_on_task"
		args.Activity.CurrentTaskID = "t1"

		resp := HeartbeatResponse{
			FromID:      "N00000001",
			ChainLength: 7,
			HeadHash:    "0XEF01",
			Reregister:  true,
		}

		serveOne(t, trans1, func(cmd interface{}) {
			req, ok := cmd.(*HeartbeatRequest)
			if !ok {
				t.Errorf("expected HeartbeatRequest, got %T", cmd)
				return
			}
			if req.FromID != args.FromID ||
				req.ChainLength != args.ChainLength ||
				req.HeadHash != args.HeadHash ||
				req.Activity.State != args.Activity.State ||
				req.Activity.CurrentTaskID != "t1" {
				t.Errorf("command mismatch: %#v %#v", *req, args)
			}
		}, &resp, nil)

		var out HeartbeatResponse
		if err := trans2.Heartbeat(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}

		trans1.Close()
		trans2.Close()
	}
}

func TestTransport_Vote(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1, trans2 := newTestPair(ttype, t)

		args := VoteRequest{
			FromID: "N00000002",
			Vote: consensus.Vote{
				ProposalID: "p1",
				NodeID:     "N00000002",
				Decision:   chain.Approve,
				Timestamp:  12,
				Signature:  "abc|def",
			},
		}
		resp := AckResponse{FromID: "N00000001", Success: true}

		serveOne(t, trans1, func(cmd interface{}) {
			req, ok := cmd.(*VoteRequest)
			if !ok {
				t.Errorf("expected VoteRequest, got %T", cmd)
				return
			}
			if !reflect.DeepEqual(*req, args) {
				t.Errorf("command mismatch: %#v %#v", *req, args)
			}
		}, &resp, nil)

		var out AckResponse
		if err := trans2.Vote(trans1.LocalAddr(), &args, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if !reflect.DeepEqual(resp, out) {
			t.Fatalf("response mismatch: %#v %#v", resp, out)
		}

		trans1.Close()
		trans2.Close()
	}
}

func TestTransport_Chain(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1, trans2 := newTestPair(ttype, t)

		mem := chain.NewMemory("subject", "content", nil, nil)
		block := chain.NewBlock(0, 1000, chain.NewMemoryPayload(mem), chain.GenesisHash, "N00000001", "N00000001")
		if err := block.Seal(); err != nil {
			t.Fatal(err)
		}

		resp := ChainResponse{
			FromID: "N00000001",
			Length: 1,
			Blocks: []*chain.Block{block},
		}

		serveOne(t, trans1, func(cmd interface{}) {
			if _, ok := cmd.(*ChainRequest); !ok {
				t.Errorf("expected ChainRequest, got %T", cmd)
			}
		}, &resp, nil)

		var out ChainResponse
		if err := trans2.Chain(trans1.LocalAddr(), &ChainRequest{FromID: "N00000002"}, &out); err != nil {
			t.Fatalf("err: %v", err)
		}

		if out.Length != 1 || len(out.Blocks) != 1 {
			t.Fatalf("expected 1 block, got %d", len(out.Blocks))
		}

		// The received block must still hash to its recorded hash.
		hash, err := out.Blocks[0].ComputeHash()
		if err != nil {
			t.Fatal(err)
		}
		if hash != block.Hash {
			t.Fatalf("hash mismatch: %s %s", hash, block.Hash)
		}
		if out.Blocks[0].Payload().Memory.Content != "content" {
			t.Fatalf("content mismatch: %s", out.Blocks[0].Payload().Memory.Content)
		}

		trans1.Close()
		trans2.Close()
	}
}

func TestTransport_Error(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1, trans2 := newTestPair(ttype, t)

		serveOne(t, trans1, func(cmd interface{}) {}, &AckResponse{}, errors.New("unknown proposal"))

		var out AckResponse
		err := trans2.Withdraw(trans1.LocalAddr(), &WithdrawRequest{Withdrawal: consensus.Withdrawal{ProposalID: "p1", NodeID: "n"}}, &out)
		if err == nil || err.Error() != "unknown proposal" {
			t.Fatalf("expected remote error, got %v", err)
		}

		trans1.Close()
		trans2.Close()
	}
}

func TestTransport_Unreachable(t *testing.T) {
	_, trans := NewInmemTransport("")
	var out AckResponse
	if err := trans.Proposal("nowhere", &ProposalRequest{}, &out); err == nil {
		t.Fatal("expected error for unknown peer")
	}
}

func TestRPCName(t *testing.T) {
	rpc := RPC{Command: &CommitRequest{}}
	if rpc.Name() != "commit" {
		t.Fatalf("expected commit, got %s", rpc.Name())
	}
	rpc = RPC{Command: "foo"}
	if rpc.Name() != "unknown" {
		t.Fatalf("expected unknown, got %s", rpc.Name())
	}
}
