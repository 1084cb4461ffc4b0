package net

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {
	// Listen starts the transport's listening loop. It blocks until the
	// transport is closed, so it should be called in a goroutine.
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address to distinguish from our
	// peers.
	LocalAddr() string

	// AdvertiseAddr is the address other nodes use to reach us.
	AdvertiseAddr() string

	// Join asks a bootstrap node to register us and return its registry.
	Join(target string, args *JoinRequest, resp *JoinResponse) error

	// Heartbeat exchanges liveness and chain state with a node.
	Heartbeat(target string, args *HeartbeatRequest, resp *HeartbeatResponse) error

	// Proposal relays a proposal.
	Proposal(target string, args *ProposalRequest, resp *AckResponse) error

	// Vote relays a vote.
	Vote(target string, args *VoteRequest, resp *AckResponse) error

	// Commit relays a committed block and its certificate.
	Commit(target string, args *CommitRequest, resp *AckResponse) error

	// Withdraw relays the withdrawal of a proposal.
	Withdraw(target string, args *WithdrawRequest, resp *AckResponse) error

	// Chain fetches the chain of a node.
	Chain(target string, args *ChainRequest, resp *ChainResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}
