package net

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC encapsulates an RPC request and provides a response mechanism.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Respond is used to respond with a response, error or both.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}

// Name returns a short name of the command, for logs and metrics.
func (r *RPC) Name() string {
	switch r.Command.(type) {
	case *JoinRequest:
		return "join"
	case *HeartbeatRequest:
		return "heartbeat"
	case *ProposalRequest:
		return "proposal"
	case *VoteRequest:
		return "vote"
	case *CommitRequest:
		return "commit"
	case *WithdrawRequest:
		return "withdraw"
	case *ChainRequest:
		return "chain"
	default:
		return "unknown"
	}
}
