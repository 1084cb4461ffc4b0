// Package consensus decides which proposed blocks enter the chain.
//
// A block is proposed, the nodes vote on it, and once a quorum of the
// electorate agrees the proposal is finalized: it receives the next free index
// and the hash of the current head, a responsible node is assigned, and the
// block is committed. Voting is a simple majority over the registered (or only
// the online) nodes; there is no Byzantine fault tolerance.
//
// Each proposal is owned by a single goroutine which records votes, evaluates
// the quorum, and closes the proposal when it is decided, withdrawn, or when
// its deadline passes. Votes are delivered to that goroutine over a channel,
// so all the state of a proposal is confined to it.
//
// Only the owner of a proposal finalizes it. Other nodes track the proposal,
// count the votes they see, and append the committed block when the owner
// broadcasts it with the certificate of votes that decided it.
//
// Two ballot kinds exist. Approval ballots take approve/reject decisions and
// are used for memories, task records, transfers and solution votes. Choice
// ballots take one of a list of choices and are used to resolve the difficulty
// of a task.
package consensus
