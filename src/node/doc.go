// Package node implements the reactive component of a memorychain node.
//
// A Node owns a Core, which is the only writer of the chain and of the state
// derived from it (the tasks and the token balances). Everything else reaches
// the chain through the consensus engine: a payload is proposed, the nodes
// vote, and the owner of the proposal appends the block and broadcasts it with
// the votes that decided it. Node implements a state machine whose states are
// defined in the state package.
//
// # Heartbeats
//
// On every tick of its control timer a node sends a HeartbeatRequest to every
// node it knows. The request carries the activity of the node and the length
// and head of its chain. A node that is not known, or that was marked
// offline, is told to register again. Nodes that miss too many heartbeats, or
// that cannot be reached by the gossip layer, are marked offline; they stay in
// the registry but no longer count in online-only quorums nor get assigned
// tasks.
//
// # Derived proposals
//
// Committing a task block can call for further ballots: the difficulty of a
// new task, the acceptance of a solution, the reward of a completed task. Every
// node opens these ballots locally, with ids derived from the task, so that
// votes can be cast everywhere without relaying the proposals. Only the owner
// of the ballot, the node responsible for the task, finalizes it. When the
// responsible node goes offline, the online node with the lowest ID takes
// over. Ballots that expire are opened again on the next tick.
//
// # Catching up
//
// A node that learns of a longer chain, through a heartbeat, a join response
// or a commit it cannot append, enters the CatchingUp state. It first asks for
// the blocks it is missing and commits them one by one if they extend its own
// chain. Otherwise it fetches the whole remote chain and adopts it if it is
// longer and valid, after which tasks and balances are rebuilt from scratch.
//
// # Joining
//
// A node started with bootstrap addresses, or with nodes remembered from a
// previous run, enters the Joining state. It sends a JoinRequest with its ID,
// address, capabilities and public key, and learns the nodes known by the
// first node that accepts it.
package node
