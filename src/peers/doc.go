// Package peers implements the node registry of a memorychain network.
//
// Every node that ever registered is kept in the registry, with its network
// address, optional public key, opaque capability descriptors, reputation and
// liveness. Nodes are never deleted: a node that stops sending heartbeats is
// marked offline after a configurable number of missed heartbeat periods and
// must register again to become eligible.
//
// Only online nodes are eligible for task assignment and, under the default
// quorum policy, for vote counting. The registry therefore implements the
// Electorate interface of the consensus package.
//
// The registry is persisted to a nodes.json file in the data directory, and a
// seeds.yaml file lists the addresses a fresh node contacts to join the
// network.
package peers
