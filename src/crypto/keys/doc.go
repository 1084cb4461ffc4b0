// Package keys implements the public key cryptography used by memorychain
// nodes.
//
// Every node owns a secp256k1 key-pair. The public key is announced when the
// node registers with its peers, and the private key signs the votes the node
// casts. Peers that know the public key of a voter verify its signatures
// before counting the vote. The short node identifier used in blocks and in
// the registry is derived from the public key unless the operator configures
// one explicitly.
package keys
