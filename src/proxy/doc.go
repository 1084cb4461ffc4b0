// Package proxy defines AppProxy: the interface between a memorychain node and
// the application embedding it.
//
// The node delivers every committed block through CommitBlock, in chain order,
// and calls Reset when fork resolution replaced the chain. The application can
// submit payloads (memories, tasks) through SubmitCh; the node proposes them
// under its own identity.
//
// The inmem sub-package implements AppProxy with native callback handlers, to
// integrate memorychain as a regular Go dependency.
package proxy
