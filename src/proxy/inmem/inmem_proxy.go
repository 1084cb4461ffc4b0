package inmem

import (
	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/node/state"
	"github.com/mosaicnetworks/memorychain/src/proxy"
	"github.com/sirupsen/logrus"
)

// InmemProxy implements the AppProxy interface natively
type InmemProxy struct {
	handler  proxy.ProxyHandler
	submitCh chan chain.Payload
	logger   *logrus.Entry
}

// NewInmemProxy instantiates an InmemProxy from a set of handlers. If no
// logger is given, a new one is created.
func NewInmemProxy(handler proxy.ProxyHandler,
	logger *logrus.Entry) *InmemProxy {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &InmemProxy{
		handler:  handler,
		submitCh: make(chan chain.Payload, 64),
		logger:   logger,
	}
}

/*******************************************************************************
* Submit                                                                       *
*******************************************************************************/

// SubmitPayload is called by the application to have the node propose a
// payload. It returns an error without submitting if the payload is invalid.
func (p *InmemProxy) SubmitPayload(payload chain.Payload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	p.submitCh <- payload
	return nil
}

// SubmitMemory is a shortcut for submitting a memory payload.
func (p *InmemProxy) SubmitMemory(subject, content string, flags []string) error {
	return p.SubmitPayload(chain.NewMemoryPayload(chain.NewMemory(subject, content, nil, flags)))
}

/*******************************************************************************
* Implement AppProxy Interface                                                 *
*******************************************************************************/

// SubmitCh returns the channel of submitted payloads
func (p *InmemProxy) SubmitCh() chan chain.Payload {
	return p.submitCh
}

// CommitBlock calls the commitHandler
func (p *InmemProxy) CommitBlock(block chain.Block) error {
	err := p.handler.CommitHandler(block)

	p.logger.WithFields(logrus.Fields{
		"index":   block.Index(),
		"payload": block.Payload().Type,
		"err":     err,
	}).Debug("InmemProxy.CommitBlock")

	return err
}

// Reset calls the resetHandler
func (p *InmemProxy) Reset(blocks []*chain.Block) error {
	err := p.handler.ResetHandler(blocks)

	p.logger.WithFields(logrus.Fields{
		"blocks": len(blocks),
		"err":    err,
	}).Debug("InmemProxy.Reset")

	return err
}

// OnStateChanged calls the stateChangeHandler
func (p *InmemProxy) OnStateChanged(state state.State) error {
	return p.handler.StateChangeHandler(state)
}
