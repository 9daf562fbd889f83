package source

import (
	"context"

	"github.com/ftl/panaweb/core"
)

// null is the sentinel source. It opens always, is never connected and never produces samples.
type null struct {
	settings
}

// NewNull returns the sentinel source.
func NewNull(p Parameters) Device {
	p.ID = core.NullSourceID
	return &null{settings: newSettings(p)}
}

func (n *null) Open() error {
	n.connected = false
	return nil
}

func (n *null) Close() error {
	return nil
}

// NextSampleBlock blocks until the context is done.
func (n *null) NextSampleBlock(ctx context.Context, _ int) (core.SampleBlock, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
