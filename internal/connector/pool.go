package connector

import (
	"context"
	"errors"
	"time"

	"docs4usync/internal/types"

	log "github.com/sirupsen/logrus"
)

// Pool hands out connected Connectors, one per concurrent worker.
type Pool struct {
	idle chan *Connector
	all  []*Connector
}

// NewPool builds size connectors from opts, all connected with cfg.
func NewPool(size int, opts Options, cfg types.ConnectionConfig) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{idle: make(chan *Connector, size)}
	for i := 0; i < size; i++ {
		c := New(opts)
		if err := c.Connect(cfg); err != nil {
			return nil, err
		}
		p.all = append(p.all, c)
		p.idle <- c
	}
	return p, nil
}

func (p *Pool) Size() int { return len(p.all) }

// Acquire waits for an idle connector. It must be handed back with Release.
func (p *Pool) Acquire(ctx context.Context) (*Connector, error) {
	select {
	case c := <-p.idle:
		return c, nil
	case <-ctx.Done():
		return nil, types.Interrupted(ctx.Err())
	}
}

func (p *Pool) Release(c *Connector) {
	p.idle <- c
}

// With runs fn on an idle connector.
func (p *Pool) With(ctx context.Context, fn func(*Connector) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return fn(c)
}

// PollIdle expires idle sessions on connectors nobody holds right now.
func (p *Pool) PollIdle() {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		select {
		case c := <-p.idle:
			c.Poll()
			p.idle <- c
		default:
			return
		}
	}
}

// RunPoller calls PollIdle every interval until ctx is done.
func (p *Pool) RunPoller(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.PollIdle()
		}
	}
}

// Close disconnects every connector, waiting for checked-out ones to come back.
func (p *Pool) Close(ctx context.Context) error {
	var errs []error
	for range p.all {
		c, err := p.Acquire(ctx)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := c.Disconnect(); err != nil {
			log.WithError(err).Warn("failed to disconnect connector")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
