// Package connector drives document upserts and removals against a Docs4U repository.
//
// A Connector is owned by one worker at a time. The identity cache and the lock are the
// only state shared between connectors.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"docs4usync/internal/acl"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/ports"
	"docs4usync/internal/types"

	log "github.com/sirupsen/logrus"
)

// Options wires a Connector to its collaborators.
type Options struct {
	Repository ports.Repository
	Cache      ports.IdentityCache
	Locker     ports.Locker

	SessionLifetime time.Duration
	CacheLifetime   time.Duration
	LookupTimeout   time.Duration
}

type Connector struct {
	repo            ports.Repository
	cache           ports.IdentityCache
	resolver        *acl.Resolver
	sessionLifetime time.Duration

	cfg               *types.ConnectionConfig
	session           ports.Session
	sessionExpiration time.Time
}

func New(opts Options) *Connector {
	lifetime := opts.SessionLifetime
	if lifetime <= 0 {
		lifetime = types.DefaultSessionLifetime
	}
	return &Connector{
		repo:  opts.Repository,
		cache: opts.Cache,
		resolver: &acl.Resolver{
			Cache:         opts.Cache,
			Locker:        opts.Locker,
			Lifetime:      opts.CacheLifetime,
			LookupTimeout: opts.LookupTimeout,
		},
		sessionLifetime: lifetime,
	}
}

// Install creates the identity cache storage.
func (c *Connector) Install(ctx context.Context) error {
	return c.cache.Initialize(ctx)
}

// Deinstall drops the identity cache storage.
func (c *Connector) Deinstall(ctx context.Context) error {
	return c.cache.Destroy(ctx)
}

// Connect sets the connection configuration. Any session for a previous
// configuration is closed.
func (c *Connector) Connect(cfg types.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.cfg != nil && *c.cfg != cfg {
		c.expireSession()
	}
	c.cfg = &cfg
	return nil
}

// Disconnect closes the session and forgets the configuration.
func (c *Connector) Disconnect() error {
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.cfg = nil
	return err
}

func (c *Connector) Connected() bool { return c.cfg != nil }

// Poll closes the session once it has been idle for the session lifetime.
func (c *Connector) Poll() {
	if c.session != nil && !timeNow().Before(c.sessionExpiration) {
		log.WithField("root", c.cfg.RootDirectory).Debug("docs4u session expired")
		c.expireSession()
	}
}

// getSession returns the live session, opening one if needed, and renews its expiry.
func (c *Connector) getSession(ctx context.Context) (ports.Session, error) {
	if c.cfg == nil {
		return nil, types.ErrNotConnected
	}
	if c.session == nil {
		s, err := c.repo.Open(ctx, c.cfg.RootDirectory)
		if err != nil {
			return nil, err
		}
		c.session = s
	}
	c.sessionExpiration = timeNow().Add(c.sessionLifetime)
	return c.session, nil
}

func (c *Connector) expireSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		log.WithError(err).Warn("failed to close docs4u session")
	}
	c.session = nil
}

// Check opens a session and runs the repository's sanity check.
func (c *Connector) Check(ctx context.Context) (string, error) {
	sess, err := c.getSession(ctx)
	if err != nil {
		return "", err
	}
	if err := sess.SanityCheck(ctx); err != nil {
		if types.IsInterrupted(err) {
			return "", types.Interrupted(err)
		}
		var si *types.ServiceInterruption
		if errors.As(err, &si) {
			return "Transient error: " + si.Message, nil
		}
		c.expireSession()
		return "Error: " + err.Error(), nil
	}
	return "Connection working", nil
}

// MetadataNames lists the repository's metadata names, sorted.
func (c *Connector) MetadataNames(ctx context.Context) ([]string, error) {
	sess, err := c.getSession(ctx)
	if err != nil {
		return nil, err
	}
	names, err := sess.MetadataNames(ctx)
	if err != nil {
		c.expireSession()
		return nil, classify(ctx, "listing metadata names", err)
	}
	sort.Strings(names)
	return names, nil
}

// RequestInfo answers a named information request. Only "metadata" is known.
func (c *Connector) RequestInfo(ctx context.Context, command string) ([]string, error) {
	switch command {
	case "metadata":
		return c.MetadataNames(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown request %q", types.ErrNotFound, command)
	}
}

// GetOutputDescription encodes spec into the version string the host stores per
// document. Equal specifications always produce equal strings.
func (c *Connector) GetOutputDescription(spec types.Specification) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return outputdesc.Encode(spec), nil
}

// CheckMimeTypeIndexable accepts every MIME type.
func (c *Connector) CheckMimeTypeIndexable(string) bool { return true }

// CheckDocumentIndexable accepts every document.
func (c *Connector) CheckDocumentIndexable(string) bool { return true }

// NoteJobComplete has nothing to flush.
func (c *Connector) NoteJobComplete(context.Context) error { return nil }

// classify turns a failure into what the host sees. Cancellation becomes an
// interruption. A *types.ServiceInterruption passes through unchanged, although the
// Docs4U repository never produces one: all of its failures are permanent.
func classify(ctx context.Context, what string, err error) error {
	if types.IsInterrupted(err) || errors.Is(ctx.Err(), context.Canceled) {
		return types.Interrupted(err)
	}
	var si *types.ServiceInterruption
	if errors.As(err, &si) {
		return err
	}
	return fmt.Errorf("error %s: %w", what, err)
}
