// Package bootstrap discovers a join target for cmd/node at startup
// when none is given on the command line: either a static configured
// peer list, or SRV records listed from a Route53 hosted zone (other
// record types in the zone are skipped).
package bootstrap

import (
	"context"

	"ringcmh/internal/domain"
)

// Discoverer returns a list of known peer addresses to try joining
// through, and optionally advertises this node so later joiners can
// find it.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
	Register(ctx context.Context, node domain.Node) error
	Deregister(ctx context.Context, node domain.Node) error
}

// Static returns the configured peer list verbatim and never
// registers, matching bootstrap.mode=static.
type Static struct {
	Peers []string
}

func (s Static) Discover(ctx context.Context) ([]string, error) { return s.Peers, nil }
func (s Static) Register(ctx context.Context, node domain.Node) error { return nil }
func (s Static) Deregister(ctx context.Context, node domain.Node) error { return nil }

// None never discovers any peer; used when bootstrap.mode=none and the
// operator always supplies an explicit /joinother call.
type None struct{}

func (None) Discover(ctx context.Context) ([]string, error)   { return nil, nil }
func (None) Register(ctx context.Context, node domain.Node) error   { return nil }
func (None) Deregister(ctx context.Context, node domain.Node) error { return nil }
