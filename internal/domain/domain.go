// Package domain defines the identity and topology types shared by every
// ringcmh component.
package domain

import "fmt"

// ID identifies a node in the ring. ringcmh derives it from the node's
// TCP port, which is sufficient for the fixed, address-keyed ring model
// (no identifier-space routing is performed, unlike a DHT).
type ID uint64

func (id ID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// NewID derives an ID from a listen port.
func NewID(port int) ID { return ID(port) }

// Node is a peer's address and derived ID.
type Node struct {
	ID   ID
	Addr string
}

// NeighborInfo holds the three ring pointers described by the overlay
// protocol: next, nnext (the successor's successor) and prev.
type NeighborInfo struct {
	Next  string
	NNext string
	Prev  string
}

// Self returns a NeighborInfo where every pointer refers to addr, the
// state of a singleton ring.
func Self(addr string) NeighborInfo {
	return NeighborInfo{Next: addr, NNext: addr, Prev: addr}
}
