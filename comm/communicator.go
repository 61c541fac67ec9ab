// Package comm implements the point to point exchange used to move packed
// simulator data between worker processes and the I/O rank.
//
// A Communicator is the transport: it knows the local rank, the number of
// ranks and how to move an opaque payload between two of them. On top of it
// the P2PCommunicator runs exchange rounds, driving a DataHandle that packs
// the contribution for each outgoing link and unpacks each incoming one.
package comm

import (
	"context"
	"errors"
	"fmt"
)

// Root is the rank used as I/O rank unless configured otherwise
const Root int = 0

// Tag separates independent message streams between the same pair of ranks
type Tag int

const (
	TagExchange Tag = iota + 1
	TagBarrier
	TagControl
)

func (t Tag) String() string {
	switch t {
	case TagExchange:
		return "exchange"
	case TagBarrier:
		return "barrier"
	case TagControl:
		return "control"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

var (
	// ErrUnknownLink is returned for a link outside the declared link set
	ErrUnknownLink = errors.New("comm: link not in declared link set")
	// ErrInvalidRank is returned when a rank is outside [0, size)
	ErrInvalidRank = errors.New("comm: rank out of range")
	// ErrNoRoute is returned when a transport cannot reach the destination
	ErrNoRoute = errors.New("comm: no route to rank")
	// ErrClosed is returned by operations on a closed communicator
	ErrClosed = errors.New("comm: communicator closed")
)

// Communicator moves payloads between ranks. Send and Recv block until the
// payload has been handed to the transport or received; messages between a
// fixed (source, dest, tag) triple arrive in the order they were sent.
type Communicator interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest int, tag Tag, payload []byte) error
	Recv(ctx context.Context, source int, tag Tag) ([]byte, error)
	Barrier(ctx context.Context) error
	Close() error
}

func checkRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("rank %d with size %d: %w", rank, size, ErrInvalidRank)
	}
	return nil
}

// barrierVia synchronises all ranks through root: every other rank reports
// in, root waits for all of them and then releases everybody.
func barrierVia(ctx context.Context, c Communicator, root int) error {
	if c.Size() == 1 {
		return nil
	}
	if c.Rank() != root {
		if err := c.Send(ctx, root, TagBarrier, nil); err != nil {
			return fmt.Errorf("barrier arrive: %w", err)
		}
		if _, err := c.Recv(ctx, root, TagBarrier); err != nil {
			return fmt.Errorf("barrier release: %w", err)
		}
		return nil
	}
	for r := 0; r < c.Size(); r++ {
		if r == root {
			continue
		}
		if _, err := c.Recv(ctx, r, TagBarrier); err != nil {
			return fmt.Errorf("barrier arrive from %d: %w", r, err)
		}
	}
	for r := 0; r < c.Size(); r++ {
		if r == root {
			continue
		}
		if err := c.Send(ctx, r, TagBarrier, nil); err != nil {
			return fmt.Errorf("barrier release to %d: %w", r, err)
		}
	}
	return nil
}
