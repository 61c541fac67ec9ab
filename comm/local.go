package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// LocalNetwork connects Size in-process ranks through channels. It stands in
// for a cluster when every rank runs as a goroutine of one program.
type LocalNetwork struct {
	boxes []*mailbox
}

// NewLocalNetwork creates a network of size ranks
func NewLocalNetwork(size int) *LocalNetwork {
	if size < 1 {
		panic(fmt.Sprintf("network size must be positive, got %d", size))
	}
	n := &LocalNetwork{boxes: make([]*mailbox, size)}
	for i := range n.boxes {
		n.boxes[i] = newMailbox()
	}
	return n
}

// Size returns the number of ranks
func (n *LocalNetwork) Size() int { return len(n.boxes) }

// Comm returns the communicator for rank
func (n *LocalNetwork) Comm(rank int) Communicator {
	if err := checkRank(rank, n.Size()); err != nil {
		panic(err)
	}
	return &localComm{net: n, rank: rank}
}

// Close shuts every rank down, unblocking pending receives
func (n *LocalNetwork) Close() {
	for _, b := range n.boxes {
		b.close()
	}
}

type localComm struct {
	net  *LocalNetwork
	rank int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.net.Size() }

func (c *localComm) Send(ctx context.Context, dest int, tag Tag, payload []byte) error {
	if err := checkRank(dest, c.Size()); err != nil {
		return err
	}
	// copy so the sender may reuse its buffer
	p := append([]byte(nil), payload...)
	return c.net.boxes[dest].deliver(ctx, c.rank, tag, p)
}

func (c *localComm) Recv(ctx context.Context, source int, tag Tag) ([]byte, error) {
	if err := checkRank(source, c.Size()); err != nil {
		return nil, err
	}
	return c.net.boxes[c.rank].take(ctx, source, tag)
}

func (c *localComm) Barrier(ctx context.Context) error {
	return barrierVia(ctx, c, Root)
}

func (c *localComm) Close() error {
	c.net.boxes[c.rank].close()
	return nil
}

// RunLocal runs fn once per rank of a fresh LocalNetwork, each in its own
// goroutine. The first error cancels the context handed to every rank and
// is returned once all ranks have finished.
func RunLocal(ctx context.Context, size int, fn func(ctx context.Context, c Communicator) error) error {
	net := NewLocalNetwork(size)
	defer net.Close()

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < size; r++ {
		c := net.Comm(r)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
