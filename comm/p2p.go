package comm

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// P2PCommunicator runs exchange rounds over a fixed linkage. Each rank
// declares the ranks it sends to and the ranks it receives from; links are
// numbered by position in those sets, in ascending rank order.
type P2PCommunicator struct {
	comm      Communicator
	sendLinks []int
	recvLinks []int
	rounds    int
}

// NewP2PCommunicator wraps c with an empty linkage
func NewP2PCommunicator(c Communicator) *P2PCommunicator {
	if c == nil {
		panic("nil communicator")
	}
	return &P2PCommunicator{comm: c}
}

// InsertRequest declares the send and receive sets for subsequent rounds
func (p *P2PCommunicator) InsertRequest(send, recv []int) error {
	sendLinks, err := p.linkSet(send)
	if err != nil {
		return fmt.Errorf("send set: %w", err)
	}
	recvLinks, err := p.linkSet(recv)
	if err != nil {
		return fmt.Errorf("recv set: %w", err)
	}
	p.sendLinks, p.recvLinks = sendLinks, recvLinks
	return nil
}

func (p *P2PCommunicator) linkSet(ranks []int) ([]int, error) {
	seen := make(map[int]bool, len(ranks))
	links := make([]int, 0, len(ranks))
	for _, r := range ranks {
		if err := checkRank(r, p.comm.Size()); err != nil {
			return nil, err
		}
		if r == p.comm.Rank() {
			return nil, fmt.Errorf("rank %d cannot link to itself", r)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		links = append(links, r)
	}
	sort.Ints(links)
	return links, nil
}

// SendLinks returns the ranks this rank sends to, indexed by link id
func (p *P2PCommunicator) SendLinks() []int { return p.sendLinks }

// RecvLinks returns the ranks this rank receives from, indexed by link id
func (p *P2PCommunicator) RecvLinks() []int { return p.recvLinks }

// RecvLink returns the receive link with the given id
func (p *P2PCommunicator) RecvLink(id int) (Link, error) {
	if id < 0 || id >= len(p.recvLinks) {
		return Link{}, fmt.Errorf("receive link %d of %d: %w", id, len(p.recvLinks), ErrUnknownLink)
	}
	return Link{ID: id, Rank: p.recvLinks[id]}, nil
}

func (p *P2PCommunicator) Rank() int { return p.comm.Rank() }
func (p *P2PCommunicator) Size() int { return p.comm.Size() }

// Exchange runs one round: h.Pack for every send link, then h.Unpack for
// every receive link in link order. A receive buffer that is not consumed
// exactly is a pack/unpack order mismatch and fails the round.
func (p *P2PCommunicator) Exchange(ctx context.Context, h DataHandle) error {
	p.rounds++
	log := logrus.WithFields(logrus.Fields{"rank": p.comm.Rank(), "round": p.rounds})

	for id, rank := range p.sendLinks {
		link := Link{ID: id, Rank: rank}
		buf := NewMessageBuffer(nil)
		if err := h.Pack(link, buf); err != nil {
			return fmt.Errorf("pack %v: %w", link, err)
		}
		if err := p.comm.Send(ctx, rank, TagExchange, buf.Bytes()); err != nil {
			return fmt.Errorf("send %v: %w", link, err)
		}
		log.Debugf("sent %d bytes on %v", buf.Size(), link)
	}

	for id, rank := range p.recvLinks {
		link := Link{ID: id, Rank: rank}
		payload, err := p.comm.Recv(ctx, rank, TagExchange)
		if err != nil {
			return fmt.Errorf("receive %v: %w", link, err)
		}
		buf := NewMessageBuffer(payload)
		if err := h.Unpack(link, buf); err != nil {
			return fmt.Errorf("unpack %v: %w", link, err)
		}
		if err := buf.CheckConsumed(); err != nil {
			return fmt.Errorf("unpack %v: %w", link, err)
		}
		log.Debugf("unpacked %d bytes from %v", buf.Size(), link)
	}
	return nil
}

// Barrier blocks until every rank of the underlying communicator reaches it
func (p *P2PCommunicator) Barrier(ctx context.Context) error {
	return p.comm.Barrier(ctx)
}
