package gather

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/ResGather/comm"
)

// distributeIndexMapping ships the labels of a rank's interior cells, in
// packed order, to the I/O rank, which resolves them into index maps.
type distributeIndexMapping struct {
	// sender side
	labels   []int
	interior []int

	// I/O rank side, nil elsewhere
	globalPos *GlobalPosition
	indexMaps IndexMapStorage
}

func (h *distributeIndexMapping) Pack(link comm.Link, buf *comm.MessageBuffer) error {
	if err := comm.RequireLinkZero(link, "distributeIndexMapping.Pack"); err != nil {
		return err
	}
	buf.WriteInt(len(h.interior))
	for _, li := range h.interior {
		buf.WriteInt(h.labels[li])
	}
	return nil
}

func (h *distributeIndexMapping) Unpack(link comm.Link, buf *comm.MessageBuffer) error {
	if h.indexMaps == nil {
		return fmt.Errorf("distributeIndexMapping.Unpack on a rank without index storage")
	}
	if link.Rank < 0 || link.Rank >= len(h.indexMaps) {
		return fmt.Errorf("distributeIndexMapping.Unpack: %v: %w", link, comm.ErrUnknownLink)
	}
	if h.indexMaps[link.Rank] != nil {
		return fmt.Errorf("index map of rank %d received twice", link.Rank)
	}

	n, err := buf.ReadInt()
	if err != nil {
		return err
	}
	if n < 0 || n > h.globalPos.Len() {
		return fmt.Errorf("rank %d sent %d labels for %d global cells: %w",
			link.Rank, n, h.globalPos.Len(), ErrSizeMismatch)
	}
	labels := make([]int, n)
	for i := range labels {
		if labels[i], err = buf.ReadInt(); err != nil {
			return err
		}
	}
	im, err := ResolveLabels(h.globalPos, labels)
	if err != nil {
		return fmt.Errorf("rank %d: %w", link.Rank, err)
	}
	h.indexMaps[link.Rank] = im
	return nil
}

// distributeIndexMaps runs the index distribution round. Every rank but
// ioRank sends on its single link; ioRank receives from all of them and
// builds its own slot locally. The storage is returned on ioRank only.
func distributeIndexMaps(ctx context.Context, p2p *comm.P2PCommunicator, h *distributeIndexMapping, ioRank int) (IndexMapStorage, error) {
	if err := p2p.Exchange(ctx, h); err != nil {
		return nil, fmt.Errorf("index distribution: %w", err)
	}
	if p2p.Rank() != ioRank {
		return nil, nil
	}

	own, err := BuildIndexMap(h.globalPos, h.labels, h.interior)
	if err != nil {
		return nil, fmt.Errorf("index distribution, rank %d: %w", ioRank, err)
	}
	h.indexMaps[ioRank] = own

	for rank, im := range h.indexMaps {
		if im == nil {
			return nil, fmt.Errorf("index distribution: rank %d: %w", rank, ErrNoIndexMap)
		}
	}
	logrus.WithField("rank", ioRank).Debugf("index maps for %d ranks cover %d of %d cells",
		len(h.indexMaps), h.indexMaps.Len(), h.globalPos.Len())
	return h.indexMaps, nil
}
