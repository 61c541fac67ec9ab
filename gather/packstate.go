package gather

import (
	"fmt"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/state"
	"github.com/notargets/ResGather/wells"
)

// packUnpackState moves the cell fields and well values of one report step
// to the I/O rank.
//
// Wire layout:
//
//	nfields, then (name, stride) per field
//	per field, per component: n, then n values at interior cells
//	nwells, then per well: name, bhp, thp, one rate per phase
//
// Perforation rates and pressures are not sent.
type packUnpackState struct {
	// sender side
	interior   []int
	local      *state.SimulatorState
	localWells *wells.WellState

	// I/O rank side, nil elsewhere
	indexMaps   IndexMapStorage
	global      *state.SimulatorState
	globalWells *wells.WellState
}

func (h *packUnpackState) Pack(link comm.Link, buf *comm.MessageBuffer) error {
	if err := comm.RequireLinkZero(link, "packUnpackState.Pack"); err != nil {
		return err
	}

	names := h.local.CellDataNames()
	buf.WriteInt(len(names))
	for _, name := range names {
		stride, _ := h.local.CellStride(name)
		buf.WriteString(name)
		buf.WriteInt(stride)
	}

	for _, name := range names {
		stride, _ := h.local.CellStride(name)
		data := h.local.CellData(name)
		for comp := 0; comp < stride; comp++ {
			buf.WriteInt(len(h.interior))
			for _, li := range h.interior {
				buf.WriteFloat64(data[li*stride+comp])
			}
		}
	}

	h.packWells(buf)
	return nil
}

func (h *packUnpackState) packWells(buf *comm.MessageBuffer) {
	ws := h.localWells
	np := ws.NumPhases()
	buf.WriteInt(ws.NumWells())
	for _, name := range ws.Names() {
		e, _ := ws.Entry(name)
		buf.WriteString(name)
		buf.WriteFloat64(ws.BHP()[e.Index])
		buf.WriteFloat64(ws.THP()[e.Index])
		for p := 0; p < np; p++ {
			buf.WriteFloat64(ws.WellRates()[e.Index*np+p])
		}
	}
}

type fieldHeader struct {
	name   string
	stride int
}

func (h *packUnpackState) Unpack(link comm.Link, buf *comm.MessageBuffer) error {
	if h.global == nil || h.globalWells == nil {
		return fmt.Errorf("packUnpackState.Unpack on a rank without global state")
	}
	if link.Rank < 0 || link.Rank >= len(h.indexMaps) {
		return fmt.Errorf("packUnpackState.Unpack: %v: %w", link, comm.ErrUnknownLink)
	}
	im := h.indexMaps[link.Rank]
	if im == nil {
		return fmt.Errorf("rank %d: %w", link.Rank, ErrNoIndexMap)
	}

	nfields, err := buf.ReadInt()
	if err != nil {
		return err
	}
	// a header entry takes at least 16 bytes
	if nfields < 0 || nfields > buf.Remaining()/16 {
		return fmt.Errorf("rank %d sent %d fields: %w", link.Rank, nfields, ErrSizeMismatch)
	}
	headers := make([]fieldHeader, nfields)
	for i := range headers {
		if headers[i].name, err = buf.ReadString(); err != nil {
			return err
		}
		if headers[i].stride, err = buf.ReadInt(); err != nil {
			return err
		}
		// every component carries at least its count
		if headers[i].stride < 1 || headers[i].stride > buf.Remaining()/8 {
			return fmt.Errorf("rank %d field %q stride %d: %w",
				link.Rank, headers[i].name, headers[i].stride, ErrSizeMismatch)
		}
		// fields only workers carry appear on first sight
		if _, err := h.global.RegisterCellData(headers[i].name, headers[i].stride, 0); err != nil {
			return fmt.Errorf("rank %d field %q: %w", link.Rank, headers[i].name, err)
		}
	}

	for _, fh := range headers {
		data := h.global.CellData(fh.name)
		for comp := 0; comp < fh.stride; comp++ {
			n, err := buf.ReadInt()
			if err != nil {
				return err
			}
			if n != len(im) {
				return fmt.Errorf("rank %d field %q component %d: %d values for %d cells: %w",
					link.Rank, fh.name, comp, n, len(im), ErrSizeMismatch)
			}
			for _, p := range im {
				v, err := buf.ReadFloat64()
				if err != nil {
					return err
				}
				data[p*fh.stride+comp] = v
			}
		}
	}

	return h.unpackWells(link, buf)
}

func (h *packUnpackState) unpackWells(link comm.Link, buf *comm.MessageBuffer) error {
	ws := h.globalWells
	np := ws.NumPhases()
	nwells, err := buf.ReadInt()
	if err != nil {
		return err
	}
	for w := 0; w < nwells; w++ {
		name, err := buf.ReadString()
		if err != nil {
			return err
		}
		e, ok := ws.Entry(name)
		if !ok {
			return fmt.Errorf("rank %d well %q: %w", link.Rank, name, ErrUnknownWell)
		}
		if ws.BHP()[e.Index], err = buf.ReadFloat64(); err != nil {
			return err
		}
		if ws.THP()[e.Index], err = buf.ReadFloat64(); err != nil {
			return err
		}
		for p := 0; p < np; p++ {
			if ws.WellRates()[e.Index*np+p], err = buf.ReadFloat64(); err != nil {
				return err
			}
		}
	}
	return nil
}
