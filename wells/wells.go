// Package wells builds the well topology of a report step and holds the
// per well solution values that travel with the reservoir state.
package wells

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/notargets/ResGather/grid"
)

// WellType separates injectors from producers
type WellType int

const (
	Injector WellType = iota
	Producer
)

func (t WellType) String() string {
	if t == Injector {
		return "injector"
	}
	return "producer"
}

// Well is one open well with its perforated cells
type Well struct {
	Name       string
	Type       WellType
	Cells      []int     // Perforated cells in the numbering of the owning state
	WellIndex  []float64 // Connection transmissibility factor per perforation
	BHPTarget  float64   // Zero when the well is rate controlled
	RateTarget float64   // Surface rate of an injector
	CompFrac   []float64 // Injected phase fractions, nil for producers
}

// Wells is the topology of all open wells at one report step
type Wells struct {
	NumPhases int
	Wells     []Well
}

// NumWells returns the number of open wells
func (w *Wells) NumWells() int {
	if w == nil {
		return 0
	}
	return len(w.Wells)
}

// NumPerforations returns the perforation count over all wells
func (w *Wells) NumPerforations() int {
	n := 0
	for i := range w.Wells {
		n += len(w.Wells[i].Cells)
	}
	return n
}

// NewWellsManager builds the wells open at reportStep on mesh. Permeability
// holds kx, ky, kz per active cell. Completions in inactive cells are
// dropped, and a well left without perforations is not opened.
func NewWellsManager(schedule *Schedule, reportStep int, mesh *grid.Mesh, permeability []float64, numPhases int) (*Wells, error) {
	if mesh == nil {
		return nil, fmt.Errorf("wells: nil mesh")
	}
	if len(permeability) != 3*mesh.NumCells() {
		return nil, fmt.Errorf("wells: permeability has %d values, need %d",
			len(permeability), 3*mesh.NumCells())
	}
	if numPhases < 1 {
		return nil, fmt.Errorf("wells: %d phases", numPhases)
	}

	ws := &Wells{NumPhases: numPhases}
	if schedule == nil {
		return ws, nil
	}

	for i := range schedule.Wells {
		spec := &schedule.Wells[i]
		if !spec.IsOpen(reportStep) {
			continue
		}
		if spec.Phase >= numPhases {
			return nil, fmt.Errorf("wells: %q injects phase %d of %d", spec.Name, spec.Phase, numPhases)
		}

		w := Well{
			Name:       spec.Name,
			Type:       ValidWellTypes[spec.Type],
			BHPTarget:  spec.BHPTarget,
			RateTarget: spec.RateTarget,
		}
		if w.Type == Injector {
			w.CompFrac = make([]float64, numPhases)
			w.CompFrac[spec.Phase] = 1
		}

		for _, comp := range spec.Completions {
			for k := comp.K1; k <= comp.K2; k++ {
				if mesh.CartesianIndex(comp.I, comp.J, k) < 0 {
					return nil, fmt.Errorf("wells: %q completion (%d,%d,%d) outside grid %v",
						spec.Name, comp.I, comp.J, k, mesh.CartDims)
				}
				cell, ok := mesh.CartesianToActive(comp.I, comp.J, k)
				if !ok {
					logrus.WithFields(logrus.Fields{"well": spec.Name, "step": reportStep}).
						Warnf("completion (%d,%d,%d) is in an inactive cell, dropped", comp.I, comp.J, k)
					continue
				}
				wi, err := peacemanIndex(mesh.CellDims[cell], permeability[3*cell:3*cell+3], spec.radius(), spec.Skin)
				if err != nil {
					return nil, fmt.Errorf("wells: %q cell %d: %w", spec.Name, cell, err)
				}
				w.Cells = append(w.Cells, cell)
				w.WellIndex = append(w.WellIndex, wi)
			}
		}

		if len(w.Cells) == 0 {
			logrus.WithField("well", spec.Name).Warnf("no active perforations at step %d, well not opened", reportStep)
			continue
		}
		ws.Wells = append(ws.Wells, w)
	}

	logrus.Debugf("step %d: %d open wells, %d perforations", reportStep, ws.NumWells(), ws.NumPerforations())
	return ws, nil
}

// peacemanIndex is the connection factor of a vertical well in an
// anisotropic cell
func peacemanIndex(dims [3]float64, perm []float64, rw, skin float64) (float64, error) {
	kx, ky := perm[0], perm[1]
	if kx <= 0 || ky <= 0 {
		return 0, fmt.Errorf("non-positive horizontal permeability (%g, %g)", kx, ky)
	}
	dx, dy, dz := dims[0], dims[1], dims[2]
	r0 := 0.28 * math.Sqrt(math.Sqrt(ky/kx)*dx*dx+math.Sqrt(kx/ky)*dy*dy) /
		(math.Pow(ky/kx, 0.25) + math.Pow(kx/ky, 0.25))
	denom := math.Log(r0/rw) + skin
	if denom <= 0 {
		return 0, fmt.Errorf("wellbore radius %g too large for cell, r0=%g", rw, r0)
	}
	return 2 * math.Pi * math.Sqrt(kx*ky) * dz / denom, nil
}

// Subset returns the wells seen from a part of the mesh. mapCell translates
// a cell to the part's numbering and reports whether the part keeps it;
// wells with no kept perforation are left out.
func (w *Wells) Subset(mapCell func(cell int) (int, bool)) *Wells {
	sub := &Wells{NumPhases: w.NumPhases}
	for _, well := range w.Wells {
		local := Well{
			Name:       well.Name,
			Type:       well.Type,
			BHPTarget:  well.BHPTarget,
			RateTarget: well.RateTarget,
			CompFrac:   well.CompFrac,
		}
		for p, cell := range well.Cells {
			if lc, ok := mapCell(cell); ok {
				local.Cells = append(local.Cells, lc)
				local.WellIndex = append(local.WellIndex, well.WellIndex[p])
			}
		}
		if len(local.Cells) > 0 {
			sub.Wells = append(sub.Wells, local)
		}
	}
	return sub
}
