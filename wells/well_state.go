package wells

import (
	"fmt"
	"sort"

	"github.com/notargets/ResGather/state"
)

// WellEntry locates a well in the WellState arrays
type WellEntry struct {
	Index     int // Well position, rows of BHP, THP and WellRates
	FirstPerf int // First perforation row of PerfRates and PerfPress
	NumPerf   int
}

// WellState is the solution on the wells: pressures and phase rates per
// well, plus rates and pressures per perforation. Rates are indexed
// well*NumPhases + phase.
type WellState struct {
	numPhases int
	wellMap   map[string]WellEntry
	names     []string // by Index

	bhp       []float64
	thp       []float64
	wellRates []float64
	perfRates []float64
	perfPress []float64
}

// NewWellState returns an empty well state for numPhases phases
func NewWellState(numPhases int) *WellState {
	if numPhases < 1 {
		panic(fmt.Sprintf("wells: well state with %d phases", numPhases))
	}
	return &WellState{numPhases: numPhases, wellMap: make(map[string]WellEntry)}
}

func (ws *WellState) NumPhases() int       { return ws.numPhases }
func (ws *WellState) NumWells() int        { return len(ws.names) }
func (ws *WellState) BHP() []float64       { return ws.bhp }
func (ws *WellState) THP() []float64       { return ws.thp }
func (ws *WellState) WellRates() []float64 { return ws.wellRates }
func (ws *WellState) PerfRates() []float64 { return ws.perfRates }
func (ws *WellState) PerfPress() []float64 { return ws.perfPress }

// Names lists the wells in index order
func (ws *WellState) Names() []string { return ws.names }

// Entry looks a well up by name
func (ws *WellState) Entry(name string) (WellEntry, bool) {
	e, ok := ws.wellMap[name]
	return e, ok
}

// AddWell appends a zeroed well with numPerf perforations and returns its
// index. Adding a known name returns the existing index.
func (ws *WellState) AddWell(name string, numPerf int) int {
	if e, ok := ws.wellMap[name]; ok {
		return e.Index
	}
	e := WellEntry{Index: len(ws.names), FirstPerf: len(ws.perfPress), NumPerf: numPerf}
	ws.wellMap[name] = e
	ws.names = append(ws.names, name)
	ws.bhp = append(ws.bhp, 0)
	ws.thp = append(ws.thp, 0)
	ws.wellRates = append(ws.wellRates, make([]float64, ws.numPhases)...)
	ws.perfRates = append(ws.perfRates, make([]float64, numPerf*ws.numPhases)...)
	ws.perfPress = append(ws.perfPress, make([]float64, numPerf)...)
	return e.Index
}

// Init sizes the well state for wells and seeds it from the reservoir
// state: bhp is the target when set, else the pressure of the first
// perforated cell; injectors start at their rate target; perforation
// pressures are the cell pressures. Wells of prev with the same name and
// perforation count keep their values. prev may be ws itself.
func (ws *WellState) Init(wells *Wells, st *state.SimulatorState, prev *WellState) error {
	if wells != nil && wells.NumPhases != 0 && wells.NumPhases != ws.numPhases {
		return fmt.Errorf("wells: topology has %d phases, well state %d", wells.NumPhases, ws.numPhases)
	}

	var old *WellState
	if prev != nil && prev.NumWells() > 0 {
		if prev.numPhases != ws.numPhases {
			return fmt.Errorf("wells: previous well state has %d phases, want %d", prev.numPhases, ws.numPhases)
		}
		// prev may alias ws, so detach the old arrays before resetting
		old = prev.clone()
	}

	ws.reset()
	if wells.NumWells() == 0 {
		return nil
	}

	pressure := st.Pressure()
	np := ws.numPhases
	for _, w := range wells.Wells {
		for _, c := range w.Cells {
			if c < 0 || c >= len(pressure) {
				return fmt.Errorf("wells: %q perforates cell %d of %d", w.Name, c, len(pressure))
			}
		}
		idx := ws.AddWell(w.Name, len(w.Cells))
		e := ws.wellMap[w.Name]

		if w.BHPTarget > 0 {
			ws.bhp[idx] = w.BHPTarget
		} else {
			ws.bhp[idx] = pressure[w.Cells[0]]
		}
		if w.Type == Injector {
			for p, frac := range w.CompFrac {
				ws.wellRates[idx*np+p] = frac * w.RateTarget
			}
		}
		for p, c := range w.Cells {
			ws.perfPress[e.FirstPerf+p] = pressure[c]
		}
		if old == nil {
			continue
		}

		oe, ok := old.wellMap[w.Name]
		if !ok || oe.NumPerf != e.NumPerf {
			continue
		}
		ws.bhp[idx] = old.bhp[oe.Index]
		ws.thp[idx] = old.thp[oe.Index]
		copy(ws.wellRates[idx*np:(idx+1)*np], old.wellRates[oe.Index*np:(oe.Index+1)*np])
		copy(ws.perfRates[e.FirstPerf*np:(e.FirstPerf+e.NumPerf)*np],
			old.perfRates[oe.FirstPerf*np:(oe.FirstPerf+oe.NumPerf)*np])
		copy(ws.perfPress[e.FirstPerf:e.FirstPerf+e.NumPerf],
			old.perfPress[oe.FirstPerf:oe.FirstPerf+oe.NumPerf])
	}
	return nil
}

func (ws *WellState) reset() {
	ws.wellMap = make(map[string]WellEntry)
	ws.names = nil
	ws.bhp = nil
	ws.thp = nil
	ws.wellRates = nil
	ws.perfRates = nil
	ws.perfPress = nil
}

func (ws *WellState) clone() *WellState {
	c := &WellState{
		numPhases: ws.numPhases,
		wellMap:   make(map[string]WellEntry, len(ws.wellMap)),
		names:     append([]string(nil), ws.names...),
		bhp:       append([]float64(nil), ws.bhp...),
		thp:       append([]float64(nil), ws.thp...),
		wellRates: append([]float64(nil), ws.wellRates...),
		perfRates: append([]float64(nil), ws.perfRates...),
		perfPress: append([]float64(nil), ws.perfPress...),
	}
	for k, v := range ws.wellMap {
		c.wellMap[k] = v
	}
	return c
}

// SortedNames lists the wells alphabetically
func (ws *WellState) SortedNames() []string {
	names := append([]string(nil), ws.names...)
	sort.Strings(names)
	return names
}
