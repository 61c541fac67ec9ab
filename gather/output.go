// Package gather collects the partitioned reservoir and well state of all
// ranks into one globally ordered snapshot on the I/O rank.
//
// Setup runs one index distribution round: every rank sends the global
// labels of its interior cells and the I/O rank turns them into index maps,
// kept for the life of the run. Each report step then runs one gather round
// that ships field and well values through those maps.
package gather

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/grid"
	"github.com/notargets/ResGather/state"
	"github.com/notargets/ResGather/wells"
)

// DefaultPermeability is the isotropic permeability used for well indices
// when none is configured
const DefaultPermeability = 100.0

// Config selects the I/O rank and the inputs of the well topology
type Config struct {
	IORank    int
	NumPhases int

	// Well topology inputs, Permeability holds kx, ky, kz per global cell
	Schedule     *wells.Schedule
	Permeability []float64

	// Check that no two packed positions share a global position
	CheckUniqueness bool
	// Synchronise all ranks after each gather round
	BarrierAfterGather bool
}

// DefaultConfig gathers to rank 0 with three phases. The checks are on in
// builds tagged debug.
func DefaultConfig() Config {
	return Config{
		IORank:             comm.Root,
		NumPhases:          3,
		CheckUniqueness:    debugBuild,
		BarrierAfterGather: debugBuild,
	}
}

// Output is the consolidated view of the run
type Output interface {
	// CollectToIORank gathers local and localWells of reportStep into the
	// global state and reports whether this rank holds the result
	CollectToIORank(ctx context.Context, local *state.SimulatorState, localWells *wells.WellState, reportStep int) (bool, error)
	GlobalReservoirState() *state.SimulatorState
	GlobalWellState() *wells.WellState
	IsIORank() bool
	IsParallel() bool
	// NumCells is the number of global cells on the I/O rank, local cells elsewhere
	NumCells() int
	// GlobalCell is the global label ordering on the I/O rank
	GlobalCell() []int
}

// New returns the serial output for a one rank grid and runs the index
// distribution round otherwise. Every rank must call it.
func New(ctx context.Context, g grid.Grid, cfg Config) (Output, error) {
	if g.Comm().Size() == 1 {
		return NewSerialOutput(g, cfg)
	}
	return NewParallelOutput(ctx, g, cfg)
}

// SerialOutput passes the local state through unchanged
type SerialOutput struct {
	grid       grid.Grid
	numPhases  int
	local      *state.SimulatorState
	localWells *wells.WellState
}

// NewSerialOutput wraps a single rank grid
func NewSerialOutput(g grid.Grid, cfg Config) (*SerialOutput, error) {
	if g.Comm().Size() != 1 {
		return nil, fmt.Errorf("serial output on %d ranks", g.Comm().Size())
	}
	if cfg.NumPhases < 1 {
		return nil, fmt.Errorf("%d phases", cfg.NumPhases)
	}
	return &SerialOutput{grid: g, numPhases: cfg.NumPhases}, nil
}

func (s *SerialOutput) CollectToIORank(_ context.Context, local *state.SimulatorState, localWells *wells.WellState, _ int) (bool, error) {
	if local == nil {
		return false, fmt.Errorf("nil local state")
	}
	if localWells == nil {
		localWells = wells.NewWellState(s.numPhases)
	}
	s.local, s.localWells = local, localWells
	return true, nil
}

func (s *SerialOutput) GlobalReservoirState() *state.SimulatorState { return s.local }
func (s *SerialOutput) GlobalWellState() *wells.WellState           { return s.localWells }
func (s *SerialOutput) IsIORank() bool                              { return true }
func (s *SerialOutput) IsParallel() bool                            { return false }
func (s *SerialOutput) NumCells() int                               { return s.grid.NumCells() }
func (s *SerialOutput) GlobalCell() []int                           { return s.grid.GlobalCell() }

// ParallelOutput gathers over the grid's communicator. The I/O rank owns
// the global state and well state; handlers borrow them for one round.
type ParallelOutput struct {
	grid grid.Grid
	cfg  Config
	p2p  *comm.P2PCommunicator
	log  *logrus.Entry

	// I/O rank only
	globalMesh   *grid.Mesh
	permeability []float64
	indexMaps    IndexMapStorage
	global       *state.SimulatorState
	globalWells  *wells.WellState
	topology     *wells.Wells
}

// NewParallelOutput links every rank to cfg.IORank and runs the index
// distribution round. The I/O rank's grid must implement grid.GlobalViewer.
func NewParallelOutput(ctx context.Context, g grid.Grid, cfg Config) (*ParallelOutput, error) {
	c := g.Comm()
	if cfg.IORank < 0 || cfg.IORank >= c.Size() {
		return nil, fmt.Errorf("I/O rank %d with %d ranks: %w", cfg.IORank, c.Size(), comm.ErrInvalidRank)
	}
	if cfg.NumPhases < 1 {
		return nil, fmt.Errorf("%d phases", cfg.NumPhases)
	}

	o := &ParallelOutput{
		grid: g,
		cfg:  cfg,
		p2p:  comm.NewP2PCommunicator(c),
		log:  logrus.WithField("rank", c.Rank()),
	}

	var linkErr error
	if o.IsIORank() {
		recv := make([]int, 0, c.Size()-1)
		for r := 0; r < c.Size(); r++ {
			if r != cfg.IORank {
				recv = append(recv, r)
			}
		}
		linkErr = o.p2p.InsertRequest(nil, recv)
	} else {
		linkErr = o.p2p.InsertRequest([]int{cfg.IORank}, nil)
	}
	if linkErr != nil {
		return nil, linkErr
	}

	h := &distributeIndexMapping{labels: g.GlobalCell(), interior: g.InteriorCells()}
	if o.IsIORank() {
		if err := o.setupIORank(); err != nil {
			return nil, err
		}
		gp, err := NewGlobalPosition(o.globalMesh.GlobalCell)
		if err != nil {
			return nil, err
		}
		h.globalPos = gp
		h.indexMaps = make(IndexMapStorage, c.Size())
	}

	maps, err := distributeIndexMaps(ctx, o.p2p, h, cfg.IORank)
	if err != nil {
		return nil, err
	}
	if !o.IsIORank() {
		o.log.Debugf("sent %d interior labels to rank %d", len(h.interior), cfg.IORank)
		return o, nil
	}

	o.indexMaps = maps
	if cfg.CheckUniqueness {
		if err := maps.CheckUnique(o.global.NumCells()); err != nil {
			return nil, err
		}
	}
	o.log.Infof("gathering %d cells from %d ranks", o.global.NumCells(), c.Size())
	return o, nil
}

func (o *ParallelOutput) setupIORank() error {
	viewer, ok := o.grid.(grid.GlobalViewer)
	if !ok {
		return fmt.Errorf("grid %T of the I/O rank has no global view", o.grid)
	}
	mesh, err := viewer.GlobalView()
	if err != nil {
		return fmt.Errorf("global view: %w", err)
	}
	o.globalMesh = mesh

	o.permeability = o.cfg.Permeability
	if o.permeability == nil {
		o.permeability = make([]float64, 3*mesh.NumCells())
		for i := range o.permeability {
			o.permeability[i] = DefaultPermeability
		}
	}
	if len(o.permeability) != 3*mesh.NumCells() {
		return fmt.Errorf("permeability has %d values for %d cells: %w",
			len(o.permeability), mesh.NumCells(), ErrSizeMismatch)
	}

	o.global = state.NewSimulatorState(mesh.NumCells(), mesh.NumFaces, o.cfg.NumPhases)
	o.globalWells = wells.NewWellState(o.cfg.NumPhases)
	return nil
}

// CollectToIORank runs one gather round. On the I/O rank it first rebuilds
// the well topology of reportStep and initialises the global well state
// against it, since unpacking resolves well names there.
func (o *ParallelOutput) CollectToIORank(ctx context.Context, local *state.SimulatorState, localWells *wells.WellState, reportStep int) (bool, error) {
	if local == nil {
		return false, fmt.Errorf("nil local state")
	}
	if local.NumCells() != o.grid.NumCells() {
		return false, fmt.Errorf("local state has %d cells, grid %d: %w",
			local.NumCells(), o.grid.NumCells(), ErrSizeMismatch)
	}
	if localWells == nil {
		localWells = wells.NewWellState(o.cfg.NumPhases)
	}
	if localWells.NumPhases() != o.cfg.NumPhases {
		return false, fmt.Errorf("local well state has %d phases, want %d: %w",
			localWells.NumPhases(), o.cfg.NumPhases, ErrSizeMismatch)
	}

	h := &packUnpackState{
		interior:   o.grid.InteriorCells(),
		local:      local,
		localWells: localWells,
	}

	if o.IsIORank() {
		topo, err := wells.NewWellsManager(o.cfg.Schedule, reportStep, o.globalMesh, o.permeability, o.cfg.NumPhases)
		if err != nil {
			return false, fmt.Errorf("step %d: %w", reportStep, err)
		}
		if err := o.globalWells.Init(topo, o.global, o.globalWells); err != nil {
			return false, fmt.Errorf("step %d: %w", reportStep, err)
		}
		o.topology = topo
		h.indexMaps, h.global, h.globalWells = o.indexMaps, o.global, o.globalWells
	}

	if o.IsIORank() {
		// own contribution goes first and takes the same path as everybody
		// else's, so a well reported by several ranks ends with the last
		// receive link
		self := comm.Link{ID: 0, Rank: o.cfg.IORank}
		buf := comm.NewMessageBuffer(nil)
		if err := h.Pack(self, buf); err != nil {
			return false, fmt.Errorf("gather step %d, pack %v: %w", reportStep, self, err)
		}
		if err := h.Unpack(self, buf); err != nil {
			return false, fmt.Errorf("gather step %d, unpack %v: %w", reportStep, self, err)
		}
		if err := buf.CheckConsumed(); err != nil {
			return false, fmt.Errorf("gather step %d, unpack %v: %w", reportStep, self, err)
		}
	}

	if err := o.p2p.Exchange(ctx, h); err != nil {
		return false, fmt.Errorf("gather step %d: %w", reportStep, err)
	}

	if o.IsIORank() {
		o.log.Debugf("step %d: gathered %d fields, %d wells",
			reportStep, o.global.NumCellData(), o.globalWells.NumWells())
	}

	if o.cfg.BarrierAfterGather {
		if err := o.p2p.Barrier(ctx); err != nil {
			return false, fmt.Errorf("gather step %d: %w", reportStep, err)
		}
	}
	return o.IsIORank(), nil
}

func (o *ParallelOutput) GlobalReservoirState() *state.SimulatorState { return o.global }
func (o *ParallelOutput) GlobalWellState() *wells.WellState           { return o.globalWells }
func (o *ParallelOutput) IsIORank() bool                              { return o.p2p.Rank() == o.cfg.IORank }
func (o *ParallelOutput) IsParallel() bool                            { return true }

func (o *ParallelOutput) NumCells() int {
	if o.IsIORank() {
		return o.global.NumCells()
	}
	return o.grid.NumCells()
}

func (o *ParallelOutput) GlobalCell() []int {
	if o.IsIORank() {
		return o.globalMesh.GlobalCell
	}
	return o.grid.GlobalCell()
}

// IndexMaps returns the index map of every rank on the I/O rank, nil elsewhere
func (o *ParallelOutput) IndexMaps() IndexMapStorage { return o.indexMaps }

// Topology returns the well topology of the last gathered report step on
// the I/O rank
func (o *ParallelOutput) Topology() *wells.Wells { return o.topology }
