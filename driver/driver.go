// Package driver stands in for the solver: it builds the configured case,
// fills every rank's state with values derived from global cell labels, and
// gathers it to the I/O rank once per report step. The I/O rank checks the
// snapshot against the values it knows every rank produced.
package driver

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/config"
	"github.com/notargets/ResGather/gather"
	"github.com/notargets/ResGather/grid"
	"github.com/notargets/ResGather/partitions"
	"github.com/notargets/ResGather/state"
	"github.com/notargets/ResGather/wells"
)

// RankField is registered by every rank except the I/O rank and holds the
// sending rank at each of its interior cells
const RankField = "RANK"

// Report summarises the snapshot of the last report step
type Report struct {
	Ranks      int
	Steps      int
	NumCells   int
	Partitions partitions.PartitionStats
	Fields     []FieldStats
	Wells      []WellReport
}

// FieldStats describes one gathered cell field
type FieldStats struct {
	Name     string
	Stride   int
	Min, Max float64
	Mean     float64
	StdDev   float64
}

// WellReport is the gathered state of one well
type WellReport struct {
	Name  string
	BHP   float64
	THP   float64
	Rates []float64
}

// syntheticPressure is the pressure every rank writes for a label
func syntheticPressure(label, step int) float64 {
	return 1e5*(1+0.01*float64(label)) + 1e3*float64(step)
}

// Run executes the configured case on c. Every rank of the run calls it;
// the I/O rank returns the report, the others nil.
func Run(ctx context.Context, cfg *config.Config, c comm.Communicator) (*Report, error) {
	if c.Size() != cfg.Partition.Ranks {
		return nil, fmt.Errorf("config wants %d ranks, communicator has %d", cfg.Partition.Ranks, c.Size())
	}
	log := logrus.WithField("rank", c.Rank())

	mesh, err := grid.NewCartesianMesh(cfg.Grid.Dims, cfg.Grid.CellSize, cfg.Grid.Inactive)
	if err != nil {
		return nil, err
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}
	perm := cfg.PermeabilityField(mesh.NumCells())

	gcfg := gather.DefaultConfig()
	gcfg.IORank = cfg.IORank
	gcfg.NumPhases = cfg.Phases
	gcfg.Schedule = schedule
	gcfg.Permeability = perm
	if cfg.Debug != nil {
		gcfg.CheckUniqueness = *cfg.Debug
		gcfg.BarrierAfterGather = *cfg.Debug
	}

	var (
		g      grid.Grid
		layout *partitions.PartitionLayout
		owned  map[int]int // global active cell -> local cell, owned cells only
	)
	if c.Size() == 1 {
		g = grid.NewSerial(mesh, c)
		layout = &partitions.PartitionLayout{
			Partitions:    []partitions.Partition{{ID: 0, NumCells: mesh.NumCells()}},
			KpartMax:      mesh.NumCells(),
			TotalCells:    mesh.NumCells(),
			NumPartitions: 1,
			CToP:          make([]int, mesh.NumCells()),
		}
		owned = make(map[int]int, mesh.NumCells())
		for i := 0; i < mesh.NumCells(); i++ {
			owned[i] = i
		}
	} else {
		var conn *partitions.CellConnector
		layout, conn, err = grid.Partition(mesh, c.Size(), cfg.Strategy())
		if err != nil {
			return nil, err
		}
		if cfg.Debug != nil && *cfg.Debug {
			if err := conn.Verify(); err != nil {
				return nil, err
			}
		}
		pg, err := grid.NewPartitioned(mesh, conn, c)
		if err != nil {
			return nil, err
		}
		g = pg
		owned = make(map[int]int, len(pg.InteriorCells()))
		for _, li := range pg.InteriorCells() {
			owned[pg.LocalToGlobal()[li]] = li
		}
	}
	log.Debugf("%d local cells, %d owned", g.NumCells(), len(g.InteriorCells()))

	out, err := gather.New(ctx, g, gcfg)
	if err != nil {
		return nil, err
	}

	var prevWells *wells.WellState
	for step := 0; step < cfg.ReportSteps; step++ {
		local, err := localState(g, cfg.Phases, step, c.Rank() != cfg.IORank)
		if err != nil {
			return nil, err
		}
		lw, err := localWells(schedule, step, mesh, perm, cfg.Phases, owned, local, prevWells)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		prevWells = lw

		isIO, err := out.CollectToIORank(ctx, local, lw, step)
		if err != nil {
			return nil, err
		}
		if isIO {
			log.Infof("step %d gathered: %d cells, %d wells",
				step, out.NumCells(), out.GlobalWellState().NumWells())
		}
	}

	if !out.IsIORank() {
		return nil, nil
	}
	if err := verify(out, mesh, layout, cfg.IORank, cfg.ReportSteps-1); err != nil {
		return nil, err
	}
	return report(out, layout, c.Size(), cfg.ReportSteps), nil
}

func localState(g grid.Grid, numPhases, step int, withRank bool) (*state.SimulatorState, error) {
	st := state.NewSimulatorState(g.NumCells(), 0, numPhases)
	for li, label := range g.GlobalCell() {
		st.Pressure()[li] = syntheticPressure(label, step)
		for p := 0; p < numPhases; p++ {
			st.Saturation()[li*numPhases+p] = 1 / float64(numPhases)
		}
	}
	if withRank {
		if _, err := st.RegisterCellData(RankField, 1, float64(g.Comm().Rank())); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// localWells reports the wells perforating owned cells. Producers draw in
// proportion to their connection factors.
func localWells(schedule *wells.Schedule, step int, mesh *grid.Mesh, perm []float64, numPhases int,
	owned map[int]int, local *state.SimulatorState, prev *wells.WellState) (*wells.WellState, error) {
	topo, err := wells.NewWellsManager(schedule, step, mesh, perm, numPhases)
	if err != nil {
		return nil, err
	}
	sub := topo.Subset(func(cell int) (int, bool) {
		li, ok := owned[cell]
		return li, ok
	})

	lw := wells.NewWellState(numPhases)
	if err := lw.Init(sub, local, prev); err != nil {
		return nil, err
	}
	for i, w := range sub.Wells {
		if w.Type != wells.Producer {
			continue
		}
		q := -floats.Sum(w.WellIndex) / float64(numPhases)
		for p := 0; p < numPhases; p++ {
			lw.WellRates()[i*numPhases+p] = q
		}
	}
	return lw, nil
}

// verify checks the gathered pressure against the labels and, in parallel
// runs, the rank field against the cell ownership
func verify(out gather.Output, mesh *grid.Mesh, layout *partitions.PartitionLayout, ioRank, step int) error {
	global := out.GlobalReservoirState()
	pressure := global.Pressure()
	for pos, label := range mesh.GlobalCell {
		if want := syntheticPressure(label, step); pressure[pos] != want {
			return fmt.Errorf("pressure at global position %d is %g, want %g", pos, pressure[pos], want)
		}
	}
	if !out.IsParallel() {
		return nil
	}

	ranks := global.CellData(RankField)
	if ranks == nil {
		if layout.NumPartitions > 1 {
			return fmt.Errorf("field %s was not gathered", RankField)
		}
		return nil
	}
	for pos, owner := range layout.CToP {
		want := float64(owner)
		if owner == ioRank {
			// the I/O rank never registers the field
			want = 0
		}
		if ranks[pos] != want {
			return fmt.Errorf("%s at global position %d is %g, owner is rank %d", RankField, pos, ranks[pos], owner)
		}
	}
	return nil
}

func report(out gather.Output, layout *partitions.PartitionLayout, ranks, steps int) *Report {
	global := out.GlobalReservoirState()
	r := &Report{
		Ranks:      ranks,
		Steps:      steps,
		NumCells:   out.NumCells(),
		Partitions: layout.PartitionStatistics(),
	}
	for _, name := range global.CellDataNames() {
		data := global.CellData(name)
		stride, _ := global.CellStride(name)
		fs := FieldStats{Name: name, Stride: stride}
		if len(data) > 0 {
			fs.Min, fs.Max = floats.Min(data), floats.Max(data)
			fs.Mean, fs.StdDev = stat.MeanStdDev(data, nil)
			if math.IsNaN(fs.StdDev) {
				fs.StdDev = 0
			}
		}
		r.Fields = append(r.Fields, fs)
	}

	gw := out.GlobalWellState()
	np := gw.NumPhases()
	for _, name := range gw.Names() {
		e, _ := gw.Entry(name)
		r.Wells = append(r.Wells, WellReport{
			Name:  name,
			BHP:   gw.BHP()[e.Index],
			THP:   gw.THP()[e.Index],
			Rates: append([]float64(nil), gw.WellRates()[e.Index*np:(e.Index+1)*np]...),
		})
	}
	return r
}

// Log writes the report through logrus
func (r *Report) Log() {
	logrus.Infof("%d cells gathered from %d ranks over %d report steps", r.NumCells, r.Ranks, r.Steps)
	logrus.Infof("partitions: min %d max %d cells, imbalance %.3f",
		r.Partitions.MinCells, r.Partitions.MaxCells, r.Partitions.Imbalance)
	for _, f := range r.Fields {
		logrus.WithField("field", f.Name).Infof("stride %d min %g max %g mean %g std %g",
			f.Stride, f.Min, f.Max, f.Mean, f.StdDev)
	}
	for _, w := range r.Wells {
		logrus.WithField("well", w.Name).Infof("bhp %g thp %g rates %v", w.BHP, w.THP, w.Rates)
	}
}
