package gather

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/grid"
	"github.com/notargets/ResGather/partitions"
	"github.com/notargets/ResGather/state"
	"github.com/notargets/ResGather/wells"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

type testCase struct {
	mesh   *grid.Mesh
	layout *partitions.PartitionLayout
	conn   *partitions.CellConnector
}

func newTestCase(t *testing.T, dims [3]int, inactive []int, ranks int, strategy partitions.PartitionStrategy) *testCase {
	t.Helper()
	mesh, err := grid.NewCartesianMesh(dims, [3]float64{10, 10, 2}, inactive)
	require.NoError(t, err)
	layout, conn, err := grid.Partition(mesh, ranks, strategy)
	require.NoError(t, err)
	return &testCase{mesh: mesh, layout: layout, conn: conn}
}

// fillLocal gives every local cell values derived from its global label, so
// a correct gather reproduces them at the label's global position
func fillLocal(g grid.Grid, numPhases, step int) *state.SimulatorState {
	st := state.NewSimulatorState(g.NumCells(), 0, numPhases)
	for li, label := range g.GlobalCell() {
		st.Pressure()[li] = float64(label*10 + step)
		for p := 0; p < numPhases; p++ {
			st.Saturation()[li*numPhases+p] = float64(label) + 0.1*float64(p)
		}
	}
	return st
}

func runGather(t *testing.T, tc *testCase, cfg Config, steps int,
	prepare func(g grid.Grid, local *state.SimulatorState, step int) *wells.WellState) (*ParallelOutput, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ioOut *ParallelOutput
	err := comm.RunLocal(ctx, tc.conn.NumPartitions, func(ctx context.Context, c comm.Communicator) error {
		g, err := grid.NewPartitioned(tc.mesh, tc.conn, c)
		if err != nil {
			return err
		}
		out, err := New(ctx, g, cfg)
		if err != nil {
			return err
		}
		for step := 0; step < steps; step++ {
			local := fillLocal(g, cfg.NumPhases, step)
			var lw *wells.WellState
			if prepare != nil {
				lw = prepare(g, local, step)
			}
			isIO, err := out.CollectToIORank(ctx, local, lw, step)
			if err != nil {
				return err
			}
			if isIO != (c.Rank() == cfg.IORank) {
				t.Errorf("rank %d: CollectToIORank returned %v", c.Rank(), isIO)
			}
		}
		if out.IsIORank() {
			ioOut = out.(*ParallelOutput)
		}
		return nil
	})
	return ioOut, err
}

func testConfig(ioRank int) Config {
	cfg := DefaultConfig()
	cfg.IORank = ioRank
	cfg.NumPhases = 2
	cfg.CheckUniqueness = true
	cfg.BarrierAfterGather = true
	return cfg
}

func TestCollectToIORank_RankField(t *testing.T) {
	// 10 cells over 3 ranks: interiors of 4, 3 and 3 cells
	tc := newTestCase(t, [3]int{10, 1, 1}, nil, 3, partitions.BlockPartition)

	out, err := runGather(t, tc, testConfig(0), 1, func(g grid.Grid, local *state.SimulatorState, _ int) *wells.WellState {
		rank := g.Comm().Rank()
		if rank != 0 {
			if _, err := local.RegisterCellData("RANK", 1, float64(rank)); err != nil {
				t.Errorf("rank %d: %v", rank, err)
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	maps := out.IndexMaps()
	require.Len(t, maps, 3)
	assert.Len(t, maps[0], 4)
	assert.Len(t, maps[1], 3)
	assert.Len(t, maps[2], 3)
	assert.NoError(t, maps.CheckComplete(10))

	global := out.GlobalReservoirState()
	rankField := global.CellData("RANK")
	require.Len(t, rankField, 10)
	for pos, v := range rankField {
		assert.Equal(t, float64(tc.layout.CToP[pos]), v, "position %d", pos)
	}
	assert.Equal(t, 10, out.NumCells())
	assert.Equal(t, tc.mesh.GlobalCell, out.GlobalCell())
	assert.True(t, out.IsParallel())
}

func TestCollectToIORank_RoundTrip(t *testing.T) {
	testCases := []struct {
		name     string
		dims     [3]int
		inactive []int
		ranks    int
		strategy partitions.PartitionStrategy
		ioRank   int
	}{
		{"block", [3]int{10, 1, 1}, nil, 3, partitions.BlockPartition, 0},
		{"round robin inactive", [3]int{4, 3, 2}, []int{5, 17}, 3, partitions.RoundRobin, 2},
		{"graph", [3]int{6, 4, 1}, []int{0}, 4, partitions.GraphPartition, 1},
		{"two ranks", [3]int{3, 3, 1}, nil, 2, partitions.BlockPartition, 1},
	}
	for _, tcase := range testCases {
		t.Run(tcase.name, func(t *testing.T) {
			tc := newTestCase(t, tcase.dims, tcase.inactive, tcase.ranks, tcase.strategy)
			const steps = 3
			out, err := runGather(t, tc, testConfig(tcase.ioRank), steps, nil)
			require.NoError(t, err)
			require.NotNil(t, out)

			global := out.GlobalReservoirState()
			for pos, label := range tc.mesh.GlobalCell {
				assert.Equal(t, float64(label*10+steps-1), global.Pressure()[pos], "pressure at %d", pos)
				for p := 0; p < 2; p++ {
					assert.InDelta(t, float64(label)+0.1*float64(p), global.Saturation()[pos*2+p], 1e-12)
				}
			}
			assert.NoError(t, out.IndexMaps().CheckComplete(tc.mesh.NumCells()))
		})
	}
}

const wellsYAML = `
wells:
  - name: INJ
    type: injector
    rate_target: 25
    completions:
      - {i: 0, j: 0, k1: 0, k2: 0}
  - name: PROD
    type: producer
    open_step: 1
    completions:
      - {i: 8, j: 0, k1: 0, k2: 0}
`

func loadTestSchedule(t *testing.T) *wells.Schedule {
	t.Helper()
	path := t.TempDir() + "/wells.yaml"
	require.NoError(t, os.WriteFile(path, []byte(wellsYAML), 0o644))
	s, err := wells.LoadSchedule(path)
	require.NoError(t, err)
	return s
}

// ownedWells reports every well of the step perforating an owned cell with
// values tagged by rank
func ownedWells(schedule *wells.Schedule, mesh *grid.Mesh, extra string) func(grid.Grid, *state.SimulatorState, int) *wells.WellState {
	return func(g grid.Grid, local *state.SimulatorState, step int) *wells.WellState {
		perm := make([]float64, 3*mesh.NumCells())
		for i := range perm {
			perm[i] = DefaultPermeability
		}
		topo, err := wells.NewWellsManager(schedule, step, mesh, perm, 2)
		if err != nil {
			panic(err)
		}
		p := g.(*grid.Partitioned)
		owned := make(map[int]int)
		for _, li := range g.InteriorCells() {
			owned[p.LocalToGlobal()[li]] = li
		}
		localTopo := topo.Subset(func(cell int) (int, bool) {
			li, ok := owned[cell]
			return li, ok
		})

		lw := wells.NewWellState(2)
		if err := lw.Init(localTopo, local, nil); err != nil {
			panic(err)
		}
		rank := float64(g.Comm().Rank())
		for i := range lw.Names() {
			lw.THP()[i] = 1000 + rank
			lw.WellRates()[2*i+1] = -rank - float64(step)
		}
		if extra != "" && g.Comm().Rank() == 1 {
			lw.AddWell(extra, 1)
		}
		return lw
	}
}

func TestCollectToIORank_Wells(t *testing.T) {
	tc := newTestCase(t, [3]int{10, 1, 1}, nil, 3, partitions.BlockPartition)
	schedule := loadTestSchedule(t)
	cfg := testConfig(0)
	cfg.Schedule = schedule

	out, err := runGather(t, tc, cfg, 2, ownedWells(schedule, tc.mesh, ""))
	require.NoError(t, err)

	gw := out.GlobalWellState()
	assert.Equal(t, []string{"INJ", "PROD"}, gw.Names())
	assert.Equal(t, 2, out.Topology().NumWells())

	inj, _ := gw.Entry("INJ")
	prod, _ := gw.Entry("PROD")
	// INJ sits in cell 0 on rank 0, PROD in cell 8 on rank 2
	assert.Equal(t, 1000.0, gw.THP()[inj.Index])
	assert.Equal(t, 1002.0, gw.THP()[prod.Index])
	assert.Equal(t, []float64{25, -1}, gw.WellRates()[2*inj.Index:2*inj.Index+2])
	assert.Equal(t, []float64{0, -3}, gw.WellRates()[2*prod.Index:2*prod.Index+2])
	// bhp comes from the first perforated cell's pressure at step 1
	assert.Equal(t, 81.0, gw.BHP()[prod.Index])
}

const spanningWellYAML = `
wells:
  - name: SPAN
    type: producer
    completions:
      - {i: 3, j: 0, k1: 0, k2: 0}
      - {i: 4, j: 0, k1: 0, k2: 0}
`

func TestCollectToIORank_WellAcrossRanks(t *testing.T) {
	// SPAN perforates cell 3 on rank 0 and cell 4 on rank 1
	testCases := []struct {
		name    string
		ioRank  int
		wantTHP float64
	}{
		{"io rank 0, rank 1 wins", 0, 1001},
		{"io rank 1, rank 0 wins", 1, 1000},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCase(t, [3]int{10, 1, 1}, nil, 3, partitions.BlockPartition)
			path := t.TempDir() + "/wells.yaml"
			require.NoError(t, os.WriteFile(path, []byte(spanningWellYAML), 0o644))
			schedule, err := wells.LoadSchedule(path)
			require.NoError(t, err)
			cfg := testConfig(tc.ioRank)
			cfg.Schedule = schedule

			out, err := runGather(t, c, cfg, 1, ownedWells(schedule, c.mesh, ""))
			require.NoError(t, err)

			e, ok := out.GlobalWellState().Entry("SPAN")
			require.True(t, ok)
			assert.Equal(t, tc.wantTHP, out.GlobalWellState().THP()[e.Index])
		})
	}
}

func TestCollectToIORank_UnknownWell(t *testing.T) {
	tc := newTestCase(t, [3]int{10, 1, 1}, nil, 3, partitions.BlockPartition)
	schedule := loadTestSchedule(t)
	cfg := testConfig(0)
	cfg.Schedule = schedule
	cfg.BarrierAfterGather = false

	_, err := runGather(t, tc, cfg, 1, ownedWells(schedule, tc.mesh, "ROGUE"))
	assert.ErrorIs(t, err, ErrUnknownWell)
}

func TestCollectToIORank_LocalSizeMismatch(t *testing.T) {
	tc := newTestCase(t, [3]int{6, 1, 1}, nil, 2, partitions.BlockPartition)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := comm.RunLocal(ctx, 2, func(ctx context.Context, c comm.Communicator) error {
		g, err := grid.NewPartitioned(tc.mesh, tc.conn, c)
		if err != nil {
			return err
		}
		out, err := New(ctx, g, testConfig(0))
		if err != nil {
			return err
		}
		_, err = out.CollectToIORank(ctx, state.NewSimulatorState(g.NumCells()+1, 0, 2), nil, 0)
		return err
	})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestNew_InvalidIORank(t *testing.T) {
	tc := newTestCase(t, [3]int{4, 1, 1}, nil, 2, partitions.BlockPartition)
	err := comm.RunLocal(context.Background(), 2, func(ctx context.Context, c comm.Communicator) error {
		g, err := grid.NewPartitioned(tc.mesh, tc.conn, c)
		if err != nil {
			return err
		}
		_, err = New(ctx, g, testConfig(2))
		return err
	})
	assert.ErrorIs(t, err, comm.ErrInvalidRank)
}

func TestSerialOutput(t *testing.T) {
	mesh, err := grid.NewCartesianMesh([3]int{3, 2, 1}, [3]float64{1, 1, 1}, []int{4})
	require.NoError(t, err)
	g := grid.NewSerial(mesh, nil)

	out, err := New(context.Background(), g, testConfig(0))
	require.NoError(t, err)
	assert.False(t, out.IsParallel())
	assert.True(t, out.IsIORank())

	local := fillLocal(g, 2, 0)
	before := append([]float64(nil), local.Pressure()...)
	lw := wells.NewWellState(2)
	lw.AddWell("W", 1)

	isIO, err := out.CollectToIORank(context.Background(), local, lw, 0)
	require.NoError(t, err)
	assert.True(t, isIO)
	assert.Same(t, local, out.GlobalReservoirState())
	assert.Same(t, lw, out.GlobalWellState())
	assert.Equal(t, before, out.GlobalReservoirState().Pressure())
	assert.Equal(t, 5, out.NumCells())
	assert.Equal(t, []int{0, 1, 2, 3, 5}, out.GlobalCell())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, comm.Root, cfg.IORank)
	assert.Equal(t, debugBuild, cfg.CheckUniqueness)
	assert.Equal(t, debugBuild, cfg.BarrierAfterGather)
}
