package gather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/state"
	"github.com/notargets/ResGather/wells"
)

// workerHandle packs three local cells of which local 1 is a ghost
func workerHandle(t *testing.T) *packUnpackState {
	t.Helper()
	local := state.NewSimulatorState(3, 0, 1)
	copy(local.Pressure(), []float64{1, 2, 3})
	_, err := local.RegisterCellData("VEC", 2, 0)
	require.NoError(t, err)
	copy(local.CellData("VEC"), []float64{10, 11, 20, 21, 30, 31})

	lw := wells.NewWellState(1)
	lw.AddWell("A", 1)
	lw.BHP()[0], lw.THP()[0], lw.WellRates()[0] = 200, 5, -40
	lw.PerfRates()[0] = 99

	return &packUnpackState{interior: []int{0, 2}, local: local, localWells: lw}
}

// ioHandle receives from rank 1, whose packed cells land at 4 and 1
func ioHandle(knownWells ...string) *packUnpackState {
	gw := wells.NewWellState(1)
	for _, name := range knownWells {
		gw.AddWell(name, 1)
	}
	return &packUnpackState{
		indexMaps:   IndexMapStorage{nil, {4, 1}},
		global:      state.NewSimulatorState(5, 0, 1),
		globalWells: gw,
	}
}

func roundTrip(t *testing.T, w, io *packUnpackState) error {
	t.Helper()
	buf := comm.NewMessageBuffer(nil)
	require.NoError(t, w.Pack(comm.Link{ID: 0, Rank: 0}, buf))
	in := comm.NewMessageBuffer(buf.Bytes())
	if err := io.Unpack(comm.Link{ID: 0, Rank: 1}, in); err != nil {
		return err
	}
	return in.CheckConsumed()
}

func TestPackUnpackState_RoundTrip(t *testing.T) {
	io := ioHandle("Z", "A")
	require.NoError(t, roundTrip(t, workerHandle(t), io))

	assert.Equal(t, []float64{0, 3, 0, 0, 1}, io.global.Pressure())

	// lazily registered with the sender's stride
	stride, ok := io.global.CellStride("VEC")
	require.True(t, ok)
	assert.Equal(t, 2, stride)
	assert.Equal(t, []float64{0, 0, 30, 31, 0, 0, 0, 0, 10, 11}, io.global.CellData("VEC"))
	assert.Equal(t, []string{state.Pressure, state.Temperature, state.Saturation, "VEC"},
		io.global.CellDataNames())

	e, ok := io.globalWells.Entry("A")
	require.True(t, ok)
	assert.Equal(t, 200.0, io.globalWells.BHP()[e.Index])
	assert.Equal(t, 5.0, io.globalWells.THP()[e.Index])
	assert.Equal(t, -40.0, io.globalWells.WellRates()[e.Index])
	// perforation data stays behind
	assert.Equal(t, 0.0, io.globalWells.PerfRates()[e.FirstPerf])
	assert.Equal(t, 0.0, io.globalWells.BHP()[0], "untouched well Z")
}

func TestPackUnpackState_UnknownWell(t *testing.T) {
	err := roundTrip(t, workerHandle(t), ioHandle("B"))
	assert.ErrorIs(t, err, ErrUnknownWell)
}

func TestPackUnpackState_StrideMismatch(t *testing.T) {
	io := ioHandle("A")
	_, err := io.global.RegisterCellData("VEC", 3, 0)
	require.NoError(t, err)
	err = roundTrip(t, workerHandle(t), io)
	assert.ErrorIs(t, err, ErrStrideMismatch)
}

func TestPackUnpackState_SizeMismatch(t *testing.T) {
	io := ioHandle("A")
	io.indexMaps[1] = IndexMap{4}
	err := roundTrip(t, workerHandle(t), io)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestPackUnpackState_Links(t *testing.T) {
	w := workerHandle(t)
	err := w.Pack(comm.Link{ID: 1, Rank: 0}, comm.NewMessageBuffer(nil))
	assert.ErrorIs(t, err, comm.ErrUnknownLink)

	buf := comm.NewMessageBuffer(nil)
	require.NoError(t, w.Pack(comm.Link{ID: 0, Rank: 0}, buf))

	io := ioHandle("A")
	err = io.Unpack(comm.Link{ID: 0, Rank: 0}, comm.NewMessageBuffer(buf.Bytes()))
	assert.ErrorIs(t, err, ErrNoIndexMap)

	err = io.Unpack(comm.Link{ID: 0, Rank: 2}, comm.NewMessageBuffer(buf.Bytes()))
	assert.ErrorIs(t, err, comm.ErrUnknownLink)

	err = w.Unpack(comm.Link{ID: 0, Rank: 1}, comm.NewMessageBuffer(buf.Bytes()))
	assert.Error(t, err, "worker has no global state")
}

func TestPackUnpackState_TruncatedBuffer(t *testing.T) {
	buf := comm.NewMessageBuffer(nil)
	require.NoError(t, workerHandle(t).Pack(comm.Link{ID: 0, Rank: 0}, buf))
	data := buf.Bytes()
	err := ioHandle("A").Unpack(comm.Link{ID: 0, Rank: 1}, comm.NewMessageBuffer(data[:len(data)-8]))
	assert.ErrorIs(t, err, comm.ErrShortBuffer)
}

func TestPackUnpackState_CorruptHeader(t *testing.T) {
	testCases := []struct {
		name  string
		write func(buf *comm.MessageBuffer)
	}{
		{"huge field count", func(buf *comm.MessageBuffer) {
			buf.WriteInt(1 << 61)
		}},
		{"field count beyond data", func(buf *comm.MessageBuffer) {
			buf.WriteInt(4)
			buf.WriteString("X")
			buf.WriteInt(1)
		}},
		{"huge stride", func(buf *comm.MessageBuffer) {
			buf.WriteInt(1)
			buf.WriteString("X")
			buf.WriteInt(1 << 61)
		}},
		{"zero stride", func(buf *comm.MessageBuffer) {
			buf.WriteInt(1)
			buf.WriteString("X")
			buf.WriteInt(0)
			buf.WriteInt(0)
		}},
		{"stride beyond data", func(buf *comm.MessageBuffer) {
			buf.WriteInt(1)
			buf.WriteString("X")
			buf.WriteInt(3)
			buf.WriteInt(2)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := comm.NewMessageBuffer(nil)
			tc.write(buf)
			io := ioHandle("A")
			err := io.Unpack(comm.Link{ID: 0, Rank: 1}, comm.NewMessageBuffer(buf.Bytes()))
			assert.ErrorIs(t, err, ErrSizeMismatch)
			assert.False(t, io.global.HasCellData("X"))
		})
	}
}

func TestPackUnpackState_KeepsReceiverOnlyFields(t *testing.T) {
	io := ioHandle("A")
	_, err := io.global.RegisterCellData("IOONLY", 1, 7)
	require.NoError(t, err)
	before := io.global.CellDataNames()

	require.NoError(t, roundTrip(t, workerHandle(t), io))

	assert.Equal(t, []float64{7, 7, 7, 7, 7}, io.global.CellData("IOONLY"))
	assert.Equal(t, before, io.global.CellDataNames()[:len(before)])
	assert.Equal(t, []string{state.Pressure, state.Temperature, state.Saturation, "IOONLY", "VEC"},
		io.global.CellDataNames())
}

func TestDistributeIndexMapping(t *testing.T) {
	gp, err := NewGlobalPosition([]int{10, 20, 30, 40, 50})
	require.NoError(t, err)

	w := &distributeIndexMapping{labels: []int{50, 99, 20}, interior: []int{0, 2}}
	buf := comm.NewMessageBuffer(nil)
	require.NoError(t, w.Pack(comm.Link{ID: 0, Rank: 0}, buf))

	io := &distributeIndexMapping{globalPos: gp, indexMaps: make(IndexMapStorage, 3)}
	require.NoError(t, io.Unpack(comm.Link{ID: 1, Rank: 2}, comm.NewMessageBuffer(buf.Bytes())))
	assert.Equal(t, IndexMap{4, 1}, io.indexMaps[2])

	// same as resolving locally
	im, err := BuildIndexMap(gp, w.labels, w.interior)
	require.NoError(t, err)
	assert.Equal(t, im, io.indexMaps[2])

	err = io.Unpack(comm.Link{ID: 1, Rank: 2}, comm.NewMessageBuffer(buf.Bytes()))
	assert.Error(t, err, "second map for the same rank")

	bad := &distributeIndexMapping{labels: []int{77}, interior: []int{0}}
	buf = comm.NewMessageBuffer(nil)
	require.NoError(t, bad.Pack(comm.Link{ID: 0, Rank: 0}, buf))
	err = io.Unpack(comm.Link{ID: 0, Rank: 1}, comm.NewMessageBuffer(buf.Bytes()))
	assert.ErrorIs(t, err, ErrLabelNotFound)

	assert.ErrorIs(t, w.Pack(comm.Link{ID: 2, Rank: 0}, comm.NewMessageBuffer(nil)), comm.ErrUnknownLink)
}
