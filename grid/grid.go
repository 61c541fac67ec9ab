// Package grid exposes the mesh capabilities the state gather depends on.
//
// A Grid is one process's view of the mesh: its local cells, the global
// label of each, which of them it owns, and the communicator connecting it
// to the other processes. Each mesh representation gets its own adapter,
// chosen where the run is assembled.
package grid

import (
	"fmt"

	"github.com/notargets/ResGather/comm"
	"github.com/notargets/ResGather/partitions"
)

// Grid is the capability set the gather needs from a mesh back end
type Grid interface {
	// NumCells is the number of local cells, owned plus ghost
	NumCells() int
	// GlobalCell is the global label of every local cell
	GlobalCell() []int
	// InteriorCells lists the local positions of owned cells, ascending
	InteriorCells() []int
	// Comm connects this process to the rest of the run
	Comm() comm.Communicator
}

// GlobalViewer is implemented by grids that can hand out the global,
// non-partitioned mesh. The I/O rank needs it to order the gathered state
// and to build well topology.
type GlobalViewer interface {
	GlobalView() (*Mesh, error)
}

// Serial is the grid of a single process run: every cell is local and owned
type Serial struct {
	mesh     *Mesh
	comm     comm.Communicator
	interior []int
}

// NewSerial wraps mesh. A nil communicator is replaced by a one rank network.
func NewSerial(mesh *Mesh, c comm.Communicator) *Serial {
	if mesh == nil {
		panic("grid: nil mesh")
	}
	if c == nil {
		c = comm.NewLocalNetwork(1).Comm(0)
	}
	if c.Size() != 1 {
		panic(fmt.Sprintf("grid: serial grid on a communicator of size %d", c.Size()))
	}
	interior := make([]int, mesh.NumCells())
	for i := range interior {
		interior[i] = i
	}
	return &Serial{mesh: mesh, comm: c, interior: interior}
}

func (s *Serial) NumCells() int              { return s.mesh.NumCells() }
func (s *Serial) GlobalCell() []int          { return s.mesh.GlobalCell }
func (s *Serial) InteriorCells() []int       { return s.interior }
func (s *Serial) Comm() comm.Communicator    { return s.comm }
func (s *Serial) GlobalView() (*Mesh, error) { return s.mesh, nil }

// Partitioned is one rank's piece of a mesh split by a CellConnector. The
// partition index equals the rank.
type Partitioned struct {
	global   *Mesh
	conn     *partitions.CellConnector
	comm     comm.Communicator
	labels   []int
	interior []int
}

// NewPartitioned builds the view of rank c.Rank() of the partitioned mesh
func NewPartitioned(global *Mesh, conn *partitions.CellConnector, c comm.Communicator) (*Partitioned, error) {
	if global == nil || conn == nil || c == nil {
		return nil, fmt.Errorf("grid: partitioned grid needs a mesh, a connector and a communicator")
	}
	if conn.NumPartitions != c.Size() {
		return nil, fmt.Errorf("grid: %d partitions for %d ranks", conn.NumPartitions, c.Size())
	}
	if conn.NumCells != global.NumCells() {
		return nil, fmt.Errorf("grid: connector covers %d cells, mesh has %d",
			conn.NumCells, global.NumCells())
	}

	rank := c.Rank()
	local := conn.LocalToGlobalCell[rank]
	labels := make([]int, len(local))
	for li, cell := range local {
		labels[li] = global.GlobalCell[cell]
	}
	return &Partitioned{
		global:   global,
		conn:     conn,
		comm:     c,
		labels:   labels,
		interior: conn.InteriorCells[rank],
	}, nil
}

func (p *Partitioned) NumCells() int           { return len(p.labels) }
func (p *Partitioned) GlobalCell() []int       { return p.labels }
func (p *Partitioned) InteriorCells() []int    { return p.interior }
func (p *Partitioned) Comm() comm.Communicator { return p.comm }

// GlobalView returns the mesh the partitions were cut from. Every rank holds
// it since partitioning happens after the whole mesh is read.
func (p *Partitioned) GlobalView() (*Mesh, error) { return p.global, nil }

// LocalToGlobal maps local cells to active cells of the global mesh
func (p *Partitioned) LocalToGlobal() []int {
	return p.conn.LocalToGlobalCell[p.comm.Rank()]
}

// Partition cuts mesh into numPartitions pieces with the given strategy and
// returns the connector describing every piece.
func Partition(mesh *Mesh, numPartitions int, strategy partitions.PartitionStrategy) (*partitions.PartitionLayout, *partitions.CellConnector, error) {
	pb := &partitions.PartitionBuilder{
		Mesh:          &partitions.MeshConnectivity{NumCells: mesh.NumCells(), Neighbors: mesh.Neighbors},
		NumPartitions: numPartitions,
		Strategy:      strategy,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, nil, err
	}
	conn, err := partitions.NewCellConnector(layout, mesh.Neighbors)
	if err != nil {
		return nil, nil, err
	}
	return layout, conn, nil
}
