package partitions

import (
	"fmt"
	"sort"
)

// CellConnector gives every partition its local view of the mesh: the cells
// it owns plus one layer of ghost cells owned by neighbouring partitions.
// Local cells are numbered in ascending global order, so owned and ghost
// cells interleave in the local numbering.
type CellConnector struct {
	// Mesh dimensions
	NumPartitions int
	NumCells      int // Total cells

	// Input connectivity
	Neighbors [][]int // Cell -> face neighbours
	CToP      []int   // Cell -> partition mapping

	// Partition mappings
	CellsPerPartition []int         // Owned cells per partition
	GlobalToLocalCell []map[int]int // [partition][globalCell] -> localCell
	LocalToGlobalCell [][]int       // [partition][localCell] -> globalCell
	Interior          [][]bool      // [partition][localCell] -> owned
	InteriorCells     [][]int       // [partition] local indices of owned cells, ascending
}

// NewCellConnector creates a connector from a validated layout and the face
// connectivity the layout was built from.
func NewCellConnector(layout *PartitionLayout, neighbors [][]int) (*CellConnector, error) {
	if layout == nil {
		return nil, fmt.Errorf("nil partition layout")
	}
	if len(neighbors) != layout.TotalCells {
		return nil, fmt.Errorf("neighbors length %d does not match %d cells",
			len(neighbors), layout.TotalCells)
	}

	cc := &CellConnector{
		NumPartitions: layout.NumPartitions,
		NumCells:      layout.TotalCells,
		Neighbors:     neighbors,
		CToP:          layout.CToP,
	}

	if err := cc.buildPartitionMappings(); err != nil {
		return nil, err
	}
	return cc, nil
}

// buildPartitionMappings creates bidirectional mappings between global and
// local cell numbering, including the ghost layer.
func (cc *CellConnector) buildPartitionMappings() error {
	cc.CellsPerPartition = make([]int, cc.NumPartitions)
	members := make([]map[int]bool, cc.NumPartitions)
	for p := range members {
		members[p] = make(map[int]bool)
	}

	for cell, p := range cc.CToP {
		if p < 0 || p >= cc.NumPartitions {
			return fmt.Errorf("cell %d assigned to partition %d of %d", cell, p, cc.NumPartitions)
		}
		cc.CellsPerPartition[p]++
		members[p][cell] = true
		for _, nb := range cc.Neighbors[cell] {
			if nb < 0 || nb >= cc.NumCells {
				return fmt.Errorf("cell %d has neighbour %d out of range", cell, nb)
			}
			// nb is a ghost of p when owned elsewhere
			members[p][nb] = true
		}
	}

	cc.GlobalToLocalCell = make([]map[int]int, cc.NumPartitions)
	cc.LocalToGlobalCell = make([][]int, cc.NumPartitions)
	cc.Interior = make([][]bool, cc.NumPartitions)
	cc.InteriorCells = make([][]int, cc.NumPartitions)

	for p := 0; p < cc.NumPartitions; p++ {
		local := make([]int, 0, len(members[p]))
		for cell := range members[p] {
			local = append(local, cell)
		}
		sort.Ints(local)

		cc.LocalToGlobalCell[p] = local
		cc.GlobalToLocalCell[p] = make(map[int]int, len(local))
		cc.Interior[p] = make([]bool, len(local))
		cc.InteriorCells[p] = make([]int, 0, cc.CellsPerPartition[p])
		for li, cell := range local {
			cc.GlobalToLocalCell[p][cell] = li
			if cc.CToP[cell] == p {
				cc.Interior[p][li] = true
				cc.InteriorCells[p] = append(cc.InteriorCells[p], li)
			}
		}
	}
	return nil
}

// NumLocalCells returns owned plus ghost cells of partition p
func (cc *CellConnector) NumLocalCells(p int) int {
	if p < 0 || p >= cc.NumPartitions {
		return 0
	}
	return len(cc.LocalToGlobalCell[p])
}

// GhostCells returns the local indices of the ghost cells of partition p
func (cc *CellConnector) GhostCells(p int) []int {
	if p < 0 || p >= cc.NumPartitions {
		return nil
	}
	var ghosts []int
	for li, owned := range cc.Interior[p] {
		if !owned {
			ghosts = append(ghosts, li)
		}
	}
	return ghosts
}

// Verify checks index validity and conservation properties
func (cc *CellConnector) Verify() error {
	// Verify 1: Local validity - mappings are inverse of each other
	for p := 0; p < cc.NumPartitions; p++ {
		for li, cell := range cc.LocalToGlobalCell[p] {
			if got, ok := cc.GlobalToLocalCell[p][cell]; !ok || got != li {
				return fmt.Errorf("partition %d: local cell %d -> global %d does not map back",
					p, li, cell)
			}
		}
	}

	// Verify 2: Correspondence - every ghost is owned by another partition
	for p := 0; p < cc.NumPartitions; p++ {
		for li, owned := range cc.Interior[p] {
			cell := cc.LocalToGlobalCell[p][li]
			if owned != (cc.CToP[cell] == p) {
				return fmt.Errorf("partition %d: cell %d interior flag %v disagrees with owner %d",
					p, cell, owned, cc.CToP[cell])
			}
		}
	}

	// Verify 3: Conservation - interior cells over all partitions cover the mesh once
	seen := make([]bool, cc.NumCells)
	total := 0
	for p := 0; p < cc.NumPartitions; p++ {
		for _, li := range cc.InteriorCells[p] {
			cell := cc.LocalToGlobalCell[p][li]
			if seen[cell] {
				return fmt.Errorf("cell %d is interior to more than one partition", cell)
			}
			seen[cell] = true
			total++
		}
	}
	if total != cc.NumCells {
		return fmt.Errorf("conservation error: total interior cells %d != mesh cells %d",
			total, cc.NumCells)
	}

	return nil
}
