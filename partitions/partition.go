package partitions

import (
	"fmt"
	"math"
)

// Partition is the set of cells owned by one process
type Partition struct {
	// Unique identifier for this partition, equal to the owning rank
	ID int

	// Cell membership
	Cells    []int // Global cell indices owned by this partition, ascending
	NumCells int   // Number of owned cells
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	// All partitions in the mesh
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumCells) across all partitions
	TotalCells    int // Sum of all owned cells across partitions
	NumPartitions int // Total number of partitions

	// Cell to partition mapping
	CToP []int // Length TotalCells: cell k belongs to partition CToP[k]
}

// GetPartition returns the partition owning cell k
func (pl *PartitionLayout) GetPartition(cellID int) int {
	if cellID < 0 || cellID >= len(pl.CToP) {
		return -1
	}
	return pl.CToP[cellID]
}

// ValidateLayout checks partition consistency: every cell owned exactly
// once and the per partition lists agree with CToP.
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("have %d partitions, NumPartitions is %d",
			len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.CToP) != pl.TotalCells {
		return fmt.Errorf("CToP length %d != TotalCells %d", len(pl.CToP), pl.TotalCells)
	}

	owner := make([]int, pl.TotalCells)
	for i := range owner {
		owner[i] = -1
	}
	actualMax := 0
	for _, p := range pl.Partitions {
		if p.NumCells != len(p.Cells) {
			return fmt.Errorf("partition %d: NumCells %d != len(Cells) %d",
				p.ID, p.NumCells, len(p.Cells))
		}
		if p.NumCells > actualMax {
			actualMax = p.NumCells
		}
		for _, c := range p.Cells {
			if c < 0 || c >= pl.TotalCells {
				return fmt.Errorf("partition %d: cell %d out of range", p.ID, c)
			}
			if owner[c] >= 0 {
				return fmt.Errorf("cell %d owned by partitions %d and %d", c, owner[c], p.ID)
			}
			owner[c] = p.ID
			if pl.CToP[c] != p.ID {
				return fmt.Errorf("cell %d: CToP says %d, partition %d lists it",
					c, pl.CToP[c], p.ID)
			}
		}
	}
	for c, o := range owner {
		if o < 0 {
			return fmt.Errorf("cell %d is not owned by any partition", c)
		}
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	return nil
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinCells:      math.MaxInt32,
		MaxCells:      0,
		AvgCells:      float64(pl.TotalCells) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumCells < stats.MinCells {
			stats.MinCells = p.NumCells
		}
		if p.NumCells > stats.MaxCells {
			stats.MaxCells = p.NumCells
		}
	}

	stats.Imbalance = float64(stats.MaxCells) / stats.AvgCells

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinCells      int
	MaxCells      int
	AvgCells      float64
	Imbalance     float64 // MaxCells / AvgCells
}
