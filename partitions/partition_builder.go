package partitions

import (
	"fmt"
	"math"
	"strings"
)

// PartitionBuilder constructs partitions from mesh connectivity
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *MeshConnectivity

	// Partitioning parameters
	NumPartitions       int // Exact partition count, takes precedence when > 0
	TargetPartitionSize int // Desired cells per partition otherwise
	Strategy            PartitionStrategy
}

// MeshConnectivity provides the mesh topology needed for partitioning
type MeshConnectivity struct {
	NumCells int

	// Face connectivity, Neighbors[c] lists the cells sharing a face with c
	Neighbors [][]int
}

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive cells
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition // Breadth first region growing over Neighbors
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "round-robin"
	case GraphPartition:
		return "graph"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration name to a PartitionStrategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch strings.ToLower(name) {
	case "", "block":
		return BlockPartition, nil
	case "round-robin", "roundrobin":
		return RoundRobin, nil
	case "graph":
		return GraphPartition, nil
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumCells <= 0 {
		return nil, fmt.Errorf("mesh has no cells")
	}
	if pb.Strategy == GraphPartition && len(pb.Mesh.Neighbors) != pb.Mesh.NumCells {
		return nil, fmt.Errorf("graph partitioning needs Neighbors for all %d cells, have %d",
			pb.Mesh.NumCells, len(pb.Mesh.Neighbors))
	}

	// Determine number of partitions needed
	numPartitions := pb.calculateNumPartitions()
	if numPartitions > pb.Mesh.NumCells {
		return nil, fmt.Errorf("%d partitions for %d cells leaves partitions empty",
			numPartitions, pb.Mesh.NumCells)
	}

	// Partition the cells
	cToP := pb.partitionCells(numPartitions)

	// Create partition structures
	partitions := pb.createPartitions(cToP, numPartitions)

	// Create the layout
	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      pb.calculateKpartMax(partitions),
		TotalCells:    pb.Mesh.NumCells,
		NumPartitions: numPartitions,
		CToP:          cToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// calculateNumPartitions determines the partition count
func (pb *PartitionBuilder) calculateNumPartitions() int {
	if pb.NumPartitions > 0 {
		return pb.NumPartitions
	}
	if pb.TargetPartitionSize <= 0 {
		return 1
	}
	numPartitions := int(math.Ceil(float64(pb.Mesh.NumCells) / float64(pb.TargetPartitionSize)))

	// Ensure at least one partition
	if numPartitions < 1 {
		numPartitions = 1
	}

	return numPartitions
}

// partitionCells assigns cells to partitions
func (pb *PartitionBuilder) partitionCells(numPartitions int) []int {
	n := pb.Mesh.NumCells
	cToP := make([]int, n)

	switch pb.Strategy {
	case RoundRobin:
		for i := 0; i < n; i++ {
			cToP[i] = i % numPartitions
		}

	case GraphPartition:
		return pb.growRegions(numPartitions)

	default:
		// Block partitioning, remainder spread over the first partitions
		base, extra := n/numPartitions, n%numPartitions
		cell := 0
		for p := 0; p < numPartitions; p++ {
			size := base
			if p < extra {
				size++
			}
			for i := 0; i < size; i++ {
				cToP[cell] = p
				cell++
			}
		}
	}

	return cToP
}

// growRegions fills partitions one at a time by breadth first search from
// the lowest unassigned cell, so each partition is face connected where the
// mesh allows it.
func (pb *PartitionBuilder) growRegions(numPartitions int) []int {
	n := pb.Mesh.NumCells
	cToP := make([]int, n)
	for i := range cToP {
		cToP[i] = -1
	}

	base, extra := n/numPartitions, n%numPartitions
	next := 0 // lowest cell that may still be unassigned
	for p := 0; p < numPartitions; p++ {
		target := base
		if p < extra {
			target++
		}
		queue := make([]int, 0, target)
		filled := 0
		for filled < target {
			if len(queue) == 0 {
				for next < n && cToP[next] >= 0 {
					next++
				}
				queue = append(queue, next)
				cToP[next] = p
				filled++
				continue
			}
			c := queue[0]
			queue = queue[1:]
			for _, nb := range pb.Mesh.Neighbors[c] {
				if filled == target {
					break
				}
				if cToP[nb] < 0 {
					cToP[nb] = p
					filled++
					queue = append(queue, nb)
				}
			}
		}
	}
	return cToP
}

// createPartitions builds partition structures from cell assignments
func (pb *PartitionBuilder) createPartitions(cToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	// Initialize partitions
	for i := range partitions {
		partitions[i] = Partition{
			ID:    i,
			Cells: make([]int, 0),
		}
	}

	// Assign cells to partitions in ascending global order
	for cell, part := range cToP {
		partitions[part].Cells = append(partitions[part].Cells, cell)
		partitions[part].NumCells++
	}

	return partitions
}

// calculateKpartMax finds maximum cells across all partitions
func (pb *PartitionBuilder) calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		if p.NumCells > kpartMax {
			kpartMax = p.NumCells
		}
	}
	return kpartMax
}
