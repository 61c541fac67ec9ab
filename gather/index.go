package gather

import (
	"fmt"
)

// IndexMap sends the i-th value a rank packs to global position IndexMap[i]
type IndexMap []int

// IndexMapStorage holds the index map of every rank, slot = rank. Only the
// I/O rank fills it, once, during the index distribution round.
type IndexMapStorage []IndexMap

// GlobalPosition resolves a global cell label to its position in the
// global cell ordering
type GlobalPosition struct {
	labels []int
	pos    map[int]int
}

// NewGlobalPosition indexes globalCell, the label of every global position
func NewGlobalPosition(globalCell []int) (*GlobalPosition, error) {
	gp := &GlobalPosition{labels: globalCell, pos: make(map[int]int, len(globalCell))}
	for i, label := range globalCell {
		if prev, ok := gp.pos[label]; ok {
			return nil, fmt.Errorf("label %d at global positions %d and %d", label, prev, i)
		}
		gp.pos[label] = i
	}
	return gp, nil
}

// Len returns the number of global positions
func (gp *GlobalPosition) Len() int { return len(gp.labels) }

// Resolve returns the global position of label
func (gp *GlobalPosition) Resolve(label int) (int, error) {
	p, ok := gp.pos[label]
	if !ok {
		return -1, fmt.Errorf("label %d: %w", label, ErrLabelNotFound)
	}
	return p, nil
}

// BuildIndexMap maps packed positions to global positions. Packed position
// i holds local cell interior[i], whose label is labels[interior[i]].
func BuildIndexMap(gp *GlobalPosition, labels []int, interior []int) (IndexMap, error) {
	im := make(IndexMap, len(interior))
	for i, li := range interior {
		if li < 0 || li >= len(labels) {
			return nil, fmt.Errorf("interior cell %d outside %d local cells", li, len(labels))
		}
		p, err := gp.Resolve(labels[li])
		if err != nil {
			return nil, err
		}
		im[i] = p
	}
	return im, nil
}

// ResolveLabels maps a sequence of labels, already in packed order, to
// global positions
func ResolveLabels(gp *GlobalPosition, labels []int) (IndexMap, error) {
	im := make(IndexMap, len(labels))
	for i, label := range labels {
		p, err := gp.Resolve(label)
		if err != nil {
			return nil, err
		}
		im[i] = p
	}
	return im, nil
}

// CheckUnique fails when two packed positions, of the same or of different
// ranks, claim one global position
func (s IndexMapStorage) CheckUnique(numGlobal int) error {
	claimed := make([]int, numGlobal)
	for i := range claimed {
		claimed[i] = -1
	}
	for rank, im := range s {
		for _, p := range im {
			if p < 0 || p >= numGlobal {
				return fmt.Errorf("rank %d maps to position %d of %d", rank, p, numGlobal)
			}
			if claimed[p] >= 0 {
				return fmt.Errorf("global position %d claimed by ranks %d and %d: %w",
					p, claimed[p], rank, ErrDuplicatePosition)
			}
			claimed[p] = rank
		}
	}
	return nil
}

// CheckComplete fails unless the maps together cover every global
// position exactly once
func (s IndexMapStorage) CheckComplete(numGlobal int) error {
	if err := s.CheckUnique(numGlobal); err != nil {
		return err
	}
	if n := s.Len(); n != numGlobal {
		return fmt.Errorf("index maps cover %d of %d global positions: %w", n, numGlobal, ErrIncomplete)
	}
	return nil
}

// Len returns the number of packed positions over all ranks
func (s IndexMapStorage) Len() int {
	n := 0
	for _, im := range s {
		n += len(im)
	}
	return n
}
