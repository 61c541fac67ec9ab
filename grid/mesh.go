package grid

import (
	"fmt"
	"sort"
)

// Mesh is the global, non-partitioned topology of a logically cartesian
// reservoir grid. Cells flagged inactive are dropped, so the active cell
// index differs from the cartesian index; GlobalCell maps one to the other.
type Mesh struct {
	CartDims [3]int // nx, ny, nz

	// Per active cell
	GlobalCell []int        // Active cell -> cartesian index i + nx*(j + ny*k)
	CellDims   [][3]float64 // dx, dy, dz
	Neighbors  [][]int      // Active cell -> face neighbours, ascending

	NumFaces int // Boundary faces plus interior faces counted once

	cartToActive map[int]int
}

// NewCartesianMesh builds a mesh of dims[0]*dims[1]*dims[2] cells of uniform
// size, skipping the cartesian indices listed in inactive.
func NewCartesianMesh(dims [3]int, cellSize [3]float64, inactive []int) (*Mesh, error) {
	for d, n := range dims {
		if n <= 0 {
			return nil, fmt.Errorf("dimension %d has %d cells", d, n)
		}
		if cellSize[d] <= 0 {
			return nil, fmt.Errorf("dimension %d has cell size %g", d, cellSize[d])
		}
	}
	numCart := dims[0] * dims[1] * dims[2]

	dead := make(map[int]bool, len(inactive))
	for _, c := range inactive {
		if c < 0 || c >= numCart {
			return nil, fmt.Errorf("inactive cell %d outside grid of %d cells", c, numCart)
		}
		dead[c] = true
	}
	if len(dead) == numCart {
		return nil, fmt.Errorf("all %d cells are inactive", numCart)
	}

	m := &Mesh{
		CartDims:     dims,
		cartToActive: make(map[int]int, numCart-len(dead)),
	}
	for c := 0; c < numCart; c++ {
		if dead[c] {
			continue
		}
		m.cartToActive[c] = len(m.GlobalCell)
		m.GlobalCell = append(m.GlobalCell, c)
		m.CellDims = append(m.CellDims, cellSize)
	}

	m.Neighbors = make([][]int, len(m.GlobalCell))
	shared := 0
	for a, c := range m.GlobalCell {
		i, j, k := m.IJK(c)
		for _, off := range [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}} {
			nb, ok := m.CartesianToActive(i+off[0], j+off[1], k+off[2])
			if !ok {
				continue
			}
			m.Neighbors[a] = append(m.Neighbors[a], nb)
			shared++
		}
		sort.Ints(m.Neighbors[a])
	}
	// every shared face was seen from both sides
	m.NumFaces = 6*len(m.GlobalCell) - shared/2

	return m, nil
}

// NumCells returns the number of active cells
func (m *Mesh) NumCells() int { return len(m.GlobalCell) }

// CartesianIndex flattens (i,j,k), returning -1 outside the grid
func (m *Mesh) CartesianIndex(i, j, k int) int {
	nx, ny, nz := m.CartDims[0], m.CartDims[1], m.CartDims[2]
	if i < 0 || j < 0 || k < 0 || i >= nx || j >= ny || k >= nz {
		return -1
	}
	return i + nx*(j+ny*k)
}

// IJK unflattens a cartesian index
func (m *Mesh) IJK(cart int) (i, j, k int) {
	nx, ny := m.CartDims[0], m.CartDims[1]
	i = cart % nx
	j = (cart / nx) % ny
	k = cart / (nx * ny)
	return
}

// CartesianToActive returns the active index of cell (i,j,k), false when the
// cell is outside the grid or inactive.
func (m *Mesh) CartesianToActive(i, j, k int) (int, bool) {
	cart := m.CartesianIndex(i, j, k)
	if cart < 0 {
		return -1, false
	}
	a, ok := m.cartToActive[cart]
	return a, ok
}
