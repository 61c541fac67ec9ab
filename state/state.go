// Package state holds the per cell and per face simulation fields of one
// process. Fields are flat float64 arrays of length stride*count, kept in
// registration order so every process that registers the same fields in the
// same order walks them identically.
package state

import (
	"errors"
	"fmt"

	"cogentcore.org/core/base/ordmap"
)

// Default field names
const (
	Pressure     = "PRESSURE"
	Temperature  = "TEMPERATURE"
	Saturation   = "SATURATION"
	FacePressure = "FACEPRESSURE"
	FaceFlux     = "FACEFLUX"
)

// ErrStrideMismatch is returned when a field is registered again with a
// different number of components
var ErrStrideMismatch = errors.New("state: field registered with different stride")

type field struct {
	stride int
	data   []float64
}

// SimulatorState is the named field storage of one process
type SimulatorState struct {
	numCells  int
	numFaces  int
	numPhases int

	cellData *ordmap.Map[string, *field]
	faceData *ordmap.Map[string, *field]
}

// NewSimulatorState creates a state with pressure, temperature and one
// saturation per phase on cells, and pressure and flux on faces.
func NewSimulatorState(numCells, numFaces, numPhases int) *SimulatorState {
	if numCells < 0 || numFaces < 0 || numPhases < 1 {
		panic(fmt.Sprintf("state: invalid sizes cells=%d faces=%d phases=%d",
			numCells, numFaces, numPhases))
	}
	s := &SimulatorState{
		numCells:  numCells,
		numFaces:  numFaces,
		numPhases: numPhases,
		cellData:  ordmap.New[string, *field](),
		faceData:  ordmap.New[string, *field](),
	}
	s.mustRegister(s.RegisterCellData(Pressure, 1, 0))
	s.mustRegister(s.RegisterCellData(Temperature, 1, 273.15+20))
	s.mustRegister(s.RegisterCellData(Saturation, numPhases, 0))
	s.mustRegister(s.RegisterFaceData(FacePressure, 1, 0))
	s.mustRegister(s.RegisterFaceData(FaceFlux, 1, 0))
	return s
}

func (s *SimulatorState) mustRegister(_ int, err error) {
	if err != nil {
		panic(err)
	}
}

func (s *SimulatorState) NumCells() int  { return s.numCells }
func (s *SimulatorState) NumFaces() int  { return s.numFaces }
func (s *SimulatorState) NumPhases() int { return s.numPhases }

func register(m *ordmap.Map[string, *field], name string, stride, count int, initial float64) (int, error) {
	if stride < 1 {
		return -1, fmt.Errorf("state: field %q with stride %d", name, stride)
	}
	if idx, ok := m.IndexByKeyTry(name); ok {
		if have := m.ValueByIndex(idx).stride; have != stride {
			return -1, fmt.Errorf("field %q has stride %d, asked for %d: %w",
				name, have, stride, ErrStrideMismatch)
		}
		return idx, nil
	}
	data := make([]float64, stride*count)
	if initial != 0 {
		for i := range data {
			data[i] = initial
		}
	}
	m.Add(name, &field{stride: stride, data: data})
	return m.Len() - 1, nil
}

// RegisterCellData adds a cell field of components values per cell, all set
// to initial, and returns its position. Registering an existing name with the
// same stride returns the existing position and leaves the data untouched.
func (s *SimulatorState) RegisterCellData(name string, components int, initial float64) (int, error) {
	return register(s.cellData, name, components, s.numCells, initial)
}

// RegisterFaceData is RegisterCellData for face fields
func (s *SimulatorState) RegisterFaceData(name string, components int, initial float64) (int, error) {
	return register(s.faceData, name, components, s.numFaces, initial)
}

// CellData returns the storage of a cell field, nil when absent. The slice
// aliases the state.
func (s *SimulatorState) CellData(name string) []float64 {
	if f, ok := s.cellData.ValueByKeyTry(name); ok {
		return f.data
	}
	return nil
}

// CellStride returns the components per cell of a field
func (s *SimulatorState) CellStride(name string) (int, bool) {
	if f, ok := s.cellData.ValueByKeyTry(name); ok {
		return f.stride, true
	}
	return 0, false
}

// HasCellData reports whether name is registered
func (s *SimulatorState) HasCellData(name string) bool {
	_, ok := s.cellData.IndexByKeyTry(name)
	return ok
}

// CellDataNames lists cell fields in registration order
func (s *SimulatorState) CellDataNames() []string { return s.cellData.Keys() }

// NumCellData returns the number of cell fields
func (s *SimulatorState) NumCellData() int { return s.cellData.Len() }

// FaceData returns the storage of a face field, nil when absent
func (s *SimulatorState) FaceData(name string) []float64 {
	if f, ok := s.faceData.ValueByKeyTry(name); ok {
		return f.data
	}
	return nil
}

// FaceDataNames lists face fields in registration order
func (s *SimulatorState) FaceDataNames() []string { return s.faceData.Keys() }

// Pressure returns the cell pressures
func (s *SimulatorState) Pressure() []float64 { return s.CellData(Pressure) }

// Temperature returns the cell temperatures
func (s *SimulatorState) Temperature() []float64 { return s.CellData(Temperature) }

// Saturation returns the cell saturations, numPhases per cell
func (s *SimulatorState) Saturation() []float64 { return s.CellData(Saturation) }

// FacePressure returns the face pressures
func (s *SimulatorState) FacePressure() []float64 { return s.FaceData(FacePressure) }

// FaceFlux returns the face fluxes
func (s *SimulatorState) FaceFlux() []float64 { return s.FaceData(FaceFlux) }
