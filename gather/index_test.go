package gather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalPosition(t *testing.T) {
	gp, err := NewGlobalPosition([]int{7, 3, 11, 5})
	require.NoError(t, err)
	assert.Equal(t, 4, gp.Len())

	p, err := gp.Resolve(11)
	require.NoError(t, err)
	assert.Equal(t, 2, p)

	_, err = gp.Resolve(4)
	assert.ErrorIs(t, err, ErrLabelNotFound)

	_, err = NewGlobalPosition([]int{1, 2, 1})
	assert.Error(t, err, "duplicate label")
}

func TestBuildIndexMap(t *testing.T) {
	gp, err := NewGlobalPosition([]int{10, 20, 30, 40, 50})
	require.NoError(t, err)

	// local cells carry labels 40 30 50 20, local 1 is a ghost
	labels := []int{40, 30, 50, 20}
	im, err := BuildIndexMap(gp, labels, []int{0, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, IndexMap{3, 4, 1}, im)

	_, err = BuildIndexMap(gp, []int{40, 99}, []int{0, 1})
	assert.ErrorIs(t, err, ErrLabelNotFound)

	_, err = BuildIndexMap(gp, labels, []int{4})
	assert.Error(t, err)
}

func TestResolveLabels(t *testing.T) {
	gp, err := NewGlobalPosition([]int{10, 20, 30})
	require.NoError(t, err)
	im, err := ResolveLabels(gp, []int{30, 10})
	require.NoError(t, err)
	assert.Equal(t, IndexMap{2, 0}, im)

	im, err = ResolveLabels(gp, nil)
	require.NoError(t, err)
	assert.NotNil(t, im, "empty maps still mark the rank as distributed")
}

func TestIndexMapStorage_Checks(t *testing.T) {
	testCases := []struct {
		name      string
		storage   IndexMapStorage
		numGlobal int
		unique    error
		complete  error
	}{
		{"bijection", IndexMapStorage{{0, 3}, {1}, {2, 4}}, 5, nil, nil},
		{"duplicate across ranks", IndexMapStorage{{0, 1}, {1, 2}}, 3, ErrDuplicatePosition, ErrDuplicatePosition},
		{"duplicate within rank", IndexMapStorage{{0, 0}}, 3, ErrDuplicatePosition, ErrDuplicatePosition},
		{"gap", IndexMapStorage{{0, 1}, {3}}, 4, nil, ErrIncomplete},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.storage.CheckUnique(tc.numGlobal)
			if tc.unique == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.unique)
			}
			err = tc.storage.CheckComplete(tc.numGlobal)
			if tc.complete == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.complete)
			}
		})
	}

	assert.Error(t, IndexMapStorage{{5}}.CheckUnique(5), "position out of range")
}
