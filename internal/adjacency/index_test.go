package adjacency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultTable(t *testing.T) {
	idx, err := Load("")
	require.NoError(t, err)

	assert.Positive(t, idx.Len())
	assert.Empty(t, idx.Validate(), "embedded table must be consistent")

	e, ok := idx.Lookup("02060003")
	require.True(t, ok)
	assert.Equal(t, "020600", e.BasinID)
	assert.Equal(t, "MD", e.State)
	assert.ElementsMatch(t, []string{"02060001", "02060002", "02060004", "02050306"}, e.Adjacent)
}

func TestIndex_BasinNeighbors(t *testing.T) {
	idx, err := Load("")
	require.NoError(t, err)

	// 02050306 is adjacent but sits in a different basin.
	assert.ElementsMatch(t, []string{"02060001", "02060002", "02060004"}, idx.BasinNeighbors("02060003"))
	assert.Contains(t, idx.Neighbors("02060003"), "02050306")
	assert.Nil(t, idx.BasinNeighbors("99999999"))
}

func TestIndex_NilIsEmpty(t *testing.T) {
	var idx *Index
	assert.Equal(t, 0, idx.Len())
	_, ok := idx.Lookup("02060003")
	assert.False(t, ok)
	assert.Nil(t, idx.BasinNeighbors("02060003"))
	assert.Equal(t, "020600", idx.BasinOf("02060003"))
}

func TestParse_Validate(t *testing.T) {
	table := `unit_id,basin_id,state,adjacent
11110001,111100,TX,11110002;11110009
11110002,999999,TX,
`
	idx, err := Parse(strings.NewReader(table))
	require.NoError(t, err)

	errs := idx.Validate()
	require.Len(t, errs, 3)

	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "11110009 is not in the table")
	assert.Contains(t, joined, "adjacency to 11110002 is not reciprocated")
	assert.Contains(t, joined, "basin 999999 does not match")
}

func TestParse_BadHeader(t *testing.T) {
	_, err := Parse(strings.NewReader("huc,basin,state,adj\n"))
	require.Error(t, err)
}

func TestNew_DerivesBasin(t *testing.T) {
	idx := New([]Entry{{UnitID: "02060003", Adjacent: []string{"02060004"}}})
	e, ok := idx.Lookup("02060003")
	require.True(t, ok)
	assert.Equal(t, "020600", e.BasinID)
	assert.Equal(t, []string{"02060004"}, idx.BasinNeighbors("02060003"))
}
