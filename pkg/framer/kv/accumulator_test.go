package kv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorSingleAndDouble(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(true)
	a.Append("Host", "example.com")
	a.Append("Accept", "text/html")
	a.Append("accept", "application/json")

	assert.Equal(t, 2, a.KeyCount())
	assert.Equal(t, 3, a.ValueCount())
	assert.Equal(t, 0, a.Promoted())

	got := a.Finalize()
	require.Len(t, got, 2)
	assert.Equal(t, Entry{Key: "Host", Values: []string{"example.com"}}, got[0])
	assert.Equal(t, Entry{Key: "Accept", Values: []string{"text/html", "application/json"}}, got[1])
}

func TestAccumulatorPromotion(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(false)
	for i := 0; i < 5; i++ {
		a.Append("k", fmt.Sprint(i))
	}
	a.Append("other", "x")

	assert.Equal(t, 1, a.Promoted())
	got := a.Finalize()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got[0].Values)
	assert.Equal(t, []string{"x"}, got[1].Values)
}

func TestAccumulatorCaseSensitivity(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(false)
	a.Append("a", "1")
	a.Append("A", "2")
	assert.Equal(t, 2, a.KeyCount())

	b := NewAccumulator(true)
	b.Append("a", "1")
	b.Append("A", "2")
	assert.Equal(t, 1, b.KeyCount())
}

func TestAccumulatorIndexedLookup(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(true)
	const keys = inlineKeys * 3
	for round := 0; round < 3; round++ {
		for i := 0; i < keys; i++ {
			a.Append(fmt.Sprintf("Key-%d", i), fmt.Sprintf("%d.%d", i, round))
		}
	}
	// Lookups after the index was built must still fold case.
	a.Append("KEY-0", "upper")

	got := a.Finalize()
	require.Len(t, got, keys)
	assert.Equal(t, "Key-0", got[0].Key)
	assert.Equal(t, []string{"0.0", "0.1", "0.2", "upper"}, got[0].Values)
	assert.Equal(t, []string{"7.0", "7.1", "7.2"}, got[7].Values)
}

func TestAccumulatorFoldingIndependentOfKeyCount(t *testing.T) {
	t.Parallel()

	for _, before := range []int{0, inlineKeys + 1} {
		t.Run(fmt.Sprintf("%d keys before", before), func(t *testing.T) {
			a := NewAccumulator(true)
			for i := 0; i < before; i++ {
				a.Append(fmt.Sprintf("k%d", i), "v")
			}
			a.Append("s", "1")
			a.Append("\u017f", "2") // LATIN SMALL LETTER LONG S
			a.Append("S", "3")
			a.Append("\u212a", "4") // KELVIN SIGN

			got := a.Finalize()
			require.Len(t, got, before+3)
			tail := got[before:]
			assert.Equal(t, Entry{Key: "s", Values: []string{"1", "3"}}, tail[0])
			assert.Equal(t, Entry{Key: "\u017f", Values: []string{"2"}}, tail[1])
			assert.Equal(t, Entry{Key: "\u212a", Values: []string{"4"}}, tail[2])
		})
	}
}

func TestAccumulatorFinalizeIsolation(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(false)
	a.Append("a", "1")
	a.Append("b", "2")
	got := a.Finalize()

	// Appending to one entry's values must not clobber its neighbour.
	got[0].Values = append(got[0].Values, "extra")
	assert.Equal(t, []string{"2"}, got[1].Values)

	assert.False(t, a.HasValues())
	assert.Nil(t, a.Finalize())
}
