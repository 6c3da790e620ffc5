package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_AddContains(t *testing.T) {
	f := New(1000, 0.01)

	require.False(t, f.Contains("idea-1"))

	assert.True(t, f.Add("idea-1"))
	assert.True(t, f.Contains("idea-1"))

	// Second add of the same key is not newly added.
	assert.False(t, f.Add("idea-1"))
	assert.Equal(t, uint32(1), f.Count())
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(5000, 0.001)
	for i := 0; i < 5000; i++ {
		f.Add(fmt.Sprintf("target-%d", i))
	}
	for i := 0; i < 5000; i++ {
		require.True(t, f.Contains(fmt.Sprintf("target-%d", i)))
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("in-%d", i))
	}

	fps := 0
	const probes = 10000
	for i := 0; i < probes; i++ {
		if f.Contains(fmt.Sprintf("out-%d", i)) {
			fps++
		}
	}
	// Allow generous headroom over the configured 1%.
	assert.Less(t, float64(fps)/probes, 0.03)
}

func TestFilter_DegradesGracefullyPastCapacity(t *testing.T) {
	f := New(100, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("k-%d", i))
	}
	// Overfilled: drift is observable, nothing crashes.
	assert.Greater(t, f.EstimatedFalsePositiveRate(), 0.01)
}

func TestFilter_MarshalRoundTrip(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 300; i++ {
		f.Add(fmt.Sprintf("target-%d", i))
	}

	data := f.Marshal()
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, f.Count(), got.Count())
	for i := 0; i < 300; i++ {
		require.True(t, got.Contains(fmt.Sprintf("target-%d", i)))
	}
	// Newly added state survives: re-adding an existing key is still a no-op.
	assert.False(t, got.Add("target-0"))
}

func TestUnmarshal_Corrupt(t *testing.T) {
	_, err := Unmarshal([]byte("not a filter"))
	assert.ErrorIs(t, err, ErrCorruptFilter)

	_, err = Unmarshal(nil)
	assert.ErrorIs(t, err, ErrCorruptFilter)
}

func TestSize_Bounds(t *testing.T) {
	numBits, k := size(0, -1)
	assert.GreaterOrEqual(t, numBits, uint64(64))
	assert.GreaterOrEqual(t, k, uint32(1))
	assert.LessOrEqual(t, k, uint32(maxHashFuncs))

	numBits, _ = size(1_000_000, 0.001)
	assert.Zero(t, numBits%64)
}
