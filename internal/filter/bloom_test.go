package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	b := NewBuilder(10)
	keys := make([][]byte, 0, 1000)
	for i := range 1000 {
		k := []byte(fmt.Sprintf("key-%06d", i))
		keys = append(keys, k)
		b.AddKey(k)
	}
	data := b.Finish()

	for _, k := range keys {
		require.True(t, MayContain(data, k), "key %q must never be reported absent", k)
	}
}

func TestFalsePositiveRateIsReasonable(t *testing.T) {
	b := NewBuilder(10)
	for i := range 10000 {
		b.AddKey([]byte(fmt.Sprintf("present-%06d", i)))
	}
	data := b.Finish()

	falsePositives := 0
	trials := 10000
	for i := range trials {
		k := []byte(fmt.Sprintf("absent-%06d", i))
		if MayContain(data, k) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	require.Less(t, rate, 0.05, "false-positive rate should stay near the ~1%% target at 10 bits/key")
}

func TestEmptyFilterRejectsEverything(t *testing.T) {
	b := NewBuilder(10)
	data := b.Finish()
	require.False(t, MayContain(data, []byte("anything")))
}

func TestBuilderResetsAfterFinish(t *testing.T) {
	b := NewBuilder(10)
	b.AddKey([]byte("a"))
	b.Finish()
	require.Equal(t, 0, b.NumKeys())
}

func TestNumProbesClamped(t *testing.T) {
	require.Equal(t, 1, numProbes(0))
	require.Equal(t, 30, numProbes(1000))
	require.Equal(t, 7, numProbes(10))
}
