package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueKnown(t *testing.T) {
	// Matches the canonical CRC32C test vector for "123456789".
	require.Equal(t, uint32(0xE3069283), Value([]byte("123456789")))
}

func TestExtendMatchesValue(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	full := Value(data)
	split := Extend(Value(data[:10]), data[10:])
	require.Equal(t, full, split)
}

func TestValueEmpty(t *testing.T) {
	require.Equal(t, uint32(0), Value(nil))
}
