package dbformat

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	cases := []ParsedInternalKey{
		{UserKey: []byte("abc"), Sequence: 1, Kind: KindValue},
		{UserKey: []byte("abc"), Sequence: 42, Kind: KindTombstone},
		{UserKey: []byte(""), Sequence: 0, Kind: KindValue},
		{UserKey: []byte("z"), Sequence: MaxSequenceNumber, Kind: KindValue},
	}
	for _, c := range cases {
		enc := Encode(c.UserKey, c.Sequence, c.Kind)
		got, err := Parse(enc)
		require.NoError(t, err)
		require.Equal(t, c.UserKey, got.UserKey)
		require.Equal(t, c.Sequence, got.Sequence)
		require.Equal(t, c.Kind, got.Kind)
	}
}

func TestParseTooShort(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrKeyTooShort)
}

func TestParseInvalidKind(t *testing.T) {
	enc := Encode([]byte("k"), 5, KindValue)
	enc[len(enc)-1] = 0x42
	_, err := Parse(enc)
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestUserKeySameUserKeyNewerSequenceSortsFirst(t *testing.T) {
	older := Encode([]byte("k"), 1, KindValue)
	newer := Encode([]byte("k"), 2, KindValue)
	require.Less(t, Compare(newer, older), 0, "higher sequence must sort before lower sequence for the same user key")
}

func TestUserKeyAscendingOrder(t *testing.T) {
	a := Encode([]byte("apple"), 5, KindValue)
	b := Encode([]byte("banana"), 5, KindValue)
	require.Less(t, Compare(a, b), 0)
}

func TestCompareIsFullByteCompare(t *testing.T) {
	keys := [][]byte{
		Encode([]byte("a"), 10, KindValue),
		Encode([]byte("a"), 5, KindValue),
		Encode([]byte("a"), 10, KindTombstone),
		Encode([]byte("b"), 1, KindValue),
	}
	rnd := rand.New(rand.NewSource(1))
	shuffled := make([][]byte, len(keys))
	copy(shuffled, keys)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	sort.Slice(shuffled, func(i, j int) bool { return Compare(shuffled[i], shuffled[j]) < 0 })

	// a@10:value < a@10:tombstone < a@5:value < b@1:value
	require.Equal(t, shuffled[0], keys[0])
	require.Equal(t, shuffled[1], keys[2])
	require.Equal(t, shuffled[2], keys[1])
	require.Equal(t, shuffled[3], keys[3])
}

func TestExtractHelpersMatchParse(t *testing.T) {
	enc := Encode([]byte("hello"), 99, KindTombstone)
	require.Equal(t, []byte("hello"), UserKey(enc))
	require.Equal(t, KindTombstone, ExtractKind(enc))
	require.Equal(t, SequenceNumber(99), ExtractSequence(enc))
}

func TestCompareUserKeysIgnoresSequence(t *testing.T) {
	a := Encode([]byte("k"), 1, KindValue)
	b := Encode([]byte("k"), 99, KindTombstone)
	require.Equal(t, 0, CompareUserKeys(a, b))
}
