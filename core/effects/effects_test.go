package effects

import (
	"testing"

	"github.com/stretchr/testify/require"

	caperrors "capstore/core/errors"
	"capstore/core/transform"
	"capstore/core/types"
)

func TestAccumulatorMergesPerNormalizedKey(t *testing.T) {
	acc := NewAccumulator()
	full := types.NewURef(types.Address{1}, types.AccessReadAddWrite)
	addOnly, err := full.Narrow(types.AccessAdd)
	require.NoError(t, err)

	require.NoError(t, acc.Write(types.URefKey(full), types.Int32(5)))
	require.NoError(t, acc.Add(types.URefKey(addOnly), types.Int32(3)))
	require.Equal(t, 1, acc.Len())

	got, ok := acc.Pending(types.URefKey(full))
	require.True(t, ok)
	require.Equal(t, transform.Write{Value: types.Int32(8)}, got)

	effects, err := acc.Seal()
	require.NoError(t, err)
	require.Equal(t, Committed, acc.State())
	require.Len(t, effects, 1)
	require.Equal(t, transform.Write{Value: types.Int32(8)}, effects[types.URefKey(full).Normalize()])
}

func TestFailureOccupiesKey(t *testing.T) {
	acc := NewAccumulator()
	key := types.URefKey(types.NewURef(types.Address{2}, types.AccessReadAddWrite))
	require.NoError(t, acc.Write(key, types.String("data")))
	require.NoError(t, acc.Add(key, types.Int32(1)))

	effects, err := acc.Seal()
	require.NoError(t, err)
	failures := effects.Failures()
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[key.Normalize()], caperrors.ErrTypeMismatch)
}

func TestLastWriteWins(t *testing.T) {
	acc := NewAccumulator()
	key := types.AccountKey(types.Address{3})
	require.NoError(t, acc.Write(key, types.String("a")))
	require.NoError(t, acc.Write(key, types.String("b")))
	effects, err := acc.Seal()
	require.NoError(t, err)
	require.Equal(t, transform.Write{Value: types.String("b")}, effects[key])
}

func TestDiscardAndClosedStates(t *testing.T) {
	acc := NewAccumulator()
	key := types.AccountKey(types.Address{4})
	require.NoError(t, acc.Write(key, types.Unit{}))
	acc.Discard()
	require.Equal(t, Discarded, acc.State())
	require.Zero(t, acc.Len())
	require.ErrorIs(t, acc.Write(key, types.Unit{}), caperrors.ErrAccumulatorClosed)
	_, err := acc.Seal()
	require.ErrorIs(t, err, caperrors.ErrAccumulatorClosed)

	sealed := NewAccumulator()
	_, err = sealed.Seal()
	require.NoError(t, err)
	sealed.Discard()
	require.Equal(t, Committed, sealed.State())
}

func TestSortedKeysFollowKeyOrder(t *testing.T) {
	e := Effects{
		types.HashKey(types.Address{1}):    transform.Identity{},
		types.AccountKey(types.Address{9}): transform.Identity{},
		types.AccountKey(types.Address{2}): transform.Identity{},
	}
	keys := e.SortedKeys()
	require.Equal(t, []types.Key{
		types.AccountKey(types.Address{2}),
		types.AccountKey(types.Address{9}),
		types.HashKey(types.Address{1}),
	}, keys)
}
