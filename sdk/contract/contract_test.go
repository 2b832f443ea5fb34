package contract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"capstore/core/effects"
	caperrors "capstore/core/errors"
	"capstore/core/globalstate"
	"capstore/core/host"
	"capstore/core/transform"
	"capstore/core/types"
	"capstore/storage"
)

var owner = types.Address{0xA1}

type env struct {
	state *globalstate.TrieState
	snap  globalstate.Snapshot
	exec  host.Executor
}

func newEnv(t *testing.T, exec host.Executor) *env {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	state, err := globalstate.NewTrieState(db)
	require.NoError(t, err)
	root, err := state.Commit(context.Background(), state.EmptyRoot(), effects.Effects{
		types.AccountKey(owner): transform.Write{Value: types.NewAccount(owner, nil, types.NewURef(types.Address{1}, types.AccessReadAddWrite))},
	})
	require.NoError(t, err)
	snap, err := state.Checkout(root)
	require.NoError(t, err)
	return &env{state: state, snap: snap, exec: exec}
}

// run executes fn as the owner's session code against the current snapshot
// and commits its effects when it succeeds.
func (e *env) run(t *testing.T, seed byte, fn func(Host) error) error {
	t.Helper()
	acc := effects.NewAccumulator()
	v, err := e.snap.Read(types.AccountKey(owner))
	require.NoError(t, err)
	account := v.(*types.Account)
	ctx := host.NewContext(host.Config{
		Snapshot:    e.snap,
		Accumulator: acc,
		Addresses:   host.NewAddressGenerator([32]byte{seed}, host.PhaseSession),
		Executor:    e.exec,
		Account:     owner,
		BaseKey:     types.AccountKey(owner),
		NamedKeys:   account.NamedKeys,
		Known:       []types.URef{account.MainPurse},
		Module:      []byte("session"),
	})
	rt := host.NewRuntime(ctx)
	if err := rt.Outcome(fn(rt)); err != nil {
		acc.Discard()
		return err
	}
	fx, err := acc.Seal()
	require.NoError(t, err)
	root, err := e.state.Commit(context.Background(), e.snap.Root(), fx)
	require.NoError(t, err)
	e.snap, err = e.state.Checkout(root)
	require.NoError(t, err)
	return nil
}

func TestCounterAcrossDeploys(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.run(t, 1, func(h Host) error {
		counter, err := NewTURef(h, types.UInt512From(10))
		if err != nil {
			return err
		}
		return PutKey(h, "counter", counter.Key())
	}))
	require.NoError(t, e.run(t, 2, func(h Host) error {
		key, ok, err := GetKey(h, "counter")
		if err != nil || !ok {
			return caperrors.ErrNamedKeyMissing
		}
		counter, err := types.TURefFromKey[types.UInt512](key)
		if err != nil {
			return err
		}
		return Add(h, counter, types.UInt512From(5))
	}))
	require.NoError(t, e.run(t, 3, func(h Host) error {
		key, _, err := GetKey(h, "counter")
		if err != nil {
			return err
		}
		counter, err := types.TURefFromKey[types.UInt512](key)
		if err != nil {
			return err
		}
		got, ok, err := Read(h, counter)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, types.UInt512From(15), got)
		return nil
	}))
}

func TestReadOnlyReferenceRejectsWrite(t *testing.T) {
	e := newEnv(t, nil)
	err := e.run(t, 1, func(h Host) error {
		ref, err := NewTURef(h, types.String("data"))
		if err != nil {
			return err
		}
		readOnly, err := ref.Narrow(types.AccessRead)
		if err != nil {
			return err
		}
		werr := Write(h, readOnly, types.String("changed"))
		require.ErrorIs(t, werr, caperrors.ErrInvalidAccess)
		return nil
	})
	// The guest swallowed the error, the execution still reverts.
	require.ErrorIs(t, err, caperrors.ErrInvalidAccess)
}

func TestReadWrongTypeFailsConversion(t *testing.T) {
	e := newEnv(t, nil)
	err := e.run(t, 1, func(h Host) error {
		ref, err := NewTURef(h, types.String("data"))
		if err != nil {
			return err
		}
		return PutKey(h, "s", ref.Key())
	})
	require.NoError(t, err)
	err = e.run(t, 2, func(h Host) error {
		key, _, err := GetKey(h, "s")
		if err != nil {
			return err
		}
		wrong, err := types.TURefFromKey[types.Int32](key)
		if err != nil {
			return err
		}
		_, _, err = Read(h, wrong)
		return err
	})
	require.ErrorIs(t, err, caperrors.ErrValueConversion)
}

func TestReadAbsentIsNone(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.run(t, 1, func(h Host) error {
		ref, err := NewTURef(h, types.Int32(1))
		if err != nil {
			return err
		}
		_, ok, err := Read(h, ref)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestLocalPartitionRoundTrip(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.run(t, 1, func(h Host) error {
		return WriteLocal(h, types.String("balance"), types.UInt64(42))
	}))
	require.NoError(t, e.run(t, 2, func(h Host) error {
		got, ok, err := ReadLocal[types.UInt64](h, types.String("balance"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, types.UInt64(42), got)
		_, ok, err = ReadLocal[types.UInt64](h, types.String("other"))
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestStoreFunctionAtHashAndPutKey(t *testing.T) {
	e := newEnv(t, nil)
	var stored types.ContractRef
	require.NoError(t, e.run(t, 1, func(h Host) error {
		ref, err := StoreFunctionAtHash(h, "call", types.NamedKeys{})
		if err != nil {
			return err
		}
		stored = ref
		return PutKey(h, "contract", ref.Key())
	}))
	require.Equal(t, types.KeyHash, stored.Key().Kind())

	v, err := e.snap.Read(stored.Key())
	require.NoError(t, err)
	contract := v.(*types.Contract)
	require.Equal(t, "call", contract.EntryPoint)
	require.Equal(t, []byte("session"), contract.Module)

	v, err = e.snap.Read(types.AccountKey(owner))
	require.NoError(t, err)
	require.Equal(t, stored.Key(), v.(*types.Account).NamedKeys["contract"])
}

func TestStoreFunctionIsMutableSlot(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.run(t, 1, func(h Host) error {
		ref, err := StoreFunction(h, "call", nil)
		if err != nil {
			return err
		}
		u, ok := ref.URef()
		require.True(t, ok)
		require.Equal(t, types.AccessReadAddWrite, u.Rights())
		return nil
	}))
}

type moduleExecutor map[string]func(Host) error

func (m moduleExecutor) Execute(ctx *host.Context, _ []byte, entryPoint string) error {
	fn, ok := m[entryPoint]
	if !ok {
		return caperrors.ErrUnknownModule
	}
	rt := host.NewRuntime(ctx)
	return rt.Outcome(fn(rt))
}

func TestCallContractPassesArgsAndReturn(t *testing.T) {
	exec := moduleExecutor{
		"double": func(h Host) error {
			n, err := GetArg[types.Int32](h, 0)
			if err != nil {
				return err
			}
			return Ret(h, n*2)
		},
		"fail": func(h Host) error {
			return Revert(h, 3)
		},
	}
	e := newEnv(t, exec)
	var double, fail types.ContractRef
	require.NoError(t, e.run(t, 1, func(h Host) error {
		var err error
		if double, err = StoreFunctionAtHash(h, "double", nil); err != nil {
			return err
		}
		fail, err = StoreFunctionAtHash(h, "fail", nil)
		return err
	}))

	require.NoError(t, e.run(t, 2, func(h Host) error {
		ret, err := CallContract(h, double, types.Int32(21))
		require.NoError(t, err)
		got, err := types.CLInto[types.Int32](ret)
		require.NoError(t, err)
		require.Equal(t, types.Int32(42), got)
		return nil
	}))

	err := e.run(t, 3, func(h Host) error {
		_, err := CallContract(h, fail)
		return err
	})
	require.ErrorIs(t, err, caperrors.ErrRevert)
	var code caperrors.APIError
	require.ErrorAs(t, err, &code)
	require.Equal(t, caperrors.User(3), code)
}
