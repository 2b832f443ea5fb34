package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	caperrors "capstore/core/errors"
	"capstore/core/genesis"
	"capstore/core/globalstate"
	"capstore/core/journal"
	"capstore/core/types"
	"capstore/sdk/contract"
	"capstore/storage"
)

var (
	systemAccount = types.Address{0xFF}
	alice         = types.Address{0x01}
	bob           = types.Address{0x02}
	sessionCode   = []byte("test-session")
)

type harness struct {
	t      *testing.T
	engine *Engine
	state  *globalstate.TrieState
	root   common.Hash
}

func newHarness(t *testing.T, entries map[string]EntryPoint, opts ...Option) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	state, err := globalstate.NewTrieState(db)
	require.NoError(t, err)
	e, err := New(state, opts...)
	require.NoError(t, err)
	if entries != nil {
		_, err = e.Registry().Register(&Module{Name: "session", Code: sessionCode, EntryPoints: entries})
		require.NoError(t, err)
	}
	res, err := e.RunGenesis(context.Background(), genesis.Config{
		SystemAccount:   systemAccount,
		ProtocolVersion: 1,
		Accounts: []genesis.GenesisAccount{
			{PublicKey: alice, Balance: types.UInt512From(1000), BondedAmount: types.UInt512From(10)},
			{PublicKey: bob, Balance: types.UInt512From(500)},
		},
	})
	require.NoError(t, err)
	return &harness{t: t, engine: e, state: state, root: res.Root}
}

// deploy runs entry as alice and commits it when it succeeds.
func (h *harness) deploy(entry string, args ...types.Value) *ExecutionResult {
	h.t.Helper()
	cls := make([]types.CLValue, len(args))
	for i, a := range args {
		cls[i] = types.MustCLValue(a)
	}
	res, err := h.engine.Exec(context.Background(), h.root, Deploy{
		Account:    alice,
		Session:    sessionCode,
		EntryPoint: entry,
		Args:       cls,
	})
	require.NoError(h.t, err)
	if res.Err == nil {
		commit, err := h.engine.CommitExecution(context.Background(), res)
		require.NoError(h.t, err)
		h.root = commit.PostState
	}
	return res
}

func (h *harness) named(name string) types.Key {
	h.t.Helper()
	v, err := h.engine.Query(h.root, types.AccountKey(alice), nil)
	require.NoError(h.t, err)
	key, ok := v.(*types.Account).NamedKeys[name]
	require.True(h.t, ok, "alice has no %q", name)
	return key
}

func namedRef[T types.Value](h contract.Host, name string) (types.TURef[T], error) {
	key, ok, err := contract.GetKey(h, name)
	if err != nil {
		return types.TURef[T]{}, err
	}
	if !ok {
		return types.TURef[T]{}, caperrors.ErrNamedKeyMissing
	}
	return types.TURefFromKey[T](key)
}

func TestGenesisBalancesAndLayout(t *testing.T) {
	h := newHarness(t, nil)

	purse, err := h.engine.MainPurse(h.root, alice)
	require.NoError(t, err)
	balance, err := h.engine.PurseBalance(h.root, purse)
	require.NoError(t, err)
	require.Equal(t, types.UInt512From(1000), balance)

	mint, err := h.engine.Query(h.root, types.AccountKey(systemAccount), []string{genesis.MintName})
	require.NoError(t, err)
	require.Equal(t, MintCode, mint.(*types.Contract).Module)

	bonded, err := h.engine.BondedValidators(h.root)
	require.NoError(t, err)
	require.Equal(t, map[types.Address]types.UInt512{alice: types.UInt512From(10)}, bonded)

	_, err = h.engine.RunGenesis(context.Background(), genesis.Config{SystemAccount: systemAccount})
	require.ErrorIs(t, err, caperrors.ErrAlreadyInitialized)
}

func TestCounterAddsAcrossCommits(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{
		"init": func(host contract.Host) error {
			ref, err := contract.NewTURef(host, types.UInt512From(10))
			if err != nil {
				return err
			}
			return contract.PutKey(host, "counter", ref.Key())
		},
		"inc": func(host contract.Host) error {
			ref, err := namedRef[types.UInt512](host, "counter")
			if err != nil {
				return err
			}
			return contract.Add(host, ref, types.UInt512From(5))
		},
	})
	require.NoError(t, h.deploy("init").Err)
	require.NoError(t, h.deploy("inc").Err)

	got, err := h.engine.Query(h.root, types.AccountKey(alice), []string{"counter"})
	require.NoError(t, err)
	require.Equal(t, types.UInt512From(15), got)
}

func TestReadOnlyCapabilityFromContract(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{
		"issue": func(host contract.Host) error {
			ref, err := contract.NewTURef(host, types.String("data"))
			if err != nil {
				return err
			}
			readOnly, err := ref.Narrow(types.AccessRead)
			if err != nil {
				return err
			}
			return contract.Ret(host, readOnly.Key())
		},
		"install": func(host contract.Host) error {
			ref, err := contract.StoreFunctionAtHash(host, "issue", nil)
			if err != nil {
				return err
			}
			return contract.PutKey(host, "issuer", ref.Key())
		},
		"take": func(host contract.Host) error {
			key, _, err := contract.GetKey(host, "issuer")
			if err != nil {
				return err
			}
			ref, err := types.ContractRefFromKey(key)
			if err != nil {
				return err
			}
			ret, err := contract.CallContract(host, ref)
			if err != nil {
				return err
			}
			u, err := ret.URef()
			if err != nil {
				return err
			}
			if err := contract.PutKey(host, "issued", types.URefKey(u)); err != nil {
				return err
			}
			return contract.Write(host, types.TURefFromURef[types.String](u), types.String("changed"))
		},
		"keep": func(host contract.Host) error {
			key, _, err := contract.GetKey(host, "issuer")
			if err != nil {
				return err
			}
			ref, err := types.ContractRefFromKey(key)
			if err != nil {
				return err
			}
			ret, err := contract.CallContract(host, ref)
			if err != nil {
				return err
			}
			u, err := ret.URef()
			if err != nil {
				return err
			}
			return contract.PutKey(host, "issued", types.URefKey(u))
		},
	})
	require.NoError(t, h.deploy("install").Err)

	before := h.root
	res := h.deploy("take")
	require.ErrorIs(t, res.Err, caperrors.ErrInvalidAccess)
	require.Empty(t, res.Effects)
	require.Equal(t, before, h.root)

	require.NoError(t, h.deploy("keep").Err)
	issued := h.named("issued")
	u, ok := issued.AsURef()
	require.True(t, ok)
	require.Equal(t, types.AccessRead, u.Rights())
	got, err := h.engine.Query(h.root, types.AccountKey(alice), []string{"issued"})
	require.NoError(t, err)
	require.Equal(t, types.String("data"), got)
}

func TestStoredContractCallsThroughNamedKey(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{
		"bump": func(host contract.Host) error {
			ref, err := namedRef[types.Int32](host, "slot")
			if err != nil {
				return err
			}
			return contract.Add(host, ref, types.Int32(1))
		},
		"install": func(host contract.Host) error {
			slot, err := contract.NewTURef(host, types.Int32(0))
			if err != nil {
				return err
			}
			ref, err := contract.StoreFunctionAtHash(host, "bump", types.NamedKeys{"slot": slot.Key()})
			if err != nil {
				return err
			}
			return contract.PutKey(host, "bumper", ref.Key())
		},
		"call": func(host contract.Host) error {
			key, _, err := contract.GetKey(host, "bumper")
			if err != nil {
				return err
			}
			ref, err := types.ContractRefFromKey(key)
			if err != nil {
				return err
			}
			_, err = contract.CallContract(host, ref)
			return err
		},
	})
	require.NoError(t, h.deploy("install").Err)
	require.NoError(t, h.deploy("call").Err)
	require.NoError(t, h.deploy("call").Err)

	bumper := h.named("bumper")
	require.Equal(t, types.KeyHash, bumper.Kind())
	got, err := h.engine.Query(h.root, types.AccountKey(alice), []string{"bumper", "slot"})
	require.NoError(t, err)
	require.Equal(t, types.Int32(2), got)
}

func mintRef(host contract.Host) (types.ContractRef, error) {
	key, _, err := contract.GetKey(host, genesis.MintName)
	if err != nil {
		return types.ContractRef{}, err
	}
	return types.ContractRefFromKey(key)
}

func TestMintTransferBetweenPurses(t *testing.T) {
	var mainPurse types.URef
	h := newHarness(t, map[string]EntryPoint{
		"open": func(host contract.Host) error {
			mint, err := mintRef(host)
			if err != nil {
				return err
			}
			ret, err := contract.CallContract(host, mint, types.String("create"))
			if err != nil {
				return err
			}
			purse, err := ret.URef()
			if err != nil {
				return err
			}
			return contract.PutKey(host, "savings", types.URefKey(purse))
		},
		"save": func(host contract.Host) error {
			amount, err := contract.GetArg[types.UInt512](host, 0)
			if err != nil {
				return err
			}
			mint, err := mintRef(host)
			if err != nil {
				return err
			}
			savings, _, err := contract.GetKey(host, "savings")
			if err != nil {
				return err
			}
			_, err = contract.CallContract(host, mint, types.String("transfer"), types.URefKey(mainPurse), savings, amount)
			return err
		},
	})
	var err error
	mainPurse, err = h.engine.MainPurse(h.root, alice)
	require.NoError(t, err)

	require.NoError(t, h.deploy("open").Err)
	require.NoError(t, h.deploy("save", types.UInt512From(100)).Err)

	balance, err := h.engine.PurseBalance(h.root, mainPurse)
	require.NoError(t, err)
	require.Equal(t, types.UInt512From(900), balance)
	savings, ok := h.named("savings").AsURef()
	require.True(t, ok)
	balance, err = h.engine.PurseBalance(h.root, savings)
	require.NoError(t, err)
	require.Equal(t, types.UInt512From(100), balance)

	res := h.deploy("save", types.UInt512From(10_000))
	require.ErrorIs(t, res.Err, caperrors.ErrRevert)
	var code caperrors.APIError
	require.ErrorAs(t, res.Err, &code)
	require.Equal(t, caperrors.User(MintErrInsufficientFunds), code)
}

func TestBondProjectsValidators(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{
		"bond": func(host contract.Host) error {
			key, _, err := contract.GetKey(host, genesis.PoSName)
			if err != nil {
				return err
			}
			pos, err := types.ContractRefFromKey(key)
			if err != nil {
				return err
			}
			_, err = contract.CallContract(host, pos, types.String("bond"), types.ByteArray(bob[:]), types.UInt512From(25))
			return err
		},
	})
	res, err := h.engine.Exec(context.Background(), h.root, Deploy{Account: alice, Session: sessionCode, EntryPoint: "bond"})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	commit, err := h.engine.CommitExecution(context.Background(), res)
	require.NoError(t, err)
	require.Equal(t, map[types.Address]types.UInt512{
		alice: types.UInt512From(10),
		bob:   types.UInt512From(25),
	}, commit.BondedValidators)
}

func TestRevertDiscardsEffects(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{
		"fail": func(host contract.Host) error {
			if _, err := contract.NewTURef(host, types.Int32(1)); err != nil {
				return err
			}
			return contract.Revert(host, 9)
		},
		"panic": func(host contract.Host) error {
			panic("boom")
		},
	})
	res := h.deploy("fail")
	var code caperrors.APIError
	require.ErrorAs(t, res.Err, &code)
	require.Equal(t, caperrors.User(9), code)
	require.Empty(t, res.Effects)
	require.Nil(t, res.Return)

	res = h.deploy("panic")
	require.ErrorIs(t, res.Err, caperrors.ErrRevert)

	_, err := h.engine.CommitExecution(context.Background(), res)
	require.ErrorIs(t, err, caperrors.ErrRevert)
}

func TestFailedTransformBlocksCommit(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{
		"init": func(host contract.Host) error {
			ref, err := contract.NewTURef(host, types.String("text"))
			if err != nil {
				return err
			}
			return contract.PutKey(host, "text", ref.Key())
		},
		"mix": func(host contract.Host) error {
			ref, err := namedRef[types.String](host, "text")
			if err != nil {
				return err
			}
			if _, err := contract.NewTURef(host, types.Int32(5)); err != nil {
				return err
			}
			return contract.Add(host, ref, types.String("more"))
		},
	})
	require.NoError(t, h.deploy("init").Err)

	res, err := h.engine.Exec(context.Background(), h.root, Deploy{Account: alice, Session: sessionCode, EntryPoint: "mix"})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, res.Effects.Failures(), 1)

	_, err = h.engine.CommitExecution(context.Background(), res)
	require.ErrorIs(t, err, caperrors.ErrCommitFailure)
	require.ErrorIs(t, err, caperrors.ErrTypeMismatch)

	got, err := h.engine.Query(h.root, types.AccountKey(alice), []string{"text"})
	require.NoError(t, err)
	require.Equal(t, types.String("text"), got)
}

func TestExecPreconditions(t *testing.T) {
	h := newHarness(t, map[string]EntryPoint{"noop": func(contract.Host) error { return nil }})

	res, err := h.engine.Exec(context.Background(), h.root, Deploy{Account: types.Address{0x77}, Session: sessionCode, EntryPoint: "noop"})
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, caperrors.ErrAccountMissing)

	res, err = h.engine.Exec(context.Background(), h.root, Deploy{Account: alice, Session: []byte("unknown"), EntryPoint: "noop"})
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, caperrors.ErrUnknownModule)

	_, err = h.engine.Exec(context.Background(), common.HexToHash("0xbad"), Deploy{Account: alice})
	require.ErrorIs(t, err, caperrors.ErrRootNotFound)
}

func TestQueryMissingName(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Query(h.root, types.AccountKey(alice), []string{"nothing"})
	require.ErrorIs(t, err, caperrors.ErrNamedKeyMissing)
}

func TestJournalRestoresSystemContracts(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(filepath.Join(dir, "state"))
	require.NoError(t, err)
	j, err := journal.Open(filepath.Join(dir, "journal.db"), nil)
	require.NoError(t, err)
	state, err := globalstate.NewTrieState(db)
	require.NoError(t, err)
	e, err := New(state, WithJournal(j))
	require.NoError(t, err)
	res, err := e.RunGenesis(context.Background(), genesis.Config{
		SystemAccount: systemAccount,
		Accounts:      []genesis.GenesisAccount{{PublicKey: alice, Balance: types.UInt512From(7)}},
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	db.Close()

	db, err = storage.NewLevelDB(filepath.Join(dir, "state"))
	require.NoError(t, err)
	defer db.Close()
	j, err = journal.Open(filepath.Join(dir, "journal.db"), nil)
	require.NoError(t, err)
	defer j.Close()
	state, err = globalstate.NewTrieState(db)
	require.NoError(t, err)
	e, err = New(state, WithJournal(j))
	require.NoError(t, err)

	system, ok := e.System()
	require.True(t, ok)
	require.Equal(t, res.Mint, system.Mint)
	head, err := j.Head()
	require.NoError(t, err)
	require.Equal(t, res.Root, head)

	purse, err := e.MainPurse(head, alice)
	require.NoError(t, err)
	balance, err := e.PurseBalance(head, purse)
	require.NoError(t, err)
	require.Equal(t, types.UInt512From(7), balance)
}
