package journal

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"capstore/core/types"
)

func openJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path, nil)
	require.NoError(t, err)
	return j
}

func TestJournalLineage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j := openJournal(t, path)

	_, err := j.Head()
	require.ErrorIs(t, err, ErrNoGenesis)

	gen := GenesisRecord{
		Root:          common.HexToHash("0x01"),
		SystemAccount: types.Address{0xFF},
		Mint:          types.NewURef(types.Address{1}, types.AccessReadAddWrite),
		PoS:           types.NewURef(types.Address{2}, types.AccessReadAddWrite),
	}
	require.NoError(t, j.RecordGenesis(gen))
	require.ErrorIs(t, j.RecordGenesis(gen), ErrGenesisExists)

	head, err := j.Head()
	require.NoError(t, err)
	require.Equal(t, gen.Root, head)

	first, err := j.AppendCommit(gen.Root, common.HexToHash("0x02"), "exec-1", 3)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Seq)
	second, err := j.AppendCommit(common.HexToHash("0x02"), common.HexToHash("0x03"), "", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Seq)
	require.NoError(t, j.Close())

	j = openJournal(t, path)
	defer j.Close()
	loaded, err := j.Genesis()
	require.NoError(t, err)
	require.Equal(t, gen.Mint, loaded.Mint)
	require.Equal(t, gen.SystemAccount, loaded.SystemAccount)

	head, err = j.Head()
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x03"), head)

	var seen []CommitRecord
	require.NoError(t, j.Commits(func(rec CommitRecord) bool {
		seen = append(seen, rec)
		return true
	}))
	require.Len(t, seen, 2)
	require.Equal(t, "exec-1", seen[0].ExecutionID)
	require.Equal(t, gen.Root, seen[0].Prestate)
}
