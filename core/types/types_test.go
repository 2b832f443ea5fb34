package types

import (
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	caperrors "capstore/core/errors"
)

func addr(b byte) Address {
	var a Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestNarrowNeverWidens(t *testing.T) {
	all := []AccessRights{
		AccessNone, AccessRead, AccessWrite, AccessAdd,
		AccessReadWrite, AccessReadAdd, AccessAddWrite, AccessReadAddWrite,
	}
	for _, from := range all {
		for _, to := range all {
			u := NewURef(addr(1), from)
			narrowed, err := u.Narrow(to)
			if from.Contains(to) {
				require.NoError(t, err, "%s -> %s", from, to)
				require.Equal(t, to, narrowed.Rights())
				require.True(t, from.Contains(narrowed.Rights()))
				require.Equal(t, from, u.Rights(), "narrowing must not mutate the original")
			} else {
				require.ErrorIs(t, err, caperrors.ErrRightsWidened, "%s -> %s", from, to)
			}
		}
	}
}

func TestAccessRightsString(t *testing.T) {
	require.Equal(t, "READ_ADD_WRITE", AccessReadAddWrite.String())
	require.Equal(t, "READ", AccessRead.String())
	require.Equal(t, "NONE", AccessNone.String())
	for _, name := range []string{"READ", "ADD_WRITE", "READ_ADD_WRITE", "NONE"} {
		rights, err := ParseAccessRights(name)
		require.NoError(t, err)
		require.Equal(t, name, rights.String())
	}
}

func TestTURefFromKeyRequiresURef(t *testing.T) {
	u := NewURef(addr(2), AccessReadWrite)
	ref, err := TURefFromKey[String](URefKey(u))
	require.NoError(t, err)
	require.Equal(t, u, ref.URef())
	require.Equal(t, URefKey(u), ref.Key())

	_, err = TURefFromKey[String](AccountKey(addr(2)))
	require.ErrorIs(t, err, caperrors.ErrUnexpectedKeyVariant)
	_, err = TURefFromKey[String](HashKey(addr(2)))
	require.ErrorIs(t, err, caperrors.ErrUnexpectedKeyVariant)
}

func TestKeyNormalizeAndOrder(t *testing.T) {
	read := URefKey(NewURef(addr(3), AccessRead))
	write := URefKey(NewURef(addr(3), AccessWrite))
	require.NotEqual(t, read, write)
	require.Equal(t, read.Normalize(), write.Normalize())

	keys := []Key{
		LocalKey(addr(1), []byte("k")),
		URefKey(NewURef(addr(1), AccessRead)),
		HashKey(addr(9)),
		AccountKey(addr(5)),
		AccountKey(addr(1)),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	require.Equal(t, AccountKey(addr(1)), keys[0])
	require.Equal(t, AccountKey(addr(5)), keys[1])
	require.Equal(t, KeyHash, keys[2].Kind())
	require.Equal(t, KeyURef, keys[3].Kind())
	require.Equal(t, KeyLocal, keys[4].Kind())
	for i := range keys {
		require.Zero(t, keys[i].Compare(keys[i]))
	}
}

func TestLocalKeyDisjointFromGlobal(t *testing.T) {
	seed := addr(7)
	local := LocalKey(seed, seed[:])
	require.NotEqual(t, AccountKey(seed).Bytes(), local.Bytes())
	require.NotEqual(t, URefKey(NewURef(seed, AccessNone)).Bytes(), local.Bytes())
	require.Equal(t, local, LocalKey(seed, seed[:]))
	require.NotEqual(t, local, LocalKey(addr(8), seed[:]))
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	keys := []Key{
		AccountKey(addr(1)),
		HashKey(addr(2)),
		URefKey(NewURef(addr(3), AccessReadAdd)),
		LocalKey(addr(4), []byte("balance")),
	}
	for _, k := range keys {
		got, err := DecodeKey(k.Bytes())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
}

func TestKeyDecodeRejectsMalformed(t *testing.T) {
	badRights, err := rlp.EncodeToBytes([]interface{}{uint8(KeyURef), addr(1), uint8(0x80)})
	require.NoError(t, err)
	_, err = DecodeKey(badRights)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	trailing, err := rlp.EncodeToBytes([]interface{}{uint8(KeyAccount), addr(1), uint8(1)})
	require.NoError(t, err)
	_, err = DecodeKey(trailing)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	unknown, err := rlp.EncodeToBytes([]interface{}{uint8(9), addr(1)})
	require.NoError(t, err)
	_, err = DecodeKey(unknown)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)
}

func sampleValues(t *testing.T) []Value {
	t.Helper()
	big128, err := NewUInt128(new(uint256.Int).Lsh(uint256.NewInt(1), 127))
	require.NoError(t, err)
	max512, err := NewUInt512(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(1)))
	require.NoError(t, err)
	purse := NewURef(addr(0x10), AccessReadAddWrite)
	account := NewAccount(addr(0x11), NamedKeys{
		"mint": URefKey(NewURef(addr(0x12), AccessRead)),
		"a":    HashKey(addr(0x13)),
	}, purse)
	contract := NewContract([]byte("counter"), "call", NamedKeys{"count": URefKey(purse)}, 1)
	return []Value{
		Int32(-7),
		Int32(0),
		UInt64(1 << 40),
		UInt128From(99),
		big128,
		UInt256From(12345),
		UInt512From(0),
		max512,
		ByteArray{1, 2, 3},
		String("data"),
		String(""),
		ListInt32{-1, 0, 1},
		ListString{"a", "b"},
		NamedKey{Name: "x", Key: AccountKey(addr(1))},
		URefKey(purse),
		Unit{},
		account,
		contract,
		MustCLValue(UInt512From(10)),
		CLValueFromURef(purse),
	}
}

func TestValueRoundTrip(t *testing.T) {
	for _, v := range sampleValues(t) {
		enc, err := EncodeValue(v)
		require.NoError(t, err, "%s", v.Tag())
		got, err := DecodeValue(enc)
		require.NoError(t, err, "%s", v.Tag())
		require.Equal(t, v, got, "%s", v.Tag())
		require.True(t, Equal(v, got))
	}
}

func TestValueEncodingInjective(t *testing.T) {
	values := sampleValues(t)
	seen := make(map[string]Tag, len(values))
	for _, v := range values {
		enc := string(MustEncodeValue(v))
		prev, dup := seen[enc]
		require.False(t, dup, "%s collides with %s", v.Tag(), prev)
		seen[enc] = v.Tag()
	}
	require.False(t, Equal(Int32(1), UInt64(1)))
	require.False(t, Equal(String("1"), ByteArray("1")))
}

func TestDecodeValueRejectsMalformed(t *testing.T) {
	enc := MustEncodeValue(String("data"))
	_, err := DecodeValue(append(enc, 0x01))
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	_, err = DecodeValue([]byte{0xc2, 0x63, 0x80})
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	leadingZero, err := rlp.EncodeToBytes(envelope{Tag: uint8(TagUInt512), Payload: mustRLP(t, []byte{0, 1})})
	require.NoError(t, err)
	_, err = DecodeValue(leadingZero)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	tooWide, err := rlp.EncodeToBytes(envelope{Tag: uint8(TagUInt128), Payload: mustRLP(t, make17())})
	require.NoError(t, err)
	_, err = DecodeValue(tooWide)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	unsorted, err := rlp.EncodeToBytes([]NamedKey{{Name: "b", Key: AccountKey(addr(1))}, {Name: "a", Key: AccountKey(addr(1))}})
	require.NoError(t, err)
	badContract, err := rlp.EncodeToBytes([]interface{}{[]byte("m"), "call", rlp.RawValue(unsorted), uint64(1)})
	require.NoError(t, err)
	env, err := rlp.EncodeToBytes(envelope{Tag: uint8(TagContract), Payload: badContract})
	require.NoError(t, err)
	_, err = DecodeValue(env)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)
}

func TestAccountEncodingRejectsDuplicateAssociatedKeys(t *testing.T) {
	account := NewAccount(addr(0x11), nil, NewURef(addr(0x12), AccessReadAddWrite))
	account.AssociatedKeys = append(account.AssociatedKeys, AssociatedKey{PublicKey: addr(0x11), Weight: 2})
	_, err := EncodeValue(account)
	require.ErrorIs(t, err, caperrors.ErrMalformedEncoding)

	account.AssociatedKeys = []AssociatedKey{{PublicKey: addr(0x13), Weight: 1}, {PublicKey: addr(0x11), Weight: 1}}
	enc, err := EncodeValue(account)
	require.NoError(t, err)
	decoded, err := DecodeValue(enc)
	require.NoError(t, err)
	require.Equal(t, []AssociatedKey{{PublicKey: addr(0x11), Weight: 1}, {PublicKey: addr(0x13), Weight: 1}}, decoded.(*Account).AssociatedKeys)
}

func mustRLP(t *testing.T, v interface{}) []byte {
	t.Helper()
	enc, err := rlp.EncodeToBytes(v)
	require.NoError(t, err)
	return enc
}

func make17() []byte {
	out := make([]byte, 17)
	out[0] = 1
	return out
}

func TestAsReportsValueConversion(t *testing.T) {
	s, err := As[String](String("data"))
	require.NoError(t, err)
	require.Equal(t, String("data"), s)

	_, err = As[Int32](String("data"))
	require.ErrorIs(t, err, caperrors.ErrValueConversion)
	_, err = As[Int32](nil)
	require.ErrorIs(t, err, caperrors.ErrValueConversion)
}

func TestNumericAdd(t *testing.T) {
	require.Equal(t, Int32(-2147483648), Int32(2147483647).WrappingAdd(1))
	require.Equal(t, Int32(-2), Int32(-5).WrappingAdd(3))

	_, ok := UInt64(^uint64(0)).CheckedAdd(1)
	require.False(t, ok)

	top128, err := NewUInt128(new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1)))
	require.NoError(t, err)
	_, ok = top128.CheckedAdd(UInt128From(1))
	require.False(t, ok)

	_, ok = NewUInt256(new(uint256.Int).SetAllOne()).CheckedAdd(UInt256From(1))
	require.False(t, ok)

	s512, ok := UInt512From(10).CheckedAdd(UInt512From(5))
	require.True(t, ok)
	require.Equal(t, UInt512From(15), s512)
	max512, err := NewUInt512(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(1)))
	require.NoError(t, err)
	_, ok = max512.CheckedAdd(UInt512From(1))
	require.False(t, ok)
}

func TestExtractURefs(t *testing.T) {
	purse := NewURef(addr(0x20), AccessReadAddWrite)
	inner := NewURef(addr(0x21), AccessRead)
	account := NewAccount(addr(0x22), NamedKeys{"inner": URefKey(inner), "h": HashKey(addr(1))}, purse)
	require.ElementsMatch(t, []URef{inner, purse}, ExtractURefs(account))
	require.Equal(t, []URef{inner}, ExtractURefs(CLValueFromURef(inner)))
	require.Empty(t, ExtractURefs(String("no refs")))

	got, err := CLValueFromURef(inner).URef()
	require.NoError(t, err)
	require.Equal(t, inner, got)
}

func TestContractRefFromKey(t *testing.T) {
	ref, err := ContractRefFromKey(HashKey(addr(1)))
	require.NoError(t, err)
	require.Equal(t, HashKey(addr(1)), ref.Key())
	_, err = ContractRefFromKey(AccountKey(addr(1)))
	require.ErrorIs(t, err, caperrors.ErrUnexpectedKeyVariant)
}

func TestParseKey(t *testing.T) {
	u := NewURef(addr(0xab), AccessReadWrite)
	for _, k := range []Key{AccountKey(addr(1)), HashKey(addr(2)), URefKey(u)} {
		got, err := ParseKey(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	got, err := ParseKey("account:0x" + addr(3).Hex())
	require.NoError(t, err)
	require.Equal(t, AccountKey(addr(3)), got)
	_, err = ParseKey("purse-00")
	require.Error(t, err)
}
