// Package contract is the storage API as guest code sees it. Every call goes
// through Host as canonical byte encodings; values come back through the
// host buffer, which this package drains into buffers it owns.
package contract

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	caperrors "capstore/core/errors"
	"capstore/core/types"
)

// Host is the byte-level host interface. *host.Runtime implements it.
type Host interface {
	ReadHostBuffer(dst []byte) (int, caperrors.APIError)
	ReadValue(keyBytes []byte) (int, caperrors.APIError)
	ReadValueLocal(keyBytes []byte) (int, caperrors.APIError)
	Write(keyBytes, valueBytes []byte) caperrors.APIError
	WriteLocal(keyBytes, valueBytes []byte) caperrors.APIError
	Add(keyBytes, valueBytes []byte) caperrors.APIError
	NewURef(valueBytes []byte) (int, caperrors.APIError)
	StoreFunction(entryPoint string, namedKeysBytes []byte) (int, caperrors.APIError)
	StoreFunctionAtHash(entryPoint string, namedKeysBytes []byte) (int, caperrors.APIError)
	PutKey(name string, keyBytes []byte) caperrors.APIError
	GetKey(name string) (int, caperrors.APIError)
	ArgCount() uint32
	GetArg(i uint32) (int, caperrors.APIError)
	Ret(valueBytes []byte) caperrors.APIError
	CallContract(keyBytes, argsBytes []byte) (int, caperrors.APIError)
	Revert(code caperrors.APIError) caperrors.APIError
}

// Revert aborts the execution with a guest-defined code.
func Revert(h Host, code uint16) error {
	return h.Revert(caperrors.User(code))
}

func drain(h Host, size int, code caperrors.APIError) ([]byte, error) {
	if err := code.Result(); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, code := h.ReadHostBuffer(buf)
	if err := code.Result(); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func drainValue(h Host, size int, code caperrors.APIError) (types.Value, error) {
	raw, err := drain(h, size, code)
	if err != nil {
		return nil, err
	}
	return types.DecodeValue(raw)
}

func drainKey(h Host, size int, code caperrors.APIError) (types.Key, error) {
	v, err := drainValue(h, size, code)
	if err != nil {
		return types.Key{}, err
	}
	return types.As[types.Key](v)
}

func narrow[T types.Value](v types.Value, found bool, err error) (T, bool, error) {
	var zero T
	if err != nil || !found {
		return zero, false, err
	}
	out, err := types.As[T](v)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func readMiss(h Host, size int, code caperrors.APIError) (types.Value, bool, error) {
	if code == caperrors.APIValueNotFound {
		return nil, false, nil
	}
	v, err := drainValue(h, size, code)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Read returns the value under t. A missing value is (zero, false, nil); a
// value of another type fails with ErrValueConversion.
func Read[T types.Value](h Host, t types.TURef[T]) (T, bool, error) {
	size, code := h.ReadValue(t.Key().Bytes())
	v, found, err := readMiss(h, size, code)
	return narrow[T](v, found, err)
}

// ReadLocal reads the local partition under the encoding of key.
func ReadLocal[T types.Value](h Host, key types.Value) (T, bool, error) {
	keyBytes, err := types.EncodeValue(key)
	if err != nil {
		var zero T
		return zero, false, err
	}
	size, code := h.ReadValueLocal(keyBytes)
	v, found, err := readMiss(h, size, code)
	return narrow[T](v, found, err)
}

func Write[T types.Value](h Host, t types.TURef[T], value T) error {
	enc, err := types.EncodeValue(value)
	if err != nil {
		return err
	}
	return h.Write(t.Key().Bytes(), enc).Result()
}

// WriteLocal writes value into the local partition under the encoding of key.
func WriteLocal(h Host, key, value types.Value) error {
	keyBytes, err := types.EncodeValue(key)
	if err != nil {
		return err
	}
	enc, err := types.EncodeValue(value)
	if err != nil {
		return err
	}
	return h.WriteLocal(keyBytes, enc).Result()
}

func Add[T types.Value](h Host, t types.TURef[T], delta T) error {
	enc, err := types.EncodeValue(delta)
	if err != nil {
		return err
	}
	return h.Add(t.Key().Bytes(), enc).Result()
}

// AddKey adds to a key that is not a URef, such as the running contract's
// own hash.
func AddKey(h Host, key types.Key, delta types.Value) error {
	enc, err := types.EncodeValue(delta)
	if err != nil {
		return err
	}
	return h.Add(key.Bytes(), enc).Result()
}

// NewTURef mints a slot holding initial and returns a full-rights reference.
// A host answer that is not a URef fails with ErrUnexpectedKeyVariant.
func NewTURef[T types.Value](h Host, initial T) (types.TURef[T], error) {
	enc, err := types.EncodeValue(initial)
	if err != nil {
		return types.TURef[T]{}, err
	}
	size, code := h.NewURef(enc)
	key, err := drainKey(h, size, code)
	if err != nil {
		return types.TURef[T]{}, err
	}
	return types.TURefFromKey[T](key)
}

func storeFunction(h Host, entryPoint string, namedKeys types.NamedKeys, call func(string, []byte) (int, caperrors.APIError)) (types.ContractRef, error) {
	if namedKeys == nil {
		namedKeys = types.NamedKeys{}
	}
	named, err := rlp.EncodeToBytes(namedKeys)
	if err != nil {
		return types.ContractRef{}, err
	}
	size, code := call(entryPoint, named)
	key, err := drainKey(h, size, code)
	if err != nil {
		return types.ContractRef{}, err
	}
	return types.ContractRefFromKey(key)
}

// StoreFunction stores entryPoint of the running module in a new mutable
// slot.
func StoreFunction(h Host, entryPoint string, namedKeys types.NamedKeys) (types.ContractRef, error) {
	return storeFunction(h, entryPoint, namedKeys, h.StoreFunction)
}

// StoreFunctionAtHash stores entryPoint of the running module under a new
// immutable hash.
func StoreFunctionAtHash(h Host, entryPoint string, namedKeys types.NamedKeys) (types.ContractRef, error) {
	return storeFunction(h, entryPoint, namedKeys, h.StoreFunctionAtHash)
}

func PutKey(h Host, name string, key types.Key) error {
	return h.PutKey(name, key.Bytes()).Result()
}

// GetKey returns the key bound to name; a missing name is (zero, false, nil).
func GetKey(h Host, name string) (types.Key, bool, error) {
	size, code := h.GetKey(name)
	if code == caperrors.APINamedKeyMissing {
		return types.Key{}, false, nil
	}
	key, err := drainKey(h, size, code)
	if err != nil {
		return types.Key{}, false, err
	}
	return key, true, nil
}

// GetArg decodes the i-th argument as T.
func GetArg[T types.Value](h Host, i uint32) (T, error) {
	var zero T
	size, code := h.GetArg(i)
	v, err := drainValue(h, size, code)
	if err != nil {
		return zero, err
	}
	cl, err := types.As[types.CLValue](v)
	if err != nil {
		return zero, err
	}
	return types.CLInto[T](cl)
}

// Ret hands value back to the caller.
func Ret(h Host, value types.Value) error {
	cl, ok := value.(types.CLValue)
	if !ok {
		var err error
		if cl, err = types.CLValueFrom(value); err != nil {
			return err
		}
	}
	return h.Ret(types.MustEncodeValue(cl)).Result()
}

// CallContract runs ref with args and returns its result.
func CallContract(h Host, ref types.ContractRef, args ...types.Value) (types.CLValue, error) {
	cls := make([]types.CLValue, len(args))
	for i, a := range args {
		cl, err := types.CLValueFrom(a)
		if err != nil {
			return types.CLValue{}, fmt.Errorf("arg %d: %w", i, err)
		}
		cls[i] = cl
	}
	argBytes, err := types.EncodeCLValues(cls)
	if err != nil {
		return types.CLValue{}, err
	}
	size, code := h.CallContract(ref.Key().Bytes(), argBytes)
	v, err := drainValue(h, size, code)
	if err != nil {
		return types.CLValue{}, err
	}
	return types.As[types.CLValue](v)
}

// IsMissing reports whether err is a miss rather than a failure.
func IsMissing(err error) bool {
	return errors.Is(err, caperrors.ErrValueNotFound) || errors.Is(err, caperrors.ErrNamedKeyMissing)
}
