package host

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	caperrors "capstore/core/errors"
	"capstore/core/types"
	"capstore/observability/metrics"
)

// Runtime is the byte-level host surface guest code calls. Inputs are
// canonical encodings; outputs are staged in a single host buffer whose size
// is returned and which the guest drains with ReadHostBuffer into memory it
// owns.
//
// Every call returns an APIError. Misses (ValueNotFound, NamedKeyMissing,
// MissingArgument) are ordinary answers; any other failure is recorded as the
// runtime's fault and reverts the execution even if the guest ignores it.
type Runtime struct {
	ctx     *Context
	metrics *metrics.EngineMetrics

	buf    []byte
	hasBuf bool
	fault  error
}

// RuntimeOption customises a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeMetrics overrides the default metrics registry.
func WithRuntimeMetrics(m *metrics.EngineMetrics) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

func NewRuntime(ctx *Context, opts ...RuntimeOption) *Runtime {
	r := &Runtime{ctx: ctx, metrics: metrics.Engine()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Context is the host context behind the runtime.
func (r *Runtime) Context() *Context { return r.ctx }

// Fault is the first non-recoverable error raised through the runtime.
func (r *Runtime) Fault() error { return r.fault }

func isSoft(code caperrors.APIError) bool {
	switch code {
	case caperrors.APIOk, caperrors.APIValueNotFound, caperrors.APINamedKeyMissing, caperrors.APIMissingArgument:
		return true
	}
	return false
}

func (r *Runtime) finish(op string, err error) caperrors.APIError {
	code := caperrors.ToAPIError(err)
	r.metrics.IncHostCall(op, code.Name())
	if !isSoft(code) && r.fault == nil {
		r.fault = fmt.Errorf("%s: %w", op, err)
		r.ctx.logger.Debug("host call faulted", "op", op, "code", code.Name(), "error", err.Error())
	}
	return code
}

func (r *Runtime) stage(data []byte) (int, error) {
	if r.hasBuf {
		return 0, caperrors.ErrHostBufferFull
	}
	r.buf = data
	r.hasBuf = true
	return len(data), nil
}

func (r *Runtime) stageValue(v types.Value) (int, error) {
	enc, err := types.EncodeValue(v)
	if err != nil {
		return 0, err
	}
	return r.stage(enc)
}

// ReadHostBuffer copies the staged output into dst and clears the buffer.
func (r *Runtime) ReadHostBuffer(dst []byte) (int, caperrors.APIError) {
	n, err := r.readHostBuffer(dst)
	return n, r.finish("read_host_buffer", err)
}

func (r *Runtime) readHostBuffer(dst []byte) (int, error) {
	if !r.hasBuf {
		return 0, caperrors.ErrHostBufferEmpty
	}
	if len(dst) < len(r.buf) {
		return 0, fmt.Errorf("have %d, need %d: %w", len(dst), len(r.buf), caperrors.ErrBufferTooSmall)
	}
	n := copy(dst, r.buf)
	r.buf = nil
	r.hasBuf = false
	return n, nil
}

// ReadValue stages the value stored under the encoded key.
func (r *Runtime) ReadValue(keyBytes []byte) (int, caperrors.APIError) {
	n, err := r.readValue(keyBytes)
	return n, r.finish("read_value", err)
}

func (r *Runtime) readValue(keyBytes []byte) (int, error) {
	key, err := types.DecodeKey(keyBytes)
	if err != nil {
		return 0, err
	}
	v, ok, err := r.ctx.Read(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, caperrors.ErrValueNotFound
	}
	return r.stageValue(v)
}

// ReadValueLocal stages the value stored in the local partition under
// keyBytes.
func (r *Runtime) ReadValueLocal(keyBytes []byte) (int, caperrors.APIError) {
	n, err := r.readValueLocal(keyBytes)
	return n, r.finish("read_value_local", err)
}

func (r *Runtime) readValueLocal(keyBytes []byte) (int, error) {
	v, ok, err := r.ctx.ReadLocal(keyBytes)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, caperrors.ErrValueNotFound
	}
	return r.stageValue(v)
}

func decodeKeyValue(keyBytes, valueBytes []byte) (types.Key, types.Value, error) {
	key, err := types.DecodeKey(keyBytes)
	if err != nil {
		return types.Key{}, nil, err
	}
	v, err := types.DecodeValue(valueBytes)
	if err != nil {
		return types.Key{}, nil, err
	}
	return key, v, nil
}

func (r *Runtime) Write(keyBytes, valueBytes []byte) caperrors.APIError {
	key, v, err := decodeKeyValue(keyBytes, valueBytes)
	if err == nil {
		err = r.ctx.Write(key, v)
	}
	return r.finish("write", err)
}

func (r *Runtime) WriteLocal(keyBytes, valueBytes []byte) caperrors.APIError {
	v, err := types.DecodeValue(valueBytes)
	if err == nil {
		err = r.ctx.WriteLocal(keyBytes, v)
	}
	return r.finish("write_local", err)
}

func (r *Runtime) Add(keyBytes, valueBytes []byte) caperrors.APIError {
	key, v, err := decodeKeyValue(keyBytes, valueBytes)
	if err == nil {
		err = r.ctx.Add(key, v)
	}
	return r.finish("add", err)
}

// NewURef stages the key of a fresh slot seeded with the encoded value.
func (r *Runtime) NewURef(valueBytes []byte) (int, caperrors.APIError) {
	n, err := r.newURef(valueBytes)
	return n, r.finish("new_uref", err)
}

func (r *Runtime) newURef(valueBytes []byte) (int, error) {
	v, err := types.DecodeValue(valueBytes)
	if err != nil {
		return 0, err
	}
	u, err := r.ctx.NewURef(v)
	if err != nil {
		return 0, err
	}
	return r.stageValue(types.URefKey(u))
}

func decodeNamedKeys(data []byte) (types.NamedKeys, error) {
	var named types.NamedKeys
	if len(data) == 0 {
		return types.NamedKeys{}, nil
	}
	if err := rlp.DecodeBytes(data, &named); err != nil {
		return nil, fmt.Errorf("named keys: %w: %v", caperrors.ErrMalformedEncoding, err)
	}
	return named, nil
}

// StoreFunction stages the key of a new mutable contract slot. namedKeysBytes
// is the RLP encoding of the contract's named keys.
func (r *Runtime) StoreFunction(entryPoint string, namedKeysBytes []byte) (int, caperrors.APIError) {
	n, err := r.storeFunction(entryPoint, namedKeysBytes, r.ctx.StoreFunction)
	return n, r.finish("store_function", err)
}

// StoreFunctionAtHash stages the key of a new immutable contract.
func (r *Runtime) StoreFunctionAtHash(entryPoint string, namedKeysBytes []byte) (int, caperrors.APIError) {
	n, err := r.storeFunction(entryPoint, namedKeysBytes, r.ctx.StoreFunctionAtHash)
	return n, r.finish("store_function_at_hash", err)
}

func (r *Runtime) storeFunction(entryPoint string, namedKeysBytes []byte, store func(string, types.NamedKeys) (types.ContractRef, error)) (int, error) {
	named, err := decodeNamedKeys(namedKeysBytes)
	if err != nil {
		return 0, err
	}
	ref, err := store(entryPoint, named)
	if err != nil {
		return 0, err
	}
	return r.stageValue(ref.Key())
}

func (r *Runtime) PutKey(name string, keyBytes []byte) caperrors.APIError {
	key, err := types.DecodeKey(keyBytes)
	if err == nil {
		err = r.ctx.PutKey(name, key)
	}
	return r.finish("put_key", err)
}

// GetKey stages the key bound to name.
func (r *Runtime) GetKey(name string) (int, caperrors.APIError) {
	n, err := r.getKey(name)
	return n, r.finish("get_key", err)
}

func (r *Runtime) getKey(name string) (int, error) {
	key, ok := r.ctx.GetKey(name)
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, caperrors.ErrNamedKeyMissing)
	}
	return r.stageValue(key)
}

// ArgCount is the number of arguments the running entry point received.
func (r *Runtime) ArgCount() uint32 { return uint32(r.ctx.ArgCount()) }

// GetArg stages the i-th argument as an encoded CLValue.
func (r *Runtime) GetArg(i uint32) (int, caperrors.APIError) {
	n, err := r.getArg(i)
	return n, r.finish("get_arg", err)
}

func (r *Runtime) getArg(i uint32) (int, error) {
	arg, err := r.ctx.Arg(int(i))
	if err != nil {
		return 0, err
	}
	return r.stageValue(arg)
}

// Ret sets the return value from an encoded CLValue.
func (r *Runtime) Ret(valueBytes []byte) caperrors.APIError {
	return r.finish("ret", r.ret(valueBytes))
}

func (r *Runtime) ret(valueBytes []byte) error {
	v, err := types.DecodeValue(valueBytes)
	if err != nil {
		return err
	}
	cl, err := types.As[types.CLValue](v)
	if err != nil {
		return err
	}
	return r.ctx.SetReturn(cl)
}

// CallContract runs the contract under the encoded key with the encoded
// argument list and stages its return value.
func (r *Runtime) CallContract(keyBytes, argsBytes []byte) (int, caperrors.APIError) {
	n, err := r.callContract(keyBytes, argsBytes)
	return n, r.finish("call_contract", err)
}

func (r *Runtime) callContract(keyBytes, argsBytes []byte) (int, error) {
	key, err := types.DecodeKey(keyBytes)
	if err != nil {
		return 0, err
	}
	ref, err := types.ContractRefFromKey(key)
	if err != nil {
		return 0, err
	}
	args, err := types.DecodeCLValues(argsBytes)
	if err != nil {
		return 0, err
	}
	ret, err := r.ctx.CallContract(ref, args)
	if err != nil {
		return 0, err
	}
	return r.stageValue(ret)
}

// Revert aborts the execution with code. A zero code still reverts.
func (r *Runtime) Revert(code caperrors.APIError) caperrors.APIError {
	if code == caperrors.APIOk {
		code = caperrors.APIUnhandled
	}
	if r.fault == nil {
		r.fault = fmt.Errorf("revert: %w", code)
	}
	r.metrics.IncHostCall("revert", code.Name())
	return code
}

// Outcome folds the guest's own result into the runtime fault: a recorded
// fault wins, since the guest may have swallowed it.
func (r *Runtime) Outcome(guestErr error) error {
	if r.fault != nil {
		return r.fault
	}
	if guestErr == nil {
		return nil
	}
	var code caperrors.APIError
	if errors.As(guestErr, &code) {
		return guestErr
	}
	return fmt.Errorf("%w: %w", caperrors.ErrRevert, guestErr)
}
