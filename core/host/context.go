// Package host implements the storage operations guest code calls: capability
// checked reads against a fixed snapshot, and writes, adds and mints that are
// only recorded in the execution's accumulator.
package host

import (
	"errors"
	"fmt"
	"log/slog"

	"capstore/core/effects"
	caperrors "capstore/core/errors"
	"capstore/core/globalstate"
	"capstore/core/types"
)

// MaxCallDepth bounds nested contract calls.
const MaxCallDepth = 32

// Executor runs stored code inside a prepared context. The engine supplies it;
// the host only needs it to service contract calls.
type Executor interface {
	Execute(ctx *Context, module []byte, entryPoint string) error
}

// Config seeds a top level context.
type Config struct {
	Snapshot    globalstate.Snapshot
	Accumulator *effects.Accumulator
	Addresses   *AddressGenerator
	Executor    Executor

	// Account is the deploying account; BaseKey is the key whose named keys
	// the context holds (the account itself at top level).
	Account   types.Address
	BaseKey   types.Key
	NamedKeys types.NamedKeys
	// Known lists capabilities held besides the named keys, such as the
	// account's main purse.
	Known []types.URef

	Args            []types.CLValue
	Module          []byte
	ProtocolVersion uint64
	Logger          *slog.Logger
}

// Context is the host side of one running entry point. Contract calls run in
// child contexts that share the snapshot, accumulator and address generator
// with their parent.
type Context struct {
	snapshot  globalstate.Snapshot
	acc       *effects.Accumulator
	addrs     *AddressGenerator
	executor  Executor
	account   types.Address
	baseKey   types.Key
	namedKeys types.NamedKeys
	known     map[types.Address]types.AccessRights
	args      []types.CLValue
	ret       *types.CLValue
	module    []byte
	version   uint64
	depth     int
	logger    *slog.Logger
}

func NewContext(cfg Config) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		snapshot:  cfg.Snapshot,
		acc:       cfg.Accumulator,
		addrs:     cfg.Addresses,
		executor:  cfg.Executor,
		account:   cfg.Account,
		baseKey:   cfg.BaseKey.Normalize(),
		namedKeys: cfg.NamedKeys.Clone(),
		known:     make(map[types.Address]types.AccessRights),
		args:      cfg.Args,
		module:    cfg.Module,
		version:   cfg.ProtocolVersion,
		logger:    logger,
	}
	for _, name := range c.namedKeys.Names() {
		c.learnKey(c.namedKeys[name])
	}
	for _, u := range cfg.Known {
		c.learn(u)
	}
	for _, arg := range cfg.Args {
		c.learnAll(types.ExtractURefs(arg))
	}
	return c
}

func (c *Context) BaseKey() types.Key             { return c.baseKey }
func (c *Context) Account() types.Address         { return c.account }
func (c *Context) Snapshot() globalstate.Snapshot { return c.snapshot }
func (c *Context) Depth() int                     { return c.depth }
func (c *Context) Logger() *slog.Logger           { return c.logger }

// NamedKeys returns a copy of the context's named keys.
func (c *Context) NamedKeys() types.NamedKeys { return c.namedKeys.Clone() }

func (c *Context) learn(u types.URef) {
	c.known[u.Addr()] = c.known[u.Addr()].Union(u.Rights())
}

func (c *Context) learnKey(k types.Key) {
	if u, ok := k.AsURef(); ok {
		c.learn(u)
	}
}

func (c *Context) learnAll(refs []types.URef) {
	for _, u := range refs {
		c.learn(u)
	}
}

// validateURef rejects references the context was never given, or that claim
// more rights than it was given.
func (c *Context) validateURef(u types.URef) error {
	held, ok := c.known[u.Addr()]
	if !ok || !held.Contains(u.Rights()) {
		return fmt.Errorf("%s: %w", u, caperrors.ErrForgedReference)
	}
	return nil
}

func (c *Context) validateKey(k types.Key) error {
	if u, ok := k.AsURef(); ok {
		return c.validateURef(u)
	}
	return nil
}

func (c *Context) validateValue(v types.Value) error {
	for _, u := range types.ExtractURefs(v) {
		if err := c.validateURef(u); err != nil {
			return err
		}
	}
	return nil
}

// Account keys may only be read or extended by their own context; contract
// hashes are public but immutable; URefs follow their rights. Local keys are
// only reachable through the local operations.
func (c *Context) isReadable(k types.Key) bool {
	switch k.Kind() {
	case types.KeyAccount:
		return k.Normalize() == c.baseKey
	case types.KeyHash:
		return true
	case types.KeyURef:
		u, _ := k.AsURef()
		return u.Rights().IsReadable()
	default:
		return false
	}
}

func (c *Context) isWriteable(k types.Key) bool {
	if u, ok := k.AsURef(); ok {
		return u.Rights().IsWriteable()
	}
	return false
}

func (c *Context) isAddable(k types.Key) bool {
	switch k.Kind() {
	case types.KeyAccount, types.KeyHash:
		return k.Normalize() == c.baseKey
	case types.KeyURef:
		u, _ := k.AsURef()
		return u.Rights().IsAddable()
	default:
		return false
	}
}

func (c *Context) checkAccess(op string, k types.Key, allowed func(types.Key) bool) error {
	if k.Kind() == types.KeyLocal {
		return fmt.Errorf("%s %s: %w", op, k, caperrors.ErrUnexpectedKeyVariant)
	}
	if err := c.validateKey(k); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !allowed(k) {
		return fmt.Errorf("%s %s: %w", op, k, caperrors.ErrInvalidAccess)
	}
	return nil
}

// readSnapshot reads k without learning anything from the stored value.
// Absent keys yield ok=false.
func (c *Context) readSnapshot(k types.Key) (types.Value, bool, error) {
	v, err := c.snapshot.Read(k)
	if errors.Is(err, caperrors.ErrValueNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// sharedURefs lists the capabilities a reader gains from a stored value.
// Account and contract records are excluded: their named keys belong to the
// record's own context, and hash-addressed contracts are readable by anyone.
func sharedURefs(v types.Value) []types.URef {
	switch val := v.(type) {
	case *types.Account, *types.Contract:
		return nil
	case types.CLValue:
		inner, err := val.Value()
		if err != nil {
			return nil
		}
		return sharedURefs(inner)
	default:
		return types.ExtractURefs(v)
	}
}

// readAndLearn reads k and learns the capabilities shared through its value.
func (c *Context) readAndLearn(k types.Key) (types.Value, bool, error) {
	v, ok, err := c.readSnapshot(k)
	if ok {
		c.learnAll(sharedURefs(v))
	}
	return v, ok, err
}

// Read returns the value under k at the context's snapshot. Writes made by
// this execution are not visible.
func (c *Context) Read(k types.Key) (types.Value, bool, error) {
	if err := c.checkAccess("read", k, c.isReadable); err != nil {
		return nil, false, err
	}
	return c.readAndLearn(k)
}

// Write records an unconditional overwrite of k.
func (c *Context) Write(k types.Key, v types.Value) error {
	if err := c.checkAccess("write", k, c.isWriteable); err != nil {
		return err
	}
	if err := c.validateValue(v); err != nil {
		return fmt.Errorf("write %s: %w", k, err)
	}
	return c.acc.Write(k, v)
}

// Add records a commutative addition to k. Values without an add rule are
// recorded as a failure for k and surface when the effects are committed.
func (c *Context) Add(k types.Key, v types.Value) error {
	if err := c.checkAccess("add", k, c.isAddable); err != nil {
		return err
	}
	if err := c.validateValue(v); err != nil {
		return fmt.Errorf("add %s: %w", k, err)
	}
	return c.acc.Add(k, v)
}

func (c *Context) localKey(keyBytes []byte) types.Key {
	return types.LocalKey(c.baseKey.Addr(), keyBytes)
}

// ReadLocal reads from the context's local partition.
func (c *Context) ReadLocal(keyBytes []byte) (types.Value, bool, error) {
	return c.readAndLearn(c.localKey(keyBytes))
}

// WriteLocal records a write to the context's local partition.
func (c *Context) WriteLocal(keyBytes []byte, v types.Value) error {
	if err := c.validateValue(v); err != nil {
		return fmt.Errorf("write local: %w", err)
	}
	return c.acc.Write(c.localKey(keyBytes), v)
}

// NewURef mints a fresh address seeded with v and returns a capability with
// every right over it.
func (c *Context) NewURef(v types.Value) (types.URef, error) {
	if err := c.validateValue(v); err != nil {
		return types.URef{}, fmt.Errorf("new uref: %w", err)
	}
	u := types.NewURef(c.addrs.Next(), types.AccessReadAddWrite)
	if err := c.acc.Write(types.URefKey(u), v); err != nil {
		return types.URef{}, err
	}
	c.learn(u)
	return u, nil
}

func (c *Context) newContract(entryPoint string, namedKeys types.NamedKeys) (*types.Contract, error) {
	if entryPoint == "" {
		return nil, fmt.Errorf("store function: empty entry point: %w", caperrors.ErrInvalidArgument)
	}
	for _, name := range namedKeys.Names() {
		if err := c.validateKey(namedKeys[name]); err != nil {
			return nil, fmt.Errorf("store function %q: named key %q: %w", entryPoint, name, err)
		}
	}
	return types.NewContract(c.module, entryPoint, namedKeys, c.version), nil
}

// StoreFunction stores entryPoint of the running module, with namedKeys, in a
// fresh mutable slot.
func (c *Context) StoreFunction(entryPoint string, namedKeys types.NamedKeys) (types.ContractRef, error) {
	contract, err := c.newContract(entryPoint, namedKeys)
	if err != nil {
		return types.ContractRef{}, err
	}
	u, err := c.NewURef(contract)
	if err != nil {
		return types.ContractRef{}, err
	}
	return types.ContractRefURef(u), nil
}

// StoreFunctionAtHash stores entryPoint under a fresh immutable hash key.
func (c *Context) StoreFunctionAtHash(entryPoint string, namedKeys types.NamedKeys) (types.ContractRef, error) {
	contract, err := c.newContract(entryPoint, namedKeys)
	if err != nil {
		return types.ContractRef{}, err
	}
	key := types.HashKey(c.addrs.Next())
	if err := c.acc.Write(key, contract); err != nil {
		return types.ContractRef{}, err
	}
	return types.ContractRefHash(key.Addr()), nil
}

// PutKey binds name to k in the context's named keys and records the binding
// against the base key.
func (c *Context) PutKey(name string, k types.Key) error {
	if name == "" {
		return fmt.Errorf("put key: empty name: %w", caperrors.ErrInvalidArgument)
	}
	if err := c.validateKey(k); err != nil {
		return fmt.Errorf("put key %q: %w", name, err)
	}
	if err := c.acc.Add(c.baseKey, types.NamedKey{Name: name, Key: k}); err != nil {
		return err
	}
	c.namedKeys[name] = k
	return nil
}

// GetKey looks name up in the context's named keys.
func (c *Context) GetKey(name string) (types.Key, bool) {
	k, ok := c.namedKeys[name]
	return k, ok
}

func (c *Context) ArgCount() int { return len(c.args) }

// Arg returns the i-th argument or ErrMissingArgument.
func (c *Context) Arg(i int) (types.CLValue, error) {
	if i < 0 || i >= len(c.args) {
		return types.CLValue{}, fmt.Errorf("arg %d of %d: %w", i, len(c.args), caperrors.ErrMissingArgument)
	}
	return c.args[i], nil
}

// SetReturn records the value handed back to the caller.
func (c *Context) SetReturn(v types.CLValue) error {
	inner, err := v.Value()
	if err != nil {
		return fmt.Errorf("ret: %w", err)
	}
	if err := c.validateValue(inner); err != nil {
		return fmt.Errorf("ret: %w", err)
	}
	c.ret = &v
	return nil
}

// Return is the value set with SetReturn, if any.
func (c *Context) Return() (types.CLValue, bool) {
	if c.ret == nil {
		return types.CLValue{}, false
	}
	return *c.ret, true
}

// CallContract runs a stored contract in a child context and returns its
// return value, Unit when it set none. Capabilities in the returned value
// become known to the caller with the rights they were returned with.
func (c *Context) CallContract(ref types.ContractRef, args []types.CLValue) (types.CLValue, error) {
	if c.depth+1 >= MaxCallDepth {
		return types.CLValue{}, fmt.Errorf("call %s: depth %d: %w", ref, c.depth+1, caperrors.ErrInvalidArgument)
	}
	key := ref.Key()
	if err := c.checkAccess("call", key, c.isReadable); err != nil {
		return types.CLValue{}, err
	}
	for i, arg := range args {
		inner, err := arg.Value()
		if err != nil {
			return types.CLValue{}, fmt.Errorf("call %s: arg %d: %w", ref, i, err)
		}
		if err := c.validateValue(inner); err != nil {
			return types.CLValue{}, fmt.Errorf("call %s: arg %d: %w", ref, i, err)
		}
	}
	v, ok, err := c.readSnapshot(key)
	if err != nil {
		return types.CLValue{}, err
	}
	contract, isContract := v.(*types.Contract)
	if !ok || !isContract {
		return types.CLValue{}, fmt.Errorf("call %s: %w", ref, caperrors.ErrNotAContract)
	}
	if c.executor == nil {
		return types.CLValue{}, fmt.Errorf("call %s: no executor: %w", ref, caperrors.ErrUnknownModule)
	}

	child := &Context{
		snapshot:  c.snapshot,
		acc:       c.acc,
		addrs:     c.addrs,
		executor:  c.executor,
		account:   c.account,
		baseKey:   key.Normalize(),
		namedKeys: contract.NamedKeys.Clone(),
		known:     make(map[types.Address]types.AccessRights),
		args:      args,
		module:    contract.Module,
		version:   contract.ProtocolVersion,
		depth:     c.depth + 1,
		logger:    c.logger.With(slog.String("contract", key.String())),
	}
	for _, name := range child.namedKeys.Names() {
		child.learnKey(child.namedKeys[name])
	}
	for _, arg := range args {
		child.learnAll(types.ExtractURefs(arg))
	}
	if err := c.executor.Execute(child, contract.Module, contract.EntryPoint); err != nil {
		return types.CLValue{}, fmt.Errorf("call %s: %w", ref, err)
	}
	ret, ok := child.Return()
	if !ok {
		ret = types.MustCLValue(types.Unit{})
	}
	c.learnAll(types.ExtractURefs(ret))
	return ret, nil
}
