// Package engine runs deploys against global state: it executes code in a
// capability-checked host context, hands the resulting effects back, and
// commits them on request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"lukechampine.com/blake3"

	"capstore/core/effects"
	caperrors "capstore/core/errors"
	"capstore/core/genesis"
	"capstore/core/globalstate"
	"capstore/core/host"
	"capstore/core/journal"
	"capstore/core/types"
	"capstore/observability/metrics"
)

// Deploy is a request to run session code as an account.
type Deploy struct {
	Account    types.Address
	Session    []byte
	EntryPoint string
	Args       []types.CLValue
	Timestamp  uint64
}

// Hash binds the deploy to the state it runs against; it seeds every address
// the deploy creates.
func (d Deploy) Hash(prestate common.Hash) ([32]byte, error) {
	raw, err := rlp.EncodeToBytes(d)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode deploy: %w", err)
	}
	return blake3.Sum256(append(raw, prestate.Bytes()...)), nil
}

// ExecutionResult is the outcome of one deploy. On failure Effects is empty
// and Err classifies what went wrong.
type ExecutionResult struct {
	ID       string
	Prestate common.Hash
	Effects  effects.Effects
	Return   *types.CLValue
	Err      error
	Duration time.Duration
}

// GenesisResult is the first committed state.
type GenesisResult struct {
	Root    common.Hash
	Effects effects.Effects
	Mint    types.URef
	PoS     types.URef
}

// CommitResult is a committed effect map and what it projects.
type CommitResult struct {
	PostState        common.Hash
	BondedValidators map[types.Address]types.UInt512
}

// SystemContracts are the constants resolved at genesis.
type SystemContracts struct {
	Account         types.Address
	Mint            types.URef
	PoS             types.URef
	ProtocolVersion uint64
}

// Engine is safe for concurrent use. Executions run in parallel against
// snapshots; commits are serialized by the state provider.
type Engine struct {
	state    globalstate.StateProvider
	registry *Registry
	journal  *journal.Journal
	logger   *slog.Logger
	metrics  *metrics.EngineMetrics
	tracer   trace.Tracer

	mu     sync.RWMutex
	system *SystemContracts
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithJournal records root lineage in j and restores system contracts from it.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithRegistry replaces the module registry. System modules are registered
// into it.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithSystemContracts sets the system constants of an already initialized
// state.
func WithSystemContracts(s SystemContracts) Option {
	return func(e *Engine) { e.system = &s }
}

func New(state globalstate.StateProvider, opts ...Option) (*Engine, error) {
	e := &Engine{
		state:    state,
		registry: NewRegistry(),
		logger:   slog.Default(),
		metrics:  metrics.Engine(),
		tracer:   otel.Tracer("capstore/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	for _, m := range SystemModules() {
		if _, err := e.registry.Register(m); err != nil {
			return nil, err
		}
	}
	if e.system == nil && e.journal != nil {
		gen, err := e.journal.Genesis()
		switch {
		case err == nil:
			e.system = &SystemContracts{Account: gen.SystemAccount, Mint: gen.Mint, PoS: gen.PoS, ProtocolVersion: gen.ProtocolVersion}
		case !errors.Is(err, journal.ErrNoGenesis):
			return nil, fmt.Errorf("load genesis: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) Registry() *Registry { return e.registry }

// System returns the system constants, if genesis has run.
func (e *Engine) System() (SystemContracts, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.system == nil {
		return SystemContracts{}, false
	}
	return *e.system, true
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RunGenesis installs the system account, system contracts and funded
// accounts as the first commit. Empty module fields default to the built-in
// system modules.
func (e *Engine) RunGenesis(ctx context.Context, cfg genesis.Config) (res *GenesisResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.genesis",
		trace.WithAttributes(attribute.Int("accounts", len(cfg.Accounts))))
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.system != nil {
		return nil, caperrors.ErrAlreadyInitialized
	}
	if len(cfg.MintModule) == 0 {
		cfg.MintModule = MintCode
	}
	if len(cfg.PoSModule) == 0 {
		cfg.PoSModule = PoSCode
	}
	installed, err := genesis.Install(cfg)
	if err != nil {
		return nil, err
	}
	root, err := e.state.Commit(ctx, e.state.EmptyRoot(), installed.Effects)
	if err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	system := &SystemContracts{
		Account:         cfg.SystemAccount,
		Mint:            installed.Mint,
		PoS:             installed.PoS,
		ProtocolVersion: cfg.ProtocolVersion,
	}
	if e.journal != nil {
		if err := e.journal.RecordGenesis(journal.GenesisRecord{
			Root:            root,
			SystemAccount:   system.Account,
			Mint:            system.Mint,
			PoS:             system.PoS,
			ProtocolVersion: system.ProtocolVersion,
		}); err != nil {
			return nil, fmt.Errorf("journal genesis: %w", err)
		}
	}
	e.system = system
	e.logger.Info("genesis committed",
		slog.String("root", root.Hex()),
		slog.Int("keys", len(installed.Effects)),
	)
	return &GenesisResult{Root: root, Effects: installed.Effects, Mint: installed.Mint, PoS: installed.PoS}, nil
}

// Execute implements host.Executor by running a registered module's entry
// point over a fresh runtime.
func (e *Engine) Execute(ctx *host.Context, code []byte, entryPoint string) (err error) {
	m, err := e.registry.Lookup(code)
	if err != nil {
		return err
	}
	fn, ok := m.EntryPoints[entryPoint]
	if !ok {
		return fmt.Errorf("module %q entry point %q: %w", m.Name, entryPoint, caperrors.ErrUnknownModule)
	}
	rt := host.NewRuntime(ctx, host.WithRuntimeMetrics(e.metrics))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: module %q panicked: %v", caperrors.ErrRevert, m.Name, r)
		}
	}()
	return rt.Outcome(fn(rt))
}

// Exec runs d against prestate. Failures of the deploy itself are reported in
// the result; the returned error is reserved for problems outside the deploy,
// such as an unknown prestate.
func (e *Engine) Exec(ctx context.Context, prestate common.Hash, d Deploy) (*ExecutionResult, error) {
	id := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "engine.exec", trace.WithAttributes(
		attribute.String("execution.id", id),
		attribute.String("prestate", prestate.Hex()),
		attribute.String("entry_point", d.EntryPoint),
	))
	start := time.Now()
	res := &ExecutionResult{ID: id, Prestate: prestate, Effects: effects.Effects{}}

	snap, err := e.state.Checkout(prestate)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	res.Err = e.run(ctx, snap, d, res)
	res.Duration = time.Since(start)
	e.metrics.ObserveExecution(res.Err, len(res.Effects), res.Duration)
	endSpan(span, res.Err)

	logger := e.logger.With(slog.String("execution_id", id))
	if res.Err != nil {
		logger.Info("deploy reverted", slog.String("error", res.Err.Error()))
	} else {
		logger.Debug("deploy executed", slog.Int("keys", len(res.Effects)))
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, snap globalstate.Snapshot, d Deploy, res *ExecutionResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := snap.Read(types.AccountKey(d.Account))
	if errors.Is(err, caperrors.ErrValueNotFound) {
		return fmt.Errorf("account %s: %w", d.Account.Hex(), caperrors.ErrAccountMissing)
	}
	if err != nil {
		return err
	}
	account, err := types.As[*types.Account](v)
	if err != nil {
		return fmt.Errorf("account %s: %w", d.Account.Hex(), err)
	}
	seed, err := d.Hash(snap.Root())
	if err != nil {
		return err
	}

	named := account.NamedKeys.Clone()
	var version uint64
	if system, ok := e.System(); ok {
		version = system.ProtocolVersion
		for name, u := range map[string]types.URef{genesis.MintName: system.Mint, genesis.PoSName: system.PoS} {
			if _, taken := named[name]; taken {
				continue
			}
			readOnly, err := u.Narrow(types.AccessRead)
			if err != nil {
				return err
			}
			named[name] = types.URefKey(readOnly)
		}
	}

	acc := effects.NewAccumulator()
	hctx := host.NewContext(host.Config{
		Snapshot:        snap,
		Accumulator:     acc,
		Addresses:       host.NewAddressGenerator(seed, host.PhaseSession),
		Executor:        e,
		Account:         d.Account,
		BaseKey:         types.AccountKey(d.Account),
		NamedKeys:       named,
		Known:           []types.URef{account.MainPurse},
		Args:            d.Args,
		Module:          d.Session,
		ProtocolVersion: version,
		Logger:          e.logger.With(slog.String("execution_id", res.ID)),
	})
	if err := e.Execute(hctx, d.Session, d.EntryPoint); err != nil {
		acc.Discard()
		return err
	}
	fx, err := acc.Seal()
	if err != nil {
		return err
	}
	res.Effects = fx
	if ret, ok := hctx.Return(); ok {
		res.Return = &ret
	}
	return nil
}

// Commit applies fx to prestate.
func (e *Engine) Commit(ctx context.Context, prestate common.Hash, fx effects.Effects) (*CommitResult, error) {
	return e.commit(ctx, prestate, fx, "")
}

// CommitExecution commits a successful execution's effects against the
// prestate it ran on.
func (e *Engine) CommitExecution(ctx context.Context, res *ExecutionResult) (*CommitResult, error) {
	if res.Err != nil {
		return nil, fmt.Errorf("execution %s reverted: %w", res.ID, res.Err)
	}
	return e.commit(ctx, res.Prestate, res.Effects, res.ID)
}

func (e *Engine) commit(ctx context.Context, prestate common.Hash, fx effects.Effects, executionID string) (res *CommitResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.commit", trace.WithAttributes(
		attribute.String("prestate", prestate.Hex()),
		attribute.Int("keys", len(fx)),
	))
	defer func() { endSpan(span, err) }()

	post, err := e.state.Commit(ctx, prestate, fx)
	if err != nil {
		return nil, err
	}
	bonded, err := e.BondedValidators(post)
	if err != nil {
		return nil, fmt.Errorf("bonded validators at %s: %w", post.Hex(), err)
	}
	if e.journal != nil {
		if _, err := e.journal.AppendCommit(prestate, post, executionID, len(fx)); err != nil {
			return nil, fmt.Errorf("journal commit: %w", err)
		}
	}
	return &CommitResult{PostState: post, BondedValidators: bonded}, nil
}

// BondedValidators projects the PoS contract's bonds at root. Without a
// genesis the projection is empty.
func (e *Engine) BondedValidators(root common.Hash) (map[types.Address]types.UInt512, error) {
	out := make(map[types.Address]types.UInt512)
	system, ok := e.System()
	if !ok {
		return out, nil
	}
	v, err := e.state.ReadAt(root, types.URefKey(system.PoS))
	if err != nil {
		return nil, err
	}
	pos, err := types.As[*types.Contract](v)
	if err != nil {
		return nil, err
	}
	for _, name := range pos.NamedKeys.Names() {
		pub, amount, ok := genesis.ParseBondName(name)
		if !ok {
			continue
		}
		sum, ok := out[pub].CheckedAdd(amount)
		if !ok {
			return nil, fmt.Errorf("bond %s: %w", name, caperrors.ErrAddOverflow)
		}
		out[pub] = sum
	}
	return out, nil
}

// Query reads base at root and follows path through named keys.
func (e *Engine) Query(root common.Hash, base types.Key, path []string) (types.Value, error) {
	v, err := e.state.ReadAt(root, base)
	if err != nil {
		return nil, err
	}
	for i, name := range path {
		var named types.NamedKeys
		switch holder := v.(type) {
		case *types.Account:
			named = holder.NamedKeys
		case *types.Contract:
			named = holder.NamedKeys
		default:
			return nil, fmt.Errorf("query %v: %s holds %s: %w", path[:i], base, v.Tag(), caperrors.ErrValueConversion)
		}
		next, ok := named[name]
		if !ok {
			return nil, fmt.Errorf("query %v: %q: %w", path[:i+1], name, caperrors.ErrNamedKeyMissing)
		}
		if v, err = e.state.ReadAt(root, next); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// MainPurse returns account's main purse at root.
func (e *Engine) MainPurse(root common.Hash, account types.Address) (types.URef, error) {
	v, err := e.state.ReadAt(root, types.AccountKey(account))
	if err != nil {
		return types.URef{}, err
	}
	acct, err := types.As[*types.Account](v)
	if err != nil {
		return types.URef{}, err
	}
	return acct.MainPurse, nil
}

// PurseBalance resolves purse's balance through the mint's index at root.
func (e *Engine) PurseBalance(root common.Hash, purse types.URef) (types.UInt512, error) {
	system, ok := e.System()
	if !ok {
		return types.UInt512{}, fmt.Errorf("purse balance: %w", journal.ErrNoGenesis)
	}
	v, err := e.state.ReadAt(root, genesis.PurseBalanceKey(system.Mint.Addr(), purse.Addr()))
	if err != nil {
		return types.UInt512{}, err
	}
	balanceKey, err := types.As[types.Key](v)
	if err != nil {
		return types.UInt512{}, err
	}
	v, err = e.state.ReadAt(root, balanceKey)
	if err != nil {
		return types.UInt512{}, err
	}
	return types.As[types.UInt512](v)
}
