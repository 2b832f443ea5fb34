package engine

import (
	"fmt"
	"sort"
	"sync"

	"lukechampine.com/blake3"

	caperrors "capstore/core/errors"
	"capstore/core/types"
	"capstore/sdk/contract"
)

// EntryPoint is one exported function of a module.
type EntryPoint func(h contract.Host) error

// Module is executable code known to the engine. Code is the byte image
// stored in contracts and deploys; modules are looked up by its hash.
type Module struct {
	Name        string
	Code        []byte
	EntryPoints map[string]EntryPoint
}

// CodeHash identifies m's code.
func (m *Module) CodeHash() types.Address { return blake3.Sum256(m.Code) }

// Registry maps code hashes to modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[types.Address]*Module
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[types.Address]*Module)}
}

// Register adds m. Registering different modules under the same code is an
// error; registering the same module twice is not.
func (r *Registry) Register(m *Module) (types.Address, error) {
	if m == nil || len(m.Code) == 0 {
		return types.Address{}, fmt.Errorf("register module: empty code: %w", caperrors.ErrInvalidArgument)
	}
	hash := m.CodeHash()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.modules[hash]; ok && existing != m {
		return types.Address{}, fmt.Errorf("register module %q: code already registered as %q: %w", m.Name, existing.Name, caperrors.ErrInvalidArgument)
	}
	r.modules[hash] = m
	return hash, nil
}

// Lookup resolves code to its module.
func (r *Registry) Lookup(code []byte) (*Module, error) {
	hash := types.Address(blake3.Sum256(code))
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[hash]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", hash.Hex(), caperrors.ErrUnknownModule)
	}
	return m, nil
}

// Names lists registered module names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for _, m := range r.modules {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}
