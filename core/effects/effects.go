// Package effects collects the transforms one execution produces.
package effects

import (
	"fmt"
	"sort"

	caperrors "capstore/core/errors"
	"capstore/core/transform"
	"capstore/core/types"
)

// Effects is an execution's effect map: at most one net transform per
// normalized key.
type Effects map[types.Key]transform.Transform

// SortedKeys returns the keys in canonical key order.
func (e Effects) SortedKeys() []types.Key {
	keys := make([]types.Key, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys
}

// Failures returns the keys whose transforms failed to merge, with their
// causes.
func (e Effects) Failures() map[types.Key]error {
	out := make(map[types.Key]error)
	for k, t := range e {
		if f, ok := t.(transform.Failure); ok {
			out[k] = f.Err
		}
	}
	return out
}

// Clone returns a shallow copy of the map.
func (e Effects) Clone() Effects {
	out := make(Effects, len(e))
	for k, t := range e {
		out[k] = t
	}
	return out
}

// State is the lifecycle position of an Accumulator.
type State uint8

const (
	Accumulating State = iota
	Committed
	Discarded
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Committed:
		return "committed"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Accumulator merges transforms into an effect map while an execution runs.
// It starts Accumulating and ends either Committed, when the execution
// finished and its effects were handed out, or Discarded, when it reverted.
//
// Accumulator is not safe for concurrent use; an execution is synchronous.
type Accumulator struct {
	state   State
	effects Effects
}

func NewAccumulator() *Accumulator {
	return &Accumulator{effects: make(Effects)}
}

func (a *Accumulator) State() State { return a.state }

// Len is the number of distinct keys touched so far.
func (a *Accumulator) Len() int { return len(a.effects) }

// Record merges t into the entry for key. URef rights are stripped from the
// key first so every capability over one slot shares an entry.
func (a *Accumulator) Record(key types.Key, t transform.Transform) error {
	if a.state != Accumulating {
		return fmt.Errorf("record %s: %w (%s)", key, caperrors.ErrAccumulatorClosed, a.state)
	}
	key = key.Normalize()
	a.effects[key] = transform.Merge(a.effects[key], t)
	return nil
}

func (a *Accumulator) Write(key types.Key, v types.Value) error {
	return a.Record(key, transform.Write{Value: v})
}

func (a *Accumulator) Add(key types.Key, v types.Value) error {
	return a.Record(key, transform.FromAdd(v))
}

// Pending returns the transform currently recorded for key, if any.
func (a *Accumulator) Pending(key types.Key) (transform.Transform, bool) {
	t, ok := a.effects[key.Normalize()]
	return t, ok
}

// Seal ends accumulation and hands out the effect map.
func (a *Accumulator) Seal() (Effects, error) {
	if a.state != Accumulating {
		return nil, fmt.Errorf("seal: %w (%s)", caperrors.ErrAccumulatorClosed, a.state)
	}
	a.state = Committed
	out := a.effects
	a.effects = nil
	return out, nil
}

// Discard drops everything recorded. It is a no-op once the accumulator has
// left the Accumulating state.
func (a *Accumulator) Discard() {
	if a.state != Accumulating {
		return
	}
	a.state = Discarded
	a.effects = nil
}
