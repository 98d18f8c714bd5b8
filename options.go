package fimocore

import (
	"github.com/fimoengine/fimocore/internal/stack"
	"github.com/fimoengine/fimocore/pool"
)

// PoolOption configures a pool.Config before it's used to build a Context
// (spec §6's configuration options list: label, worker_count, stacks[],
// cmd_buf_capacity, max_load_factor, is_queryable).
type PoolOption interface {
	applyPool(*pool.Config) error
}

// poolOptionImpl implements PoolOption from a plain function, the same
// shape options.go uses for LoopOption.
type poolOptionImpl struct {
	applyPoolFunc func(*pool.Config) error
}

func (o *poolOptionImpl) applyPool(cfg *pool.Config) error {
	return o.applyPoolFunc(cfg)
}

// WithLabel sets the pool's diagnostic label.
func WithLabel(label string) PoolOption {
	return &poolOptionImpl{func(cfg *pool.Config) error {
		cfg.Label = label
		return nil
	}}
}

// WithWorkerCount sets the number of worker threads to start. Zero (the
// default) selects runtime.NumCPU().
func WithWorkerCount(n int) PoolOption {
	return &poolOptionImpl{func(cfg *pool.Config) error {
		cfg.WorkerCount = n
		return nil
	}}
}

// WithStacks sets the stack pool's size classes. At least one is required;
// ResolvePoolConfig applies a single default class if none is given.
func WithStacks(classes ...stack.Class) PoolOption {
	return &poolOptionImpl{func(cfg *pool.Config) error {
		cfg.Stacks = append([]stack.Class(nil), classes...)
		return nil
	}}
}

// WithCmdBufCapacity sets pool.Config.CmdBufCapacity, which the pool does
// not currently read.
func WithCmdBufCapacity(n int) PoolOption {
	return &poolOptionImpl{func(cfg *pool.Config) error {
		cfg.CmdBufCapacity = n
		return nil
	}}
}

// WithMaxLoadFactor sets the futex table's nominal load-factor bound (see
// pool.Config.MaxLoadFactor).
func WithMaxLoadFactor(f float64) PoolOption {
	return &poolOptionImpl{func(cfg *pool.Config) error {
		cfg.MaxLoadFactor = f
		return nil
	}}
}

// WithQueryable marks the pool as inspectable by diagnostic tooling.
func WithQueryable(queryable bool) PoolOption {
	return &poolOptionImpl{func(cfg *pool.Config) error {
		cfg.IsQueryable = queryable
		return nil
	}}
}

// defaultStackSize is used for the single default stack class
// ResolvePoolConfig falls back to when the caller supplies none: large
// enough for ordinary task bodies without requiring every caller to think
// about stack sizing up front.
const defaultStackSize = 64 * 1024

// ResolvePoolConfig applies opts over a pool.Config seeded with this
// package's defaults (worker count 0, meaning runtime.NumCPU(); a single
// 64KiB default stack class; max load factor 0.75).
func ResolvePoolConfig(opts ...PoolOption) (pool.Config, error) {
	cfg := pool.Config{
		WorkerCount:   0,
		MaxLoadFactor: 0.75,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(&cfg); err != nil {
			return pool.Config{}, err
		}
	}
	if len(cfg.Stacks) == 0 {
		cfg.Stacks = []stack.Class{{Size: defaultStackSize, Default: true}}
	}
	return cfg, nil
}

// New constructs a Context from the given options, the top-level
// entry point analogous to eventloop.NewLoop(opts...).
func New(opts ...PoolOption) (Context, error) {
	cfg, err := ResolvePoolConfig(opts...)
	if err != nil {
		return nil, err
	}
	return NewContext(cfg)
}
