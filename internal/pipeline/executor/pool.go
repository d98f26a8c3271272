package executor

import (
	"fmt"
	"sync"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// PoseEngineFactory builds the engine for one algorithm variant. Engine
// construction may be expensive (model loading), which is why the pool
// initializes lazily.
type PoseEngineFactory func(variant int) (PoseEngine, error)

// EnginePool owns the per-variant pose engines of one worker process.
// Engines are initialized on first use and released together on shutdown;
// there is no ambient global cache.
type EnginePool struct {
	mu      sync.Mutex
	factory PoseEngineFactory
	engines map[int]PoseEngine
}

// NewEnginePool creates an empty pool backed by factory.
func NewEnginePool(factory PoseEngineFactory) *EnginePool {
	return &EnginePool{
		factory: factory,
		engines: make(map[int]PoseEngine),
	}
}

// Get returns the engine for an algorithm variant, constructing it on first
// use. Unknown variants fail without touching the factory.
func (p *EnginePool) Get(variant int) (PoseEngine, error) {
	if !domain.KnownAlgorithm(variant) {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownAlgorithm, variant)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if engine, ok := p.engines[variant]; ok {
		return engine, nil
	}

	engine, err := p.factory(variant)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pose engine for variant %d: %w", variant, err)
	}
	p.engines[variant] = engine

	return engine, nil
}

// Close releases every initialized engine. The pool is unusable afterwards.
func (p *EnginePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for variant, engine := range p.engines {
		if err := engine.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close pose engine for variant %d: %w", variant, err)
		}
		delete(p.engines, variant)
	}

	return firstErr
}
