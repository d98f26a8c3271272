package executor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

type closeTrackingEngine struct {
	countingPoseEngine
	closed int32
}

func (e *closeTrackingEngine) Close() error {
	atomic.AddInt32(&e.closed, 1)
	return nil
}

func TestEnginePool_LazyInitOncePerVariant(t *testing.T) {
	var built int32
	pool := NewEnginePool(func(int) (PoseEngine, error) {
		atomic.AddInt32(&built, 1)
		return &closeTrackingEngine{}, nil
	})

	first, err := pool.Get(domain.AlgorithmLite)
	require.NoError(t, err)
	again, err := pool.Get(domain.AlgorithmLite)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))

	_, err = pool.Get(domain.AlgorithmHeavy)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&built))
}

func TestEnginePool_ConcurrentGetBuildsOnce(t *testing.T) {
	var built int32
	pool := NewEnginePool(func(int) (PoseEngine, error) {
		atomic.AddInt32(&built, 1)
		return &closeTrackingEngine{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Get(domain.AlgorithmFull)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
}

func TestEnginePool_UnknownVariant(t *testing.T) {
	pool := NewEnginePool(func(int) (PoseEngine, error) {
		t.Fatal("factory must not run for unknown variants")
		return nil, nil
	})

	_, err := pool.Get(42)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownAlgorithm)
}

func TestEnginePool_FactoryFailureIsNotCached(t *testing.T) {
	var built int32
	pool := NewEnginePool(func(int) (PoseEngine, error) {
		if atomic.AddInt32(&built, 1) == 1 {
			return nil, errors.New("model file missing")
		}
		return &closeTrackingEngine{}, nil
	})

	_, err := pool.Get(domain.AlgorithmLite)
	require.Error(t, err)

	_, err = pool.Get(domain.AlgorithmLite)
	require.NoError(t, err, "a transient construction failure should not poison the variant")
}

func TestEnginePool_CloseReleasesAll(t *testing.T) {
	engines := make(map[int]*closeTrackingEngine)
	pool := NewEnginePool(func(variant int) (PoseEngine, error) {
		e := &closeTrackingEngine{}
		engines[variant] = e
		return e, nil
	})

	_, err := pool.Get(domain.AlgorithmLite)
	require.NoError(t, err)
	_, err = pool.Get(domain.AlgorithmHeavy)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	for variant, e := range engines {
		assert.Equal(t, int32(1), atomic.LoadInt32(&e.closed), "variant %d", variant)
	}
}
