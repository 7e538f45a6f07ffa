package once

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagRunsOnce(t *testing.T) {
	var f Flag
	var calls int

	assert.False(t, f.Invoked())
	assert.NoError(t, f.Do(func() error { calls++; return nil }))
	assert.NoError(t, f.Do(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.True(t, f.Invoked())
}

func TestFlagCachesError(t *testing.T) {
	var f Flag
	boom := errors.New("boom")

	assert.ErrorIs(t, f.Do(func() error { return boom }), boom)
	// A failed execution is final; later calls see the same error without
	// running their function.
	assert.ErrorIs(t, f.Do(func() error { return nil }), boom)
	assert.True(t, f.Invoked())
}

func TestFlagConcurrent(t *testing.T) {
	var f Flag
	var calls atomic.Int32
	boom := errors.New("boom")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.ErrorIs(t, f.Do(func() error {
				calls.Add(1)
				return boom
			}), boom)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
