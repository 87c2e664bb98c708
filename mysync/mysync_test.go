package mysync

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex(t *testing.T) {
	mu := NewMutex(map[string]int{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Do(func(m map[string]int) { m["n"]++ })
		}()
	}
	wg.Wait()
	mu.View(func(m map[string]int) { assert.Equal(t, 50, m["n"]) })

	m, u := mu.Lock()
	m["n"] = 0
	u.Unlock()
	m, ru := mu.RLock()
	assert.Zero(t, m["n"])
	ru.RUnlock()
}

func TestFuture(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	ft := NewFuture(ctx, func(ctx context.Context) (int, error) {
		<-release
		return 42, nil
	})
	_, ok := ft.Result()
	assert.False(t, ok)
	assert.NoError(t, ft.Err())

	close(release)
	v, err := ft.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	v, ok = ft.Result()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestFutureCancel(t *testing.T) {
	ctx := context.Background()
	ft := NewFuture(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	ft.Cancel()
	<-ft.Done()
	assert.ErrorIs(t, ft.Err(), context.Canceled)
}

func TestFutureWaitContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ft := NewFuture(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 0, errors.New("unused")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ft.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImmediate(t *testing.T) {
	ft := Immediate("done")
	v, err := ft.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	ft.Cancel()
}
