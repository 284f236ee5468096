// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroHandle(t *testing.T) {
	var r Registry[string]
	_, err := r.Get(0)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = r.Remove(0)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestAddGetRemove(t *testing.T) {
	var r Registry[string]
	a := r.Add("a")
	b := r.Add("b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len())

	v, err := r.Get(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = r.Remove(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, r.Len())

	_, err = r.Remove(a)
	require.ErrorIs(t, err, ErrInvalid, "double remove")
	_, err = r.Get(a)
	require.ErrorIs(t, err, ErrInvalid)

	v, err = r.Get(b)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestSlotReuse(t *testing.T) {
	var r Registry[int]
	a := r.Add(1)
	_, err := r.Remove(a)
	require.NoError(t, err)
	c := r.Add(2)
	if a.index() != c.index() {
		t.Fatalf("slot reuse:\nhave %d\nwant %d", c.index(), a.index())
	}
	assert.NotEqual(t, a, c)
	_, err = r.Get(a)
	require.ErrorIs(t, err, ErrInvalid, "stale handle after reuse")
	v, err := r.Get(c)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestEach(t *testing.T) {
	var r Registry[int]
	hs := []H{r.Add(10), r.Add(20), r.Add(30)}
	_, _ = r.Remove(hs[1])
	var sum int
	r.Each(func(h H, v int) {
		assert.NotEqual(t, hs[1], h)
		sum += v
	})
	assert.Equal(t, 40, sum)
}

func TestConcurrent(t *testing.T) {
	var r Registry[int]
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				h := r.Add(i*1000 + j)
				v, err := r.Get(h)
				assert.NoError(t, err)
				assert.Equal(t, i*1000+j, v)
				_, err = r.Remove(h)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
