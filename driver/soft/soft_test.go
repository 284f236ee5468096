// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/syncfd"
)

func newImage(t *testing.T, b *Bridge) (driver.Image, *bufq.Queue) {
	t.Helper()
	q, err := bufq.New(1, 8, 8, bufq.ARGB8888, bufq.UsageDefault)
	require.NoError(t, err)
	t.Cleanup(func() { q.Destroy() })
	buf := q.Buffers()[0]
	img, err := b.NewImage(0, buf, &driver.ImageInfo{
		Format: gputypes.TextureFormatBGRA8Unorm,
		Width:  8,
		Height: 8,
		Usage:  gputypes.TextureUsageRenderAttachment,
		Native: buf.Format(),
		Stride: buf.Stride(),
	})
	require.NoError(t, err)
	return img, q
}

func TestRegistered(t *testing.T) {
	d := driver.Find("soft")
	require.NotNil(t, d)
	b1, err := d.Open()
	require.NoError(t, err)
	b2, err := d.Open()
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	d.Close()
}

func TestImage(t *testing.T) {
	b := New()
	img, q := newImage(t, b)
	x, ok := b.Lookup(img)
	require.True(t, ok)
	assert.Same(t, q.Buffers()[0], x.Buffer)
	assert.Equal(t, 1, b.Live())

	b.DestroyImage(0, img)
	created, destroyed := b.Stats()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, destroyed)
	assert.Panics(t, func() { b.DestroyImage(0, img) })

	_, err := b.NewImage(0, q.Buffers()[0], &driver.ImageInfo{Width: 1, Height: 1})
	require.ErrorIs(t, err, driver.ErrFormatUnsupported)
}

func TestSignalReleaseImage(t *testing.T) {
	b := New()
	img, _ := newImage(t, b)
	sem := b.NewSemaphore()

	fd, err := b.SignalReleaseImage(0, []driver.Semaphore{sem}, img)
	require.NoError(t, err)
	defer syncfd.Close(fd)
	assert.False(t, syncfd.Signaled(fd))

	b.Signal(sem)
	require.NoError(t, syncfd.Wait(fd, 5*time.Second))
	b.Flush()
	assert.True(t, b.WaitSemaphore(sem, 0))
	assert.False(t, b.WaitSemaphore(sem, 0), "semaphore consumed by WaitSemaphore")

	fd2, err := b.SignalReleaseImage(0, nil, img)
	require.NoError(t, err)
	defer syncfd.Close(fd2)
	require.NoError(t, syncfd.Wait(fd2, 5*time.Second))
}

func TestAcquireImage(t *testing.T) {
	b := New()
	img, _ := newImage(t, b)
	sem := b.NewSemaphore()
	fen := b.NewFence()

	var tl syncfd.Timeline
	fd, err := tl.Fence(1)
	require.NoError(t, err)
	require.NoError(t, b.AcquireImage(0, img, fd, sem, fen))
	assert.False(t, b.WaitFence(fen, 10*time.Millisecond))

	tl.Inc(1)
	assert.True(t, b.WaitFence(fen, 5*time.Second))
	assert.True(t, b.WaitSemaphore(sem, 5*time.Second))

	b.ResetFence(fen)
	require.NoError(t, b.AcquireImage(0, img, syncfd.NoFence, 0, fen))
	assert.True(t, b.WaitFence(fen, 0))
}

func TestBasic(t *testing.T) {
	x := Basic(New())
	_, ok := x.(driver.ReleaseSignaler)
	assert.False(t, ok)
	_, ok = x.(driver.AcquireSignaler)
	assert.False(t, ok)
	assert.Equal(t, "soft", x.Name())
}
