// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"git.lukeshu.com/mediacache-ng/lib/diskio"
	"git.lukeshu.com/mediacache-ng/lib/mediacache"
	"git.lukeshu.com/mediacache-ng/lib/safefile"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, cfg mediacache.ManagerConfig) (context.Context, *mediacache.Manager, *fakeClock) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	m, err := mediacache.NewManager(ctx, cfg)
	require.NoError(t, err)
	return ctx, m, clock
}

// faultyOpen wraps data-file handles (not metadata files) in a
// FaultyHandle.
func faultyOpen(faults map[string]*diskio.Fault) mediacache.OpenFunc {
	return func(name string, flag int, perm fs.FileMode) (diskio.Handle, error) {
		h, err := mediacache.OpenOS(name, flag, perm)
		if err != nil || strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			return h, err
		}
		return &diskio.FaultyHandle{Handle: h, Faults: faults}, nil
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	dents, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(dents))
	for _, dent := range dents {
		names = append(names, dent.Name())
	}
	sort.Strings(names)
	return names
}

func writeEntry(t *testing.T, ctx context.Context, m *mediacache.Manager, key string, dat []byte) {
	t.Helper()
	file, err := m.Open(ctx, key, "http://example.com/"+key+".bin")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 0, dat))
	require.NoError(t, file.Close(ctx))
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{Dir: dir})

	file, err := m.Open(ctx, "clip", "http://example.com/poster.png")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 0, []byte("hello")))
	require.NoError(t, file.WriteRange(ctx, 10, []byte("world")))

	assert.Equal(t, []mediacache.Action{local(0, 5), remote(5, 10), local(10, 15)}, file.Plan(R{0, 15}))

	dat, err := file.ReadRange(ctx, R{10, 15})
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), dat)
	dat, err = file.ReadRange(ctx, R{3, 12})
	require.NoError(t, err)
	assert.Equal(t, []byte("lo\x00\x00\x00\x00\x00wo"), dat)

	require.NoError(t, file.Synchronize(ctx))
	require.NoError(t, file.Close(ctx))
	assert.ErrorIs(t, file.WriteRange(ctx, 0, []byte("x")), mediacache.ErrClosed)
	require.NoError(t, m.Close())

	// A fresh manager sees what the first one saved.
	_, m2, _ := newManager(t, mediacache.ManagerConfig{Dir: dir})
	cfg, err := m2.Lookup("clip")
	require.NoError(t, err)
	assert.Equal(t, "clip", cfg.Key)
	assert.Equal(t, "http://example.com/poster.png", cfg.Origin)
	assert.Equal(t, "image/png", cfg.ContentInfo.Type)
	assert.Equal(t, mediacache.MD5Name("clip")+".png", cfg.DataFile)
	assert.Equal(t, mediacache.RangeSet{{0, 5}, {10, 15}}, cfg.Fragments)

	_, err = m2.Lookup("other")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}

func TestReadersDoNotMoveWriters(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	defer func() { assert.NoError(t, file.Close(ctx)) }()

	require.NoError(t, file.WriteRange(ctx, 0, []byte("abc")))
	_, err = file.ReadRange(ctx, R{0, 1})
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 3, []byte("def")))
	dat, err := file.ReadRange(ctx, R{0, 6})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), dat)
}

func TestMmapHandles(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{Open: mediacache.OpenMmap})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 0, []byte("mapped")))
	dat, err := file.ReadRange(ctx, R{0, 6})
	require.NoError(t, err)
	assert.Equal(t, []byte("mapped"), dat)
	require.NoError(t, file.Close(ctx))

	cfg, err := m.Lookup("clip")
	require.NoError(t, err)
	assert.Equal(t, mediacache.RangeSet{{0, 6}}, cfg.Fragments)
}

func TestPositionalHandles(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{Open: mediacache.OpenPositional})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 4, []byte("tail")))
	require.NoError(t, file.WriteRange(ctx, 0, []byte("head")))
	dat, err := file.ReadRange(ctx, R{2, 6})
	require.NoError(t, err)
	assert.Equal(t, []byte("adta"), dat)
	require.NoError(t, file.SetContentInfo(ctx, mediacache.ContentInfo{TotalLength: 6}))
	dat, err = file.ReadRange(ctx, R{0, 8})
	require.NoError(t, err)
	assert.Equal(t, []byte("headta"), dat)
	require.NoError(t, file.Close(ctx))
}

func TestCleanBusy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{Dir: dir})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 0, []byte("data")))

	assert.ErrorIs(t, m.Clean(ctx, "clip"), mediacache.ErrBusy)
	require.NoError(t, file.Close(ctx))

	require.NoError(t, m.Clean(ctx, "clip"))
	assert.Equal(t, []string{"usage.json"}, listDir(t, dir))
	_, err = m.Lookup("clip")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)

	// Cleaning something that is not there is fine.
	assert.NoError(t, m.Clean(ctx, "clip"))
}

func TestCleanAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{Dir: dir, FileName: func(key string) string { return key }})
	writeEntry(t, ctx, m, "a", []byte("aaaa"))
	writeEntry(t, ctx, m, "b", []byte("bbbb"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray"), []byte("?"), 0o644))

	open, err := m.Open(ctx, "c", "http://example.com/c.bin")
	require.NoError(t, err)
	require.NoError(t, m.CleanAll(ctx))
	assert.Equal(t, []string{"c.bin", "c.cfg.json", "usage.json"}, listDir(t, dir))
	require.NoError(t, open.Close(ctx))

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c", entries[0].Key)
}

func TestCheckUsage(t *testing.T) {
	t.Parallel()
	ctx, m, clock := newManager(t, mediacache.ManagerConfig{Capacity: 1})
	writeEntry(t, ctx, m, "a", make([]byte, 50))
	clock.Advance(time.Second)
	writeEntry(t, ctx, m, "b", make([]byte, 50))
	clock.Advance(time.Second)
	open, err := m.Open(ctx, "c", "")
	require.NoError(t, err)
	defer func() { assert.NoError(t, open.Close(ctx)) }()

	removed, err := m.CheckUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, removed)

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c", entries[0].Key)
}

func TestCheckUsageReportsOnlyRemovedKeys(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, m, clock := newManager(t, mediacache.ManagerConfig{
		Dir:      dir,
		Capacity: 1,
		FileName: func(key string) string { return key },
	})
	writeEntry(t, ctx, m, "a", make([]byte, 50))
	clock.Advance(time.Second)
	writeEntry(t, ctx, m, "b", make([]byte, 50))

	// A non-empty directory in place of b's data file cannot be
	// removed.
	require.NoError(t, os.Remove(filepath.Join(dir, "b.bin")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "b.bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin", "x"), []byte("x"), 0o644))

	removed, err := m.CheckUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, removed)
	assert.DirExists(t, filepath.Join(dir, "b.bin"))
}

func TestSetWeights(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, m, clock := newManager(t, mediacache.ManagerConfig{Dir: dir, Capacity: 1})
	// "a" is used often, "b" recently.
	writeEntry(t, ctx, m, "a", make([]byte, 10))
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		file, err := m.Open(ctx, "a", "")
		require.NoError(t, err)
		require.NoError(t, file.Close(ctx))
	}
	clock.Advance(time.Second)
	writeEntry(t, ctx, m, "b", make([]byte, 10))

	m.SetWeights(0, 1)
	timeWeight, useWeight := m.Weights()
	assert.Equal(t, 0, timeWeight)
	assert.Equal(t, 1, useWeight)
	removed, err := m.CheckUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, removed)

	// The weights are saved with the usage index.
	_, m2, _ := newManager(t, mediacache.ManagerConfig{Dir: dir})
	timeWeight, useWeight = m2.Weights()
	assert.Equal(t, 0, timeWeight)
	assert.Equal(t, 1, useWeight)
}

func TestNewEntryUsesManagerClock(t *testing.T) {
	t.Parallel()
	ctx, m, clock := newManager(t, mediacache.ManagerConfig{})
	clock.Advance(time.Hour)
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(file.Config().LastUsed))
	require.NoError(t, file.Close(ctx))
}

func TestCheckUsageUnderCapacity(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{})
	writeEntry(t, ctx, m, "a", make([]byte, 50))
	size, err := m.Size()
	require.NoError(t, err)
	assert.Greater(t, size, int64(50))
	assert.Equal(t, mediacache.DefaultCapacity, m.Capacity())

	removed, err := m.CheckUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestAutoCheckUsageIsRateLimited(t *testing.T) {
	t.Parallel()
	ctx, m, clock := newManager(t, mediacache.ManagerConfig{
		Capacity:       1,
		AutoCheckUsage: true,
		FreeSpace:      func(string) (int64, error) { return 1 << 40, nil },
	})
	writeEntry(t, ctx, m, "old", make([]byte, 10))

	file, err := m.Open(ctx, "new", "")
	require.NoError(t, err)
	defer func() { assert.NoError(t, file.Close(ctx)) }()
	require.NoError(t, file.WriteRange(ctx, 0, make([]byte, 10)))

	clock.Advance(mediacache.AutoCheckInterval / 2)
	require.NoError(t, file.Synchronize(ctx))
	_, err = m.Lookup("old")
	assert.NoError(t, err)

	clock.Advance(mediacache.AutoCheckInterval)
	require.NoError(t, file.Synchronize(ctx))
	_, err = m.Lookup("old")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}

func TestAutoAllowWrite(t *testing.T) {
	t.Parallel()
	var free int64 = 10
	var freeMu sync.Mutex
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{
		Capacity:       100,
		AutoCheckUsage: true,
		FreeSpace: func(string) (int64, error) {
			freeMu.Lock()
			defer freeMu.Unlock()
			return free, nil
		},
	})
	assert.False(t, m.AllowWrite())

	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	assert.ErrorIs(t, file.WriteRange(ctx, 0, []byte("x")), mediacache.ErrWriteDisabled)

	freeMu.Lock()
	free = 1000
	freeMu.Unlock()
	m.SetCapacity(ctx, 100)
	assert.True(t, m.AllowWrite())
	assert.NoError(t, file.WriteRange(ctx, 0, []byte("x")))

	// Once set by hand, the switch stays put.
	m.SetAllowWrite(false)
	m.SetCapacity(ctx, 100)
	assert.False(t, m.AllowWrite())
	require.NoError(t, file.Close(ctx))
}

func TestDiskFullDisablesWrite(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{
		Open: faultyOpen(map[string]*diskio.Fault{
			"write": {Skip: 1, Err: unix.ENOSPC},
		}),
	})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)

	require.NoError(t, file.WriteRange(ctx, 0, []byte("first")))
	err = file.WriteRange(ctx, 5, []byte("second"))
	require.Error(t, err)
	assert.True(t, safefile.IsOp(err, safefile.OpWrite))
	assert.True(t, safefile.IsNoSpace(err))
	assert.False(t, m.AllowWrite())
	assert.ErrorIs(t, file.WriteRange(ctx, 5, []byte("second")), mediacache.ErrWriteDisabled)

	// Only the successful write is recorded.
	assert.Equal(t, mediacache.RangeSet{{0, 5}}, file.Config().Fragments)
	require.NoError(t, file.Close(ctx))
}

func TestHandleFailuresDoNotCrash(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{
		Open: faultyOpen(map[string]*diskio.Fault{
			"read":  {Panics: true, Panic: "boom"},
			"sync":  {Err: unix.EIO},
			"close": {Err: unix.EIO},
		}),
	})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 0, []byte("data")))

	var dat []byte
	assert.NotPanics(t, func() {
		dat, err = file.ReadRange(ctx, R{0, 4})
	})
	assert.Nil(t, dat)
	assert.True(t, safefile.IsOp(err, safefile.OpRead))

	err = file.Synchronize(ctx)
	assert.True(t, safefile.IsOp(err, safefile.OpSync))

	// The sync failure is reported; the close failures are not.
	err = file.Close(ctx)
	assert.True(t, safefile.IsOp(err, safefile.OpSync))
	assert.NoError(t, m.Clean(ctx, "clip"))
}

func TestNilPanicWriteIsNotRecorded(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{
		Open: faultyOpen(map[string]*diskio.Fault{
			"write": {Skip: 1, Panics: true},
		}),
	})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	require.NoError(t, file.WriteRange(ctx, 0, []byte("first")))

	assert.NotPanics(t, func() {
		err = file.WriteRange(ctx, 5, []byte("second"))
	})
	assert.True(t, safefile.IsOp(err, safefile.OpWrite))
	assert.Equal(t, mediacache.RangeSet{{0, 5}}, file.Config().Fragments)
	require.NoError(t, file.Close(ctx))
}

func TestSetContentInfoTruncates(t *testing.T) {
	t.Parallel()
	ctx, m, _ := newManager(t, mediacache.ManagerConfig{})
	file, err := m.Open(ctx, "clip", "")
	require.NoError(t, err)
	defer func() { assert.NoError(t, file.Close(ctx)) }()

	assert.Equal(t, mediacache.DefaultContentInfo(), file.ContentInfo())
	cfg := file.Config()
	assert.True(t, cfg.NeedsContentInfo())

	require.NoError(t, file.WriteRange(ctx, 0, []byte("0123456789")))
	require.NoError(t, file.SetContentInfo(ctx, mediacache.ContentInfo{
		Type:        "video/mp4",
		TotalLength: 6,
	}))
	assert.Equal(t, mediacache.RangeSet{{0, 6}}, file.Config().Fragments)
	dat, err := file.ReadRange(ctx, R{0, 10})
	require.NoError(t, err)
	assert.Equal(t, []byte("012345"), dat)
	assert.Equal(t, "video/mp4", file.ContentInfo().Type)
}
