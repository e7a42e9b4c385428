// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/mediacache-ng/lib/safefile"
)

// ErrClosed is returned by operations on a closed CacheFile.
var ErrClosed = errors.New("cache file is closed")

// CacheFile is an open cache entry.  It holds two handles on the data
// file, one for reading and one for writing, so that a reader
// following a writer does not disturb the writer's cursor.
//
// A CacheFile is safe for concurrent use.
type CacheFile struct {
	m     *Manager
	key   string
	entry *entry

	mu      sync.Mutex
	read    *safefile.File
	write   *safefile.File
	writing bool
	closed  bool
}

func openCacheFile(m *Manager, key string, e *entry, dataPath string) (*CacheFile, error) {
	wh, err := m.open(dataPath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	rh, err := m.open(dataPath, os.O_RDONLY, 0)
	if err != nil {
		_ = safefile.Close(wh)
		return nil, err
	}
	return &CacheFile{
		m:     m,
		key:   key,
		entry: e,
		read:  safefile.New(rh),
		write: safefile.New(wh),
	}, nil
}

func (f *CacheFile) Key() string { return f.key }

func (f *CacheFile) ctx(ctx context.Context) context.Context {
	return dlog.WithField(ctx, "mediacache.key", f.key)
}

// Config returns a copy of the entry's current config.
func (f *CacheFile) Config() Config {
	f.entry.mu.Lock()
	defer f.entry.mu.Unlock()
	return f.entry.cfg
}

// ContentInfo returns the entry's content info.
func (f *CacheFile) ContentInfo() ContentInfo {
	return f.Config().ContentInfo
}

// SetContentInfo records new content info for the entry and saves the
// config.  If the total length shrank, the data file and the cached
// fragments are cut down to match.
func (f *CacheFile) SetContentInfo(ctx context.Context, info ContentInfo) error {
	ctx = f.ctx(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	f.entry.mu.Lock()
	defer f.entry.mu.Unlock()
	frags := f.entry.cfg.Fragments
	if n := len(frags); info.TotalLength > 0 && n > 0 && frags[n-1].End > info.TotalLength {
		dlog.Infof(ctx, "total length is now %d; truncating", info.TotalLength)
		if err := f.write.TruncateAt(info.TotalLength); err != nil {
			return err
		}
		f.entry.cfg.Fragments = f.entry.cfg.Fragments.Subtract(Range{Beg: info.TotalLength, End: math.MaxInt64})
	}
	f.entry.cfg.ContentInfo = info
	f.entry.dirty = true
	return f.m.saveConfigLocked(f.entry)
}

// Plan returns the actions needed to serve want from this entry; see
// the Plan function.
func (f *CacheFile) Plan(want Range) []Action {
	f.entry.mu.Lock()
	have := f.entry.cfg.Fragments
	f.entry.mu.Unlock()
	return Plan(have, want, PacketLimit)
}

// ReadRange reads the bytes of r from the data file.  The result is
// short if the data file ends early; it is up to the caller to only
// ask for ranges that Plan said are local.
func (f *CacheFile) ReadRange(ctx context.Context, r Range) ([]byte, error) {
	ctx = dlog.WithField(f.ctx(ctx), "mediacache.range", r)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if !r.Valid() {
		return nil, fmt.Errorf("read %v: %w", r, safefile.ErrInvalidArgument)
	}
	dlog.Debugf(ctx, "reading")
	if err := f.read.SeekTo(r.Beg); err != nil {
		return nil, err
	}
	return f.read.ReadBounded(r.Len())
}

// WriteRange writes dat to the data file at off and records the
// written range as cached.  If the disk is full, writing is switched
// off for the whole Manager and the error is returned.
func (f *CacheFile) WriteRange(ctx context.Context, off int64, dat []byte) error {
	r := Range{Beg: off, End: off + int64(len(dat))}
	ctx = dlog.WithField(f.ctx(ctx), "mediacache.range", r)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if !f.m.AllowWrite() {
		return ErrWriteDisabled
	}
	f.writing = true
	dlog.Debugf(ctx, "writing")

	err := f.write.SeekTo(off)
	if err == nil {
		err = f.write.Write(dat)
	}
	if err != nil {
		if safefile.IsNoSpace(err) {
			f.m.disableWrite(ctx)
		}
		return err
	}

	f.entry.mu.Lock()
	f.entry.cfg.Fragments = f.entry.cfg.Fragments.Union(r)
	f.entry.dirty = true
	f.entry.mu.Unlock()
	return nil
}

// Synchronize flushes the data file and saves the config, then lets
// the Manager run its automatic usage check.
func (f *CacheFile) Synchronize(ctx context.Context) error {
	ctx = f.ctx(ctx)
	if err := f.sync(ctx); err != nil {
		return err
	}
	f.m.autoCheckUsage(ctx)
	return nil
}

func (f *CacheFile) sync(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	dlog.Debugf(ctx, "synchronizing")
	if err := f.write.Synchronize(); err != nil {
		return err
	}
	f.entry.mu.Lock()
	defer f.entry.mu.Unlock()
	f.entry.cfg.LastUsed = f.m.now()
	f.entry.dirty = true
	return f.m.saveConfigLocked(f.entry)
}

// Close synchronizes the entry if it was written to and releases both
// handles.  Only a failure to synchronize is returned; a failure to
// close a handle is logged, since the entry's data and config are on
// disk by then.
func (f *CacheFile) Close(ctx context.Context) error {
	ctx = f.ctx(ctx)
	var syncErr error
	f.mu.Lock()
	writing := f.writing
	f.mu.Unlock()
	if writing {
		syncErr = f.sync(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	if err := f.read.Close(); err != nil {
		dlog.Errorf(ctx, "non-fatal: %v", err)
	}
	if err := f.write.Close(); err != nil {
		dlog.Errorf(ctx, "non-fatal: %v", err)
	}
	f.m.release(f.key, f.entry)
	dlog.Debugf(ctx, "closed")
	return syncErr
}
