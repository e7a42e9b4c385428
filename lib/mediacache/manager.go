// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediacache stores partially-downloaded media on local disk,
// as sparse data files plus a JSON record of which byte ranges of
// each file are valid.
//
// All file I/O goes through lib/safefile, so a failing disk (full,
// read-only, yanked out from under a memory mapping) shows up as an
// error from the cache rather than as a crash.
package mediacache

import (
	"context"
	"crypto/md5" //nolint:gosec // Names files, not a security boundary.
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/slices"

	"git.lukeshu.com/mediacache-ng/lib/containers"
	"git.lukeshu.com/mediacache-ng/lib/textui"
)

var (
	// ErrBusy is returned when trying to remove an entry that is
	// open.
	ErrBusy = errors.New("entry is in use")
	// ErrNotFound is returned when looking up an entry that does
	// not exist.
	ErrNotFound = errors.New("no such entry")
	// ErrWriteDisabled is returned by writes while writing is
	// switched off, either by SetAllowWrite or because the disk
	// filled up.
	ErrWriteDisabled = errors.New("writing to the cache is disabled")
)

const (
	configExt     = ".cfg.json"
	usageFileName = "usage.json"
)

var (
	// DefaultCapacity is the capacity limit of a Manager that is
	// not given one.
	DefaultCapacity = textui.Tunable(int64(1) << 30)
	// AutoCheckInterval is the minimum time between two automatic
	// usage checks.
	AutoCheckInterval = textui.Tunable(10 * time.Second)
	// ConfigCacheSize is how many closed entries' configs are kept
	// in memory.
	ConfigCacheSize = textui.Tunable(64)
)

// MD5Name is the default file-name mapping: the hex MD5 digest of the
// key.
func MD5Name(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec // Names files, not a security boundary.
	return hex.EncodeToString(sum[:])
}

// ManagerConfig configures NewManager.  Only Dir is required.
type ManagerConfig struct {
	Dir string
	// Capacity is the size limit enforced by CheckUsage; <= 0
	// means DefaultCapacity.
	Capacity int64
	// AutoCheckUsage enables the usage check after each
	// synchronization (at most once per AutoCheckInterval), and
	// turns writing on or off by comparing free disk space to
	// Capacity.
	AutoCheckUsage bool
	// FileName maps a key to a file-name prefix; nil means MD5Name.
	FileName func(key string) string
	// Open opens data and metadata files; nil means OpenOS.
	Open OpenFunc
	// FreeSpace reports the free space of the cache directory;
	// nil means the FreeSpace function.
	FreeSpace func(dir string) (int64, error)
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// allowWrite is the allow-write switch.  Once set by hand it is no
// longer changed automatically.
type allowWrite struct {
	manual bool
	value  bool
}

// entry is the in-memory state of one cache entry.
type entry struct {
	mu    sync.Mutex
	cfg   Config
	dirty bool

	// refs is guarded by Manager.mu.
	refs int
}

// Manager owns a cache directory.
type Manager struct {
	ctx context.Context //nolint:containedctx // For logging from LRU eviction callbacks

	dir       string
	fileName  func(key string) string
	open      OpenFunc
	freeSpace func(dir string) (int64, error)
	now       func() time.Time
	autoCheck bool

	mu        sync.Mutex
	capacity  int64
	allow     allowWrite
	lastCheck time.Time

	// configs holds entries that are not open.
	configs *containers.LRUCache[string, *entry]
	// active holds entries that are open.
	active typedsync.Map[string, *entry]
	usage  *usageIndex
}

// NewManager opens the cache directory, creating it if need be.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("mediacache: no directory given")
	}
	ctx = dlog.WithField(ctx, "mediacache.dir", cfg.Dir)
	m := &Manager{
		ctx:       ctx,
		dir:       cfg.Dir,
		fileName:  cfg.FileName,
		open:      cfg.Open,
		freeSpace: cfg.FreeSpace,
		now:       cfg.Now,
		autoCheck: cfg.AutoCheckUsage,
		capacity:  cfg.Capacity,
		allow:     allowWrite{value: true},
	}
	if m.fileName == nil {
		m.fileName = MD5Name
	}
	if m.open == nil {
		m.open = OpenOS
	}
	if m.freeSpace == nil {
		m.freeSpace = FreeSpace
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.capacity <= 0 {
		m.capacity = DefaultCapacity
	}
	m.lastCheck = m.now()
	m.configs = containers.NewLRUCache[string, *entry](ConfigCacheSize, m.evictConfig)

	dlog.Infof(ctx, "cache directory: %s", m.dir)
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, err
	}

	usage, err := readJSONFile[*usageIndex](m.open, m.usagePath())
	switch {
	case err == nil && usage != nil:
		if usage.Entries == nil {
			usage.Entries = make(map[string]*usageRecord)
		}
		m.usage = usage
	case err == nil || errors.Is(err, fs.ErrNotExist):
		m.usage = newUsageIndex()
	default:
		dlog.Errorf(ctx, "discarding unreadable usage index: %v", err)
		m.usage = newUsageIndex()
	}

	m.checkAllow(ctx)
	return m, nil
}

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) usagePath() string {
	return filepath.Join(m.dir, usageFileName)
}

func (m *Manager) configPath(key string) string {
	return filepath.Join(m.dir, m.fileName(key)+configExt)
}

func (m *Manager) dataName(key, origin string) string {
	name := m.fileName(key)
	if ext := path.Ext(urlPath(origin)); ext != "" && ext != ".json" {
		name += ext
	}
	return name
}

// Capacity returns the size limit.
func (m *Manager) Capacity() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// SetCapacity changes the size limit and re-evaluates automatic write
// permission.
func (m *Manager) SetCapacity(ctx context.Context, capacity int64) {
	m.mu.Lock()
	m.capacity = capacity
	m.mu.Unlock()
	m.checkAllow(ctx)
}

// Weights returns how much CheckUsage weighs recency and frequency
// of use when ranking entries.
func (m *Manager) Weights() (timeWeight, useWeight int) {
	return m.usage.Weights()
}

// SetWeights changes how CheckUsage ranks entries.  Each entry is
// ranked by recency and by frequency of use; its score is the sum of
// the ranks times their weights, and the lowest score is evicted
// first.
func (m *Manager) SetWeights(timeWeight, useWeight int) {
	m.usage.SetWeights(timeWeight, useWeight)
}

// AllowWrite reports whether writes are currently accepted.
func (m *Manager) AllowWrite() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allow.value
}

// SetAllowWrite switches writing on or off by hand; automatic checks
// no longer change it afterward.
func (m *Manager) SetAllowWrite(allow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allow = allowWrite{manual: true, value: allow}
}

// disableWrite switches writing off after the disk filled up, unless
// writing is being controlled by hand.
func (m *Manager) disableWrite(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allow.manual || !m.allow.value {
		return
	}
	m.allow.value = false
	dlog.Errorf(ctx, "disk full; disabled writing")
}

func (m *Manager) checkAllow(ctx context.Context) {
	if !m.autoCheck {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allow.manual {
		return
	}
	free, err := m.freeSpace(m.dir)
	if err != nil {
		dlog.Errorf(ctx, "checking free space: %v", err)
		return
	}
	m.allow.value = free > m.capacity
	state := "disabled"
	if m.allow.value {
		state = "enabled"
	}
	dlog.Infof(ctx, "free space %v, capacity %v: writing %s",
		textui.IEC(free, "B"), textui.IEC(m.capacity, "B"), state)
}

// evictConfig is the config cache's eviction callback.  It must not
// call back into the cache.
func (m *Manager) evictConfig(key string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return
	}
	if err := m.saveConfigLocked(e); err != nil {
		dlog.Errorf(dlog.WithField(m.ctx, "mediacache.key", key), "saving config: %v", err)
	}
}

// saveConfigLocked must be called with e.mu held.
func (m *Manager) saveConfigLocked(e *entry) error {
	if err := writeJSONFile(m.open, m.configPath(e.cfg.Key), e.cfg); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

func (m *Manager) saveUsage(ctx context.Context) {
	if err := writeJSONFile(m.open, m.usagePath(), m.usage.snapshot()); err != nil {
		dlog.Errorf(ctx, "saving usage index: %v", err)
	}
}

// loadEntry returns the entry for key from memory or disk; it must be
// called with m.mu held.  ok is false if there is no such entry.
func (m *Manager) loadEntry(key string) (e *entry, ok bool, err error) {
	if e, ok := m.active.Load(key); ok {
		return e, true, nil
	}
	if e, ok := m.configs.Get(key); ok {
		return e, true, nil
	}
	cfg, err := readJSONFile[Config](m.open, m.configPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	cfg.Fragments = cfg.Fragments.normalize()
	e = &entry{cfg: cfg}
	m.configs.Add(key, e)
	return e, true, nil
}

// Lookup returns a copy of the config of an existing entry.
func (m *Manager) Lookup(key string) (Config, error) {
	m.mu.Lock()
	e, ok, err := m.loadEntry(key)
	m.mu.Unlock()
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, nil
}

// acquire pins the entry for key as active, creating it if need be.
func (m *Manager) acquire(ctx context.Context, key, origin string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok, err := m.loadEntry(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		dlog.Infof(ctx, "new entry for origin %q", origin)
		e = &entry{cfg: *newConfig(key, origin, m.now()), dirty: true}
	}
	e.mu.Lock()
	if e.cfg.DataFile == "" {
		e.cfg.DataFile = m.dataName(key, e.cfg.Origin)
		e.dirty = true
	}
	if origin != "" && e.cfg.Origin == "" {
		e.cfg.Origin = origin
		e.dirty = true
	}
	if e.dirty {
		if err := m.saveConfigLocked(e); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	e.mu.Unlock()

	if e.refs == 0 {
		// The entry was just saved, so the eviction callback
		// has nothing to write.
		m.configs.Remove(key)
		m.active.Store(key, e)
	}
	e.refs++
	return e, nil
}

// release unpins an entry acquired by acquire.
func (m *Manager) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	m.active.Delete(key)
	m.configs.Add(key, e)
}

// isActive reports whether the entry for key is open.
func (m *Manager) isActive(key string) bool {
	_, ok := m.active.Load(key)
	return ok
}

// Open opens the entry for key, creating it (with origin as its
// origin URL) if it does not exist yet, and records a use of it.
func (m *Manager) Open(ctx context.Context, key, origin string) (*CacheFile, error) {
	ctx = dlog.WithField(ctx, "mediacache.key", key)
	e, err := m.acquire(ctx, key, origin)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	dataPath := filepath.Join(m.dir, e.cfg.DataFile)
	origin = e.cfg.Origin
	e.mu.Unlock()

	file, err := openCacheFile(m, key, e, dataPath)
	if err != nil {
		m.release(key, e)
		return nil, err
	}
	m.usage.Use(key, origin, m.now())
	m.saveUsage(ctx)
	dlog.Debugf(ctx, "opened %s", dataPath)
	return file, nil
}

// Clean removes the entry for key.  It fails with ErrBusy if the
// entry is open.
func (m *Manager) Clean(ctx context.Context, key string) error {
	ctx = dlog.WithField(ctx, "mediacache.key", key)
	if err := m.clean(ctx, key); err != nil {
		return err
	}
	m.saveUsage(ctx)
	return nil
}

func (m *Manager) clean(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isActive(key) {
		return fmt.Errorf("clean %q: %w", key, ErrBusy)
	}
	dlog.Infof(ctx, "cleaning")

	var dataFile string
	if e, ok := m.configs.Peek(key); ok {
		e.mu.Lock()
		e.dirty = false
		dataFile = e.cfg.DataFile
		e.mu.Unlock()
		m.configs.Remove(key)
	} else if cfg, err := readJSONFile[Config](m.open, m.configPath(key)); err == nil {
		dataFile = cfg.DataFile
	}
	m.usage.Delete(key)

	var errs derror.MultiError
	if err := os.Remove(m.configPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if dataFile != "" {
		if err := os.Remove(filepath.Join(m.dir, dataFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CleanAll removes every entry that is not open, and any stray files
// in the cache directory.
func (m *Manager) CleanAll(ctx context.Context) error {
	m.mu.Lock()
	keep := map[string]struct{}{
		usageFileName: {},
	}
	m.active.Range(func(key string, e *entry) bool {
		keep[m.fileName(key)+configExt] = struct{}{}
		e.mu.Lock()
		keep[e.cfg.DataFile] = struct{}{}
		e.mu.Unlock()
		return true
	})
	for _, key := range m.configs.Keys() {
		if e, ok := m.configs.Peek(key); ok {
			e.mu.Lock()
			e.dirty = false
			e.mu.Unlock()
		}
	}
	m.configs.Purge()
	m.usage.Retain(m.isActive)
	m.mu.Unlock()

	dlog.Infof(ctx, "cleaning all entries")
	dents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	var errs derror.MultiError
	for _, dent := range dents {
		if _, ok := keep[dent.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir, dent.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	m.saveUsage(ctx)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Size returns the total size of the files in the cache directory.
func (m *Manager) Size() (int64, error) {
	dents, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}
	var size int64
	for _, dent := range dents {
		info, err := dent.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
	}
	return size, nil
}

// CheckUsage removes entries, least valuable first, until the cache
// directory fits within the capacity limit or only open entries are
// left.  It returns the keys that were removed.
func (m *Manager) CheckUsage(ctx context.Context) ([]string, error) {
	var removed []string
	for {
		size, err := m.Size()
		if err != nil {
			return removed, err
		}
		capacity := m.Capacity()
		if size <= capacity {
			return removed, nil
		}
		dlog.Infof(ctx, "cache size %v exceeds capacity %v",
			textui.IEC(size, "B"), textui.IEC(capacity, "B"))
		victim, ok := m.usage.Oldest(m.isActive)
		if !ok {
			dlog.Infof(ctx, "nothing left to evict")
			return removed, nil
		}
		if err := m.clean(dlog.WithField(ctx, "mediacache.key", victim.Key), victim.Key); err != nil {
			if !errors.Is(err, ErrBusy) {
				dlog.Errorf(ctx, "evicting %q: %v", victim.Key, err)
			}
			// Forget it either way, so that the loop makes
			// progress.
			m.usage.Delete(victim.Key)
		} else {
			removed = append(removed, victim.Key)
		}
		m.saveUsage(ctx)
	}
}

// autoCheckUsage runs CheckUsage and re-evaluates write permission,
// if automatic checks are enabled and the last one was long enough
// ago.
func (m *Manager) autoCheckUsage(ctx context.Context) {
	if !m.autoCheck {
		return
	}
	m.mu.Lock()
	now := m.now()
	due := now.Sub(m.lastCheck) > AutoCheckInterval
	if due {
		m.lastCheck = now
	}
	m.mu.Unlock()
	if !due {
		return
	}
	if _, err := m.CheckUsage(ctx); err != nil {
		dlog.Errorf(ctx, "usage check: %v", err)
	}
	m.checkAllow(ctx)
}

// Entries returns the configs of all entries, sorted by key.
func (m *Manager) Entries(ctx context.Context) ([]Config, error) {
	dents, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var ret []Config
	for _, dent := range dents {
		if !strings.HasSuffix(dent.Name(), configExt) {
			continue
		}
		cfg, err := readJSONFile[Config](m.open, filepath.Join(m.dir, dent.Name()))
		if err != nil {
			dlog.Errorf(ctx, "skipping %s: %v", dent.Name(), err)
			continue
		}
		// Prefer the in-memory copy, which may be newer.
		if cur, err := m.Lookup(cfg.Key); err == nil {
			cfg = cur
		}
		ret = append(ret, cfg)
	}
	slices.SortFunc(ret, func(a, b Config) bool {
		return a.Key < b.Key
	})
	return ret, nil
}

// Close writes out every cached config that has unsaved changes.
// Open CacheFiles must be closed first.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs derror.MultiError
	for _, key := range m.configs.Keys() {
		e, ok := m.configs.Peek(key)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.dirty {
			if err := m.saveConfigLocked(e); err != nil {
				errs = append(errs, err)
			}
		}
		e.mu.Unlock()
	}
	if err := writeJSONFile(m.open, m.usagePath(), m.usage.snapshot()); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
