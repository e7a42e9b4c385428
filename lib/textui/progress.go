// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
)

type Stats interface {
	comparable
	fmt.Stringer
}

// Progress periodically logs the most recent value passed to Set.
type Progress[T Stats] struct {
	ctx      context.Context //nolint:containedctx // For detecting shutdown from methods
	lvl      dlog.LogLevel
	interval time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once

	cur     atomic.Value // Value[T]
	oldStat T
	oldLine string
}

func NewProgress[T Stats](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	ctx, cancel := context.WithCancel(ctx)
	ret := &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,

		cancel: cancel,
		done:   make(chan struct{}),
	}
	return ret
}

func (p *Progress[T]) Set(val T) {
	p.cur.Store(val)
	p.startOnce.Do(func() { go p.run() })
}

// Done logs the final value (if any value was ever set) and stops the
// background logger.
func (p *Progress[T]) Done() {
	p.cancel()
	p.startOnce.Do(func() { close(p.done) })
	<-p.done
}

func (p *Progress[T]) flush(force bool) {
	cur, ok := p.cur.Load().(T)
	if !ok {
		return
	}
	if !force && cur == p.oldStat {
		return
	}
	defer func() { p.oldStat = cur }()

	line := cur.String()
	if !force && line == p.oldLine {
		return
	}
	defer func() { p.oldLine = line }()

	dlog.Log(p.ctx, p.lvl, line)
}

func (p *Progress[T]) run() {
	p.flush(true)
	ticker := time.NewTicker(p.interval)
	for {
		select {
		case <-p.ctx.Done():
			ticker.Stop()
			p.flush(false)
			close(p.done)
			return
		case <-ticker.C:
			p.flush(false)
		}
	}
}

// ByteProgress renders a count of bytes transferred out of a total.
//
// For example:
//
//	fmt.Sprint(ByteProgress{N: 1536, D: 3072}) ⇒ "50% (1.5KiB/3KiB)"
type ByteProgress struct {
	N, D int64
}

var _ fmt.Stringer = ByteProgress{}

// String implements fmt.Stringer.
func (p ByteProgress) String() string {
	pct := int64(100)
	if p.D > 0 {
		pct = (p.N * 100) / p.D
	}
	return Sprintf("%d%% (%v/%v)", pct, IEC(p.N, "B"), IEC(p.D, "B"))
}
