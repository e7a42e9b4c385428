// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/mediacache-ng/lib/textui"
)

func TestByteProgress(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "50% (1.5KiB/3KiB)", fmt.Sprint(textui.ByteProgress{N: 1536, D: 3072}))
	assert.Equal(t, "100% (0B/0B)", fmt.Sprint(textui.ByteProgress{}))
}

func TestProgressDoneWithoutSet(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelInfo))
	prog := textui.NewProgress[textui.ByteProgress](ctx, dlog.LogLevelInfo, time.Second)
	prog.Done()
	assert.Equal(t, "", out.String())
}

func TestProgressLogsLastValue(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelInfo))
	prog := textui.NewProgress[textui.ByteProgress](ctx, dlog.LogLevelInfo, time.Hour)
	prog.Set(textui.ByteProgress{N: 1, D: 4})
	prog.Set(textui.ByteProgress{N: 4, D: 4})
	prog.Done()
	assert.Contains(t, out.String(), "100% (4B/4B)")
}
