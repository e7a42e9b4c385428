// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"fmt"
	"io"

	"golang.org/x/exp/slices"

	"git.lukeshu.com/mediacache-ng/lib/textui"
)

// PacketLimit is the most bytes a single local Action reads from the
// data file.
var PacketLimit = textui.Tunable(int64(1) << 20)

type ActionKind int

const (
	// ActionLocal is served from the data file.
	ActionLocal ActionKind = iota
	// ActionRemote must be fetched from the origin.
	ActionRemote
)

func (k ActionKind) String() string {
	switch k {
	case ActionLocal:
		return "local"
	case ActionRemote:
		return "remote"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// An Action is one step of serving a requested range.
type Action struct {
	Kind  ActionKind
	Range Range
}

func (a Action) String() string {
	return fmt.Sprintf("%v:%v", a.Kind, a.Range)
}

// EncodeJSON implements lowmemjson.Encodable.
func (a Action) EncodeJSON(w io.Writer) error {
	_, err := fmt.Fprintf(w, `{"kind":%q,"beg":%d,"end":%d}`, a.Kind, a.Range.Beg, a.Range.End)
	return err
}

// Plan works out how to serve want, given the bytes that are already
// cached.  Cached bytes become local actions of at most packetLimit
// bytes each, the gaps between them become remote actions, and the
// result is ordered by offset.  An invalid want gives an empty plan.
func Plan(have RangeSet, want Range, packetLimit int64) []Action {
	if !want.Valid() {
		return nil
	}
	var local []Range
	for _, r := range have.Overlaps(want) {
		local = append(local, r.Clamp(want).Split(packetLimit)...)
	}
	if len(local) == 0 {
		return []Action{{Kind: ActionRemote, Range: want}}
	}
	actions := make([]Action, 0, 2*len(local)+1)
	for _, r := range local {
		actions = append(actions, Action{Kind: ActionLocal, Range: r})
	}
	for _, r := range want.Subtract(have) {
		actions = append(actions, Action{Kind: ActionRemote, Range: r})
	}
	slices.SortFunc(actions, func(a, b Action) bool {
		return a.Range.Beg < b.Range.Beg
	})
	return actions
}
