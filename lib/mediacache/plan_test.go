// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache_test

import (
	"strings"
	"testing"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
)

func local(beg, end int64) mediacache.Action {
	return mediacache.Action{Kind: mediacache.ActionLocal, Range: R{beg, end}}
}

func remote(beg, end int64) mediacache.Action {
	return mediacache.Action{Kind: mediacache.ActionRemote, Range: R{beg, end}}
}

func TestPlan(t *testing.T) {
	t.Parallel()
	type testcase struct {
		Have mediacache.RangeSet
		Want R
		Exp  []mediacache.Action
	}
	testcases := map[string]testcase{
		"invalid":   {nil, R{5, 5}, nil},
		"nothing":   {nil, R{0, 100}, []mediacache.Action{remote(0, 100)}},
		"disjoint":  {mediacache.RangeSet{{200, 300}}, R{0, 100}, []mediacache.Action{remote(0, 100)}},
		"all":       {mediacache.RangeSet{{0, 100}}, R{10, 50}, []mediacache.Action{local(10, 40), local(40, 50)}},
		"head":      {mediacache.RangeSet{{0, 20}}, R{10, 50}, []mediacache.Action{local(10, 20), remote(20, 50)}},
		"tail":      {mediacache.RangeSet{{40, 100}}, R{10, 50}, []mediacache.Action{remote(10, 40), local(40, 50)}},
		"middle":    {mediacache.RangeSet{{20, 30}}, R{10, 50}, []mediacache.Action{remote(10, 20), local(20, 30), remote(30, 50)}},
		"two-holes": {mediacache.RangeSet{{0, 15}, {30, 35}}, R{10, 50}, []mediacache.Action{local(10, 15), remote(15, 30), local(30, 35), remote(35, 50)}},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Exp, mediacache.Plan(tc.Have, tc.Want, 30))
		})
	}
}

func TestPlanCoversWant(t *testing.T) {
	t.Parallel()
	have := mediacache.RangeSet{{3, 9}, {17, 40}, {41, 42}, {90, 200}}
	want := R{0, 100}
	plan := mediacache.Plan(have, want, 7)
	cur := want.Beg
	for _, act := range plan {
		assert.Equal(t, cur, act.Range.Beg)
		if act.Kind == mediacache.ActionLocal {
			assert.LessOrEqual(t, act.Range.Len(), int64(7))
			assert.True(t, have.Covers(act.Range))
		}
		cur = act.Range.End
	}
	assert.Equal(t, want.End, cur)
}

func TestActionJSON(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	require.NoError(t, lowmemjson.NewEncoder(&out).Encode([]mediacache.Action{local(0, 5), remote(5, 9)}))
	assert.Equal(t, `[{"kind":"local","beg":0,"end":5},{"kind":"remote","beg":5,"end":9}]`, strings.TrimSpace(out.String()))
}
