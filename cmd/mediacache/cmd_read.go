// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
)

func init() {
	var rangeArg rangeFlag
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "read KEY",
			Short: "Write the cached bytes of entry KEY to stdout",
			Long: "" +
				"Write the cached bytes of entry KEY to stdout.  It is an error if any\n" +
				"part of the requested range is not cached; use `plan` to see which\n" +
				"parts are.",
			Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(mgr *mediacache.Manager, cmd *cobra.Command, args []string) (err error) {
			ctx := dlog.WithField(cmd.Context(), "mediacache.step", "read")
			key := args[0]

			cfg, err := mgr.Lookup(key)
			if err != nil {
				return err
			}
			want := rangeArg.resolve(cfg)

			file, err := mgr.Open(ctx, key, "")
			if err != nil {
				return err
			}
			defer func() {
				if _err := file.Close(ctx); _err != nil && err == nil {
					err = _err
				}
			}()

			plan := file.Plan(want)
			for _, act := range plan {
				if act.Kind != mediacache.ActionLocal {
					return fmt.Errorf("%v: not cached: %v", key, act.Range)
				}
			}
			out := bufio.NewWriter(os.Stdout)
			for _, act := range plan {
				dat, err := file.ReadRange(ctx, act.Range)
				if err != nil {
					return err
				}
				if int64(len(dat)) < act.Range.Len() {
					return fmt.Errorf("%v: data file ends early at %d", key, act.Range.Beg+int64(len(dat)))
				}
				if _, err := out.Write(dat); err != nil {
					return err
				}
			}
			return out.Flush()
		},
	}
	cmd.Command.Flags().Var(&rangeArg, "range", "read only `BEG-END`, prefix:N, or suffix:N (default: the whole entry)")
	subcommands = append(subcommands, cmd)
}
