// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
)

func init() {
	var rangeArg rangeFlag
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "plan KEY",
			Short: "Show which parts of a range of entry KEY are cached, as JSON",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(mgr *mediacache.Manager, _ *cobra.Command, args []string) error {
			cfg, err := mgr.Lookup(args[0])
			if err != nil {
				return err
			}
			plan := mediacache.Plan(cfg.Fragments, rangeArg.resolve(cfg), mediacache.PacketLimit)
			if plan == nil {
				plan = []mediacache.Action{}
			}
			return writeJSON(os.Stdout, plan)
		},
	}
	cmd.Command.Flags().Var(&rangeArg, "range", "plan `BEG-END`, prefix:N, or suffix:N (default: the whole entry)")
	subcommands = append(subcommands, cmd)
}
