// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
	"git.lukeshu.com/mediacache-ng/lib/textui"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "clean KEY...",
			Short: "Remove the cache entries KEY...",
			Args:  cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		},
		RunE: func(mgr *mediacache.Manager, cmd *cobra.Command, args []string) error {
			for _, key := range args {
				if err := mgr.Clean(cmd.Context(), key); err != nil {
					return err
				}
			}
			return nil
		},
	})
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "clean-all",
			Short: "Remove every cache entry",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(mgr *mediacache.Manager, cmd *cobra.Command, _ []string) error {
			return mgr.CleanAll(cmd.Context())
		},
	})
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "usage",
			Short: "Show how much of the capacity limit the cache uses",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(mgr *mediacache.Manager, _ *cobra.Command, _ []string) error {
			size, err := mgr.Size()
			if err != nil {
				return err
			}
			capacity := mgr.Capacity()
			textui.Fprintf(os.Stdout, "%v of %v (%v bytes of %v)\n",
				textui.IEC(size, "B"), textui.IEC(capacity, "B"),
				size, capacity)
			return nil
		},
	})
	var timeWeightFlag, useWeightFlag int
	checkUsage := subcommand{
		Command: cobra.Command{
			Use:   "check-usage",
			Short: "Evict entries until the cache fits within its capacity limit",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(mgr *mediacache.Manager, cmd *cobra.Command, _ []string) error {
			timeWeight, useWeight := mgr.Weights()
			if cmd.Flags().Changed("time-weight") {
				timeWeight = timeWeightFlag
			}
			if cmd.Flags().Changed("use-weight") {
				useWeight = useWeightFlag
			}
			mgr.SetWeights(timeWeight, useWeight)

			removed, err := mgr.CheckUsage(cmd.Context())
			for _, key := range removed {
				textui.Fprintf(os.Stdout, "evicted %s\n", key)
			}
			return err
		},
	}
	checkUsage.Command.Flags().IntVar(&timeWeightFlag, "time-weight", 0, "weigh how recently an entry was used by `n` (default: the saved weight)")
	checkUsage.Command.Flags().IntVar(&useWeightFlag, "use-weight", 0, "weigh how often an entry was used by `n` (default: the saved weight)")
	subcommands = append(subcommands, checkUsage)
}
