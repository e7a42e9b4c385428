// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"time"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
	"git.lukeshu.com/mediacache-ng/lib/textui"
)

type lsEntry struct {
	Key       string              `json:"key"`
	Origin    string              `json:"origin"`
	Type      string              `json:"type"`
	Fragments mediacache.RangeSet `json:"fragments"`
	Cached    string              `json:"cached"`
	LastUsed  time.Time           `json:"lastUsed"`
}

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "ls",
			Short: "List the cache entries as JSON",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(mgr *mediacache.Manager, cmd *cobra.Command, _ []string) error {
			cfgs, err := mgr.Entries(cmd.Context())
			if err != nil {
				return err
			}
			list := make([]lsEntry, 0, len(cfgs))
			for _, cfg := range cfgs {
				n, d := cfg.Cached()
				list = append(list, lsEntry{
					Key:       cfg.Key,
					Origin:    cfg.Origin,
					Type:      cfg.ContentInfo.Type,
					Fragments: cfg.Fragments,
					Cached:    textui.Portion[int64]{N: n, D: d}.String(),
					LastUsed:  cfg.LastUsed,
				})
			}
			return writeJSON(os.Stdout, list)
		},
	})
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "dump KEY",
			Short: "Dump everything known about entry KEY",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(mgr *mediacache.Manager, _ *cobra.Command, args []string) error {
			cfg, err := mgr.Lookup(args[0])
			if err != nil {
				return err
			}
			spew := spew.NewDefaultConfig()
			spew.DisablePointerAddresses = true
			spew.Fdump(os.Stdout, cfg)
			return nil
		},
	})
}
