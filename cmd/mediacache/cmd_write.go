// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/mediacache-ng/lib/mediacache"
	"git.lukeshu.com/mediacache-ng/lib/safefile"
	"git.lukeshu.com/mediacache-ng/lib/textui"
)

func init() {
	var offsetFlag int64
	packetFlag := textui.SizeFlag{Size: mediacache.PacketLimit, Min: 1}
	var contentTypeFlag string
	var totalLengthFlag int64
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "write KEY URL FILE",
			Short: "Copy FILE into the cache entry KEY (from origin URL)",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(3)),
		},
		RunE: func(mgr *mediacache.Manager, cmd *cobra.Command, args []string) (err error) {
			ctx := dlog.WithField(cmd.Context(), "mediacache.step", "write")
			key, origin, filename := args[0], args[1], args[2]

			src, err := os.Open(filename)
			if err != nil {
				return err
			}
			defer func() {
				_ = safefile.Close(src)
			}()
			size, err := safefile.SeekToEnd(src)
			if err != nil {
				return err
			}
			if err := safefile.SeekTo(src, 0); err != nil {
				return err
			}

			file, err := mgr.Open(ctx, key, origin)
			if err != nil {
				return err
			}
			defer func() {
				if _err := file.Close(ctx); _err != nil && err == nil {
					err = _err
				}
			}()

			progress := textui.NewProgress[textui.ByteProgress](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
			defer progress.Done()
			stats := textui.ByteProgress{D: size}
			for stats.N < size {
				dat, err := safefile.ReadBounded(src, packetFlag.Size)
				if err != nil {
					return err
				}
				if len(dat) == 0 {
					break
				}
				if err := file.WriteRange(ctx, offsetFlag+stats.N, dat); err != nil {
					return err
				}
				stats.N += int64(len(dat))
				progress.Set(stats)
			}

			info := file.ContentInfo()
			changed := false
			if contentTypeFlag != "" {
				info.Type = contentTypeFlag
				changed = true
			}
			switch {
			case totalLengthFlag > 0:
				info.TotalLength = totalLengthFlag
				changed = true
			case offsetFlag+stats.N > info.TotalLength:
				info.TotalLength = offsetFlag + stats.N
				changed = true
			}
			if changed {
				if err := file.SetContentInfo(ctx, info); err != nil {
					return err
				}
			}
			return file.Synchronize(ctx)
		},
	}
	cmd.Command.Flags().Int64Var(&offsetFlag, "offset", 0, "write FILE at byte `offset` of the entry")
	cmd.Command.Flags().Var(&packetFlag, "packet", "copy in packets of `size` bytes")
	cmd.Command.Flags().StringVar(&contentTypeFlag, "content-type", "", "record `type` as the entry's MIME type")
	cmd.Command.Flags().Int64Var(&totalLengthFlag, "total-length", 0, "record `length` as the entry's total length (default: the end of the data written, if larger than before)")
	subcommands = append(subcommands, cmd)
}
