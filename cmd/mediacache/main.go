// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command mediacache inspects and manipulates a media cache directory.
package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/mediacache-ng/lib/diskio"
	"git.lukeshu.com/mediacache-ng/lib/mediacache"
	"git.lukeshu.com/mediacache-ng/lib/profile"
	"git.lukeshu.com/mediacache-ng/lib/textui"
)

type subcommand struct {
	cobra.Command
	RunE func(*mediacache.Manager, *cobra.Command, []string) error
}

var subcommands []subcommand

// faultFlag collects --inject-fault arguments.
type faultFlag struct {
	strs   []string
	faults map[string]*diskio.Fault
}

func (f *faultFlag) String() string { return "" }
func (f *faultFlag) Type() string   { return "OP:KIND[@SKIP]" }
func (f *faultFlag) Set(str string) error {
	op, fault, err := diskio.ParseFault(str)
	if err != nil {
		return err
	}
	if f.faults == nil {
		f.faults = make(map[string]*diskio.Fault)
	}
	f.faults[op] = fault
	f.strs = append(f.strs, str)
	return nil
}

// wrap returns an OpenFunc that injects the configured faults into
// every handle that open returns.
func (f *faultFlag) wrap(open mediacache.OpenFunc) mediacache.OpenFunc {
	if len(f.faults) == 0 {
		return open
	}
	return func(name string, flag int, perm fs.FileMode) (diskio.Handle, error) {
		h, err := open(name, flag, perm)
		if err != nil {
			return nil, err
		}
		return &diskio.FaultyHandle{Handle: h, Faults: f.faults}, nil
	}
}

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}
	dirFlag := filepath.Join(os.TempDir(), "mediacache")
	capacityFlag := textui.SizeFlag{Size: mediacache.DefaultCapacity}
	var autoCheckFlag, mmapFlag, positionalFlag bool
	var faults faultFlag

	argparser := &cobra.Command{
		Use:   "mediacache {[flags]|SUBCOMMAND}",
		Short: "Inspect and manipulate a media cache directory",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	argparser.PersistentFlags().StringVar(&dirFlag, "dir", dirFlag, "use `directory` as the cache directory")
	if err := argparser.MarkPersistentFlagDirname("dir"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().Var(&capacityFlag, "capacity", "limit the cache to `size` bytes (suffixes KiB, MiB, GiB, ... are accepted)")
	argparser.PersistentFlags().BoolVar(&autoCheckFlag, "auto-check-usage", false, "evict entries after writes and disable writing when the disk is nearly full")
	argparser.PersistentFlags().BoolVar(&mmapFlag, "mmap", false, "access cache files through memory mappings")
	argparser.PersistentFlags().BoolVar(&positionalFlag, "positional", false, "access cache files with positional reads and writes")
	argparser.PersistentFlags().Var(&faults, "inject-fault", "make file operation OP fail with KIND (enospc, edquot, eio, eacces, erofs, panic) after SKIP successful calls; for testing error handling")
	stopProfiling := profile.AddProfileFlags(argparser.PersistentFlags(), "profile.")

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
			ctx = dlog.WithLogger(ctx, logger)
			dlog.SetFallbackLogger(logger.WithField("mediacache.THIS_IS_A_BUG", true))

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) (err error) {
				maybeSetErr := func(_err error) {
					if _err != nil && err == nil {
						err = _err
					}
				}
				defer func() {
					maybeSetErr(stopProfiling())
				}()

				open := mediacache.OpenFunc(mediacache.OpenOS)
				switch {
				case mmapFlag:
					open = mediacache.OpenMmap
				case positionalFlag:
					open = mediacache.OpenPositional
				}
				mgr, err := mediacache.NewManager(ctx, mediacache.ManagerConfig{
					Dir:            dirFlag,
					Capacity:       capacityFlag.Size,
					AutoCheckUsage: autoCheckFlag,
					Open:           faults.wrap(open),
				})
				if err != nil {
					return err
				}
				defer func() {
					maybeSetErr(mgr.Close())
				}()

				cmd.SetContext(ctx)
				return runE(mgr, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
