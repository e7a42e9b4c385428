// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package profile

import (
	"os"

	"github.com/datawire/dlib/derror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"git.lukeshu.com/mediacache-ng/lib/safefile"
)

type flagSet struct {
	shutdown []StopFunc
}

// Stop stops every running profile in the order they were started,
// and collects all failures.
func (fs *flagSet) Stop() error {
	var errs derror.MultiError
	for _, fn := range fs.shutdown {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	fs.shutdown = nil
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type flagValue struct {
	parent *flagSet
	start  startFunc
	curVal string
}

var _ pflag.Value = (*flagValue)(nil)

// String implements pflag.Value.
func (fv *flagValue) String() string { return fv.curVal }

// Type implements pflag.Value.
func (*flagValue) Type() string { return "filename" }

// Set implements pflag.Value.
func (fv *flagValue) Set(filename string) error {
	if filename == "" {
		return nil
	}
	fh, err := os.Create(filename)
	if err != nil {
		return err
	}
	stop, err := fv.start(fh)
	if err != nil {
		_ = safefile.Close(fh)
		return err
	}
	fv.curVal = filename
	fv.parent.shutdown = append(fv.parent.shutdown, func() error {
		if err := stop(); err != nil {
			_ = safefile.Close(fh)
			return err
		}
		if err := safefile.Synchronize(fh); err != nil {
			_ = safefile.Close(fh)
			return err
		}
		return safefile.Close(fh)
	})
	return nil
}

func addFlag(flags *pflag.FlagSet, root *flagSet, name string, start startFunc, usage string) {
	flags.Var(&flagValue{parent: root, start: start}, name, usage)
	_ = cobra.MarkFlagFilename(flags, name)
}

// AddProfileFlags adds "--<prefix>cpu", "--<prefix>trace", and one
// flag per named runtime profile to flags.  The returned function
// must be called at shutdown to flush the profiles to disk.
func AddProfileFlags(flags *pflag.FlagSet, prefix string) StopFunc {
	root := new(flagSet)
	addFlag(flags, root, prefix+"cpu", CPU,
		"Write a CPU profile to the file `cpu.pprof`")
	addFlag(flags, root, prefix+"trace", Trace,
		"Write a trace (https://pkg.go.dev/runtime/trace) to the file `trace.out`")
	for _, name := range namedProfiles {
		addFlag(flags, root, prefix+name, Named(name),
			"Write a "+name+" profile to the file `"+name+".pprof`")
	}
	return root.Stop
}
