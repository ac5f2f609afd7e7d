// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// RootOpts holds global CLI options, populated from flags then backfilled
// from a config file for anything the user didn't pass explicitly (flags
// override config file values override built-in defaults).
type RootOpts struct {
	ImageRoot string
	Quiet     bool
	JSONOut   bool
	Config    string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "rawpull",
		Short:         "Download, decompress, and cache raw disk images over HTTP(S)",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVar(&ro.ImageRoot, "image-root", "", "Directory the cache and local copies live under (default: "+defaultImageRoot()+")")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Suppress progress bars")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON progress events instead of bars")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")

	root.AddCommand(newPullCmd(ctx, ro))
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// defaultImageRoot gives rawpull a stable absolute home when no flag or
// config entry sets one, in the same spirit as the teacher's fixed relative
// "Storage" default but rooted under the user's cache directory since
// image_root must already exist at pull time (spec §3).
func defaultImageRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "rawpull", "images")
	}
	return "./rawpull-images"
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
