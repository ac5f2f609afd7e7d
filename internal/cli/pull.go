// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/importd/rawimport/internal/progress"
	"github.com/importd/rawimport/pkg/rawimport"
)

func newPullCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var local string
	var forceLocal bool

	cmd := &cobra.Command{
		Use:   "pull URL [URL...]",
		Short: "Download one or more raw disk images into the cache",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applyRootDefaults(cmd, ro)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if local != "" && len(args) > 1 {
				return fmt.Errorf("--local can only be used with a single URL")
			}
			if ro.ImageRoot == "" {
				return fmt.Errorf("image root is required (--image-root or config)")
			}
			if err := os.MkdirAll(ro.ImageRoot, 0o755); err != nil {
				return fmt.Errorf("create image root: %w", err)
			}

			sess, err := rawimport.NewSession(ro.ImageRoot, nil, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			reporter, err := progress.NewReporter(args, ro.Quiet, ro.JSONOut, os.Stdout)
			if err != nil {
				return err
			}
			defer reporter.Close()

			type outcome struct {
				url string
				err error
			}
			results := make(chan outcome, len(args))

			for _, u := range args {
				u := u
				opts := rawimport.PullOptions{
					Local:      local,
					ForceLocal: forceLocal,
					Progress:   reporter.Handler(u),
				}
				resultCh, err := sess.Pull(ctx, u, opts)
				if err != nil {
					results <- outcome{url: u, err: err}
					continue
				}
				go func() {
					results <- outcome{url: u, err: <-resultCh}
				}()
			}

			var failed int
			for range args {
				o := <-results
				reporter.Done(o.url, o.err)
				if o.err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "rawpull: %s: %v\n", o.url, o.err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "Name a writable local copy to materialize at <image-root>/<name>.raw")
	cmd.Flags().BoolVar(&forceLocal, "force-local", false, "Overwrite an existing local copy of the same name")

	return cmd
}
