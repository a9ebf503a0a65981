/*
Copyright © 2024 yesman-dev

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package xfer

import (
	"context"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

func init() {
	XferCmd.AddCommand(xferRmCmd)
	XferCmd.AddCommand(xferMkdirCmd)
}

// xferRmCmd represents the rm command
var xferRmCmd = &cobra.Command{
	Use:           "rm <REMOTE>...",
	Short:         "Delete files on the console",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return session(func(ctx context.Context, t transfer.FileTransport) error {
			for _, arg := range args {
				remote := transfer.NewTarget(arg)
				if err := t.Delete(ctx, remote); err != nil {
					return errors.Wrapf(err, "failed to delete %s", remote.Resolve())
				}
				log.WithField("path", remote.Resolve()).Info("Deleted")
			}
			return nil
		})
	},
}

// xferMkdirCmd represents the mkdir command
var xferMkdirCmd = &cobra.Command{
	Use:           "mkdir <REMOTE>",
	Short:         "Create a directory on the console",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote := transfer.NewTarget(args[0])
		return session(func(ctx context.Context, t transfer.FileTransport) error {
			if err := t.Mkdir(ctx, remote); err != nil {
				return errors.Wrapf(err, "failed to create %s", remote.Resolve())
			}
			return nil
		})
	},
}
