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
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

var (
	colorMode    = color.New(color.FgHiBlue).SprintFunc()
	colorModTime = color.New(color.Faint).SprintFunc()
	colorSize    = color.New(color.FgHiCyan).SprintFunc()
	colorName    = color.New(color.Bold).SprintFunc()
)

func init() {
	XferCmd.AddCommand(xferStatCmd)
	XferCmd.AddCommand(xferExistsCmd)
}

// xferStatCmd represents the stat command
var xferStatCmd = &cobra.Command{
	Use:           "stat <REMOTE>...",
	Short:         "Show metadata of console paths",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return session(func(ctx context.Context, t transfer.FileTransport) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			for _, arg := range args {
				remote := transfer.NewTarget(arg)
				f, err := t.Stat(ctx, remote)
				if err != nil {
					return errors.Wrapf(err, "failed to stat %s", remote.Resolve())
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					colorMode(f.Mode()),
					colorModTime(f.ModTime().Format(time.RFC3339)),
					colorSize(humanize.Bytes(uint64(f.Size()))),
					colorName(remote.Resolve()),
				)
			}
			return nil
		})
	},
}

// xferExistsCmd represents the exists command
var xferExistsCmd = &cobra.Command{
	Use:           "exists <REMOTE>",
	Short:         "Check whether a console path exists",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote := transfer.NewTarget(args[0])
		return session(func(ctx context.Context, t transfer.FileTransport) error {
			ok, err := t.Exists(ctx, remote)
			if err != nil {
				return errors.Wrapf(err, "failed to check %s", remote.Resolve())
			}
			fmt.Println(ok)
			return nil
		})
	},
}
