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

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/pkg/sfo"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

func init() {
	XferCmd.AddCommand(xferCatCmd)
	xferCatCmd.Flags().Bool("sfo", false, "Parse the file as SFO and dump it")
	viper.BindPFlag("xfer.cat.sfo", xferCatCmd.Flags().Lookup("sfo"))
}

// xferCatCmd represents the cat command
var xferCatCmd = &cobra.Command{
	Use:           "cat <REMOTE>",
	Short:         "Print a file from the console",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote := transfer.NewTarget(args[0])

		return session(func(ctx context.Context, t transfer.FileTransport) error {
			data, err := t.GetBytes(ctx, remote)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", remote.Resolve())
			}
			if viper.GetBool("xfer.cat.sfo") {
				s, err := sfo.Parse(data)
				if err != nil {
					return errors.Wrapf(err, "failed to parse %s", remote.Resolve())
				}
				fmt.Println(s)
				return nil
			}
			_, err = os.Stdout.Write(data)
			return err
		})
	},
}
