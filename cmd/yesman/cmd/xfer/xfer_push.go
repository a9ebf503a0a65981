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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

func init() {
	XferCmd.AddCommand(xferPushCmd)
	xferPushCmd.Flags().Bool("no-progress", false, "Do not show a progress bar for directory uploads")
	viper.BindPFlag("xfer.push.no-progress", xferPushCmd.Flags().Lookup("no-progress"))
}

// treeSize returns the number of files below root and their total size
func treeSize(root string) (files int, size int64, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}

func newPushBar(p *mpb.Progress, size int64) *mpb.Bar {
	return p.New(size,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
		mpb.PrependDecorators(
			decor.CountersKibiByte("\t% 6.1f / % 6.1f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅"),
			decor.Name(" ] "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f"),
		),
	)
}

// xferPushCmd represents the push command
var xferPushCmd = &cobra.Command{
	Use:     "push <LOCAL> <REMOTE>",
	Aliases: []string{"send"},
	Short:   "Upload a file or directory tree to the console",
	Long: heredoc.Doc(`
		Upload a file or directory tree to the console.

		A file pushed to a REMOTE whose last segment has no dot is placed inside
		it (REMOTE is treated as a directory). Name the full target path to
		upload files without an extension.`),
	Example: heredoc.Doc(`
		# Install a game folder over FTP
		❯ yesman xfer push NPUB00001 /dev_hdd0/game/NPUB00001 --host 192.168.1.20
		# Drop a trophy file into its folder through the web server relay
		❯ yesman xfer push TROPUSR.DAT /dev_hdd0/home/00000001/trophy/NPWR00001_00 -b http --host 192.168.1.20`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		remote := transfer.NewTarget(args[1])

		files, size := 1, info.Size()
		if info.IsDir() {
			if files, size, err = treeSize(args[0]); err != nil {
				return errors.Wrapf(err, "failed to walk %s", args[0])
			}
		}

		var (
			p    *mpb.Progress
			bar  *mpb.Bar
			opts []transfer.ResilientOption
		)
		if info.IsDir() && !viper.GetBool("xfer.push.no-progress") {
			p = mpb.New(mpb.WithWidth(60))
			bar = newPushBar(p, size)
			opts = append(opts, transfer.WithProgress(func(local string, _ transfer.Target) {
				if fi, err := os.Stat(local); err == nil {
					bar.IncrInt64(fi.Size())
				}
			}))
		}

		err = session(func(ctx context.Context, t transfer.FileTransport) error {
			log.WithFields(log.Fields{
				"src":   args[0],
				"dst":   remote.Resolve(),
				"files": files,
				"size":  humanize.Bytes(uint64(size)),
			}).Info("Pushing")
			if err := t.Send(ctx, args[0], remote); err != nil {
				return errors.Wrapf(err, "failed to push %s", args[0])
			}
			return nil
		}, opts...)

		if p != nil {
			if err != nil || !bar.Completed() {
				bar.Abort(false)
			}
			p.Wait()
		}
		return err
	},
}
