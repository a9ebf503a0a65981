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
	"errors"

	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/fatih/color"
	perrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/internal/config"
	"github.com/yesman-dev/yesman/pkg/transfer"
	"github.com/yesman-dev/yesman/pkg/transfer/backends"
)

func init() {
	XferCmd.PersistentFlags().StringP("backend", "b", "", "Transfer backend (ftp, filesystem, http)")
	XferCmd.PersistentFlags().String("host", "", "Console address")
	XferCmd.PersistentFlags().IntP("port", "p", 0, "Console port (default 21, 80 for http)")
	XferCmd.PersistentFlags().StringP("user", "u", "", "FTP user (default anonymous)")
	XferCmd.PersistentFlags().String("pass", "", "FTP password")
	XferCmd.PersistentFlags().Duration("timeout", 0, "Per call timeout before reconnecting (default 10s)")
	XferCmd.PersistentFlags().IntP("concurrency", "c", 0, "Parallel uploads per directory (0 is unbounded)")
	XferCmd.PersistentFlags().String("relay-host", "", "Address the console reaches this host on (http backend)")
	XferCmd.PersistentFlags().Int("relay-port", 0, "Relay server port (http backend, default 9898, 0 picks a free port)")
}

// XferCmd represents the xfer commands
var XferCmd = &cobra.Command{
	Use:     "xfer",
	Aliases: []string{"x"},
	Short:   "Move files to and from the console",
	Args:    cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("color", cmd.Flags().Lookup("color"))
		viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
		viper.BindPFlag("transfer.backend", cmd.Flags().Lookup("backend"))
		viper.BindPFlag("device.host", cmd.Flags().Lookup("host"))
		viper.BindPFlag("device.port", cmd.Flags().Lookup("port"))
		viper.BindPFlag("device.user", cmd.Flags().Lookup("user"))
		viper.BindPFlag("device.pass", cmd.Flags().Lookup("pass"))
		viper.BindPFlag("transfer.timeout", cmd.Flags().Lookup("timeout"))
		viper.BindPFlag("transfer.concurrency", cmd.Flags().Lookup("concurrency"))
		viper.BindPFlag("relay.host", cmd.Flags().Lookup("relay-host"))
		viper.BindPFlag("relay.port", cmd.Flags().Lookup("relay-port"))

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// session connects the configured backend, runs fn and disconnects.
// Ctrl-C cancels fn.
func session(fn func(ctx context.Context, t transfer.FileTransport) error, opts ...transfer.ResilientOption) error {
	conf, err := config.LoadConfig()
	if err != nil {
		return err
	}
	tconf, err := conf.TransferConfig()
	if err != nil {
		return err
	}

	inner, err := backends.NewRegistry().New(conf.Backend(), tconf)
	if err != nil {
		return err
	}
	t := transfer.NewResilient(inner, append([]transfer.ResilientOption{
		transfer.WithCallTimeout(conf.Transfer.Timeout),
		transfer.WithConcurrency(conf.Transfer.Concurrency),
	}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.WithFields(log.Fields{
		"backend": conf.Backend(),
		"host":    tconf.Host,
		"port":    tconf.Port,
	}).Debug("Connecting")
	if err := t.Connect(ctx); err != nil {
		return perrors.Wrapf(err, "failed to connect to %s", tconf.Host)
	}
	defer func() {
		if err := t.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("failed to disconnect")
		}
	}()

	if err := ctrlc.Default.Run(ctx, func() error {
		return fn(ctx, t)
	}); err != nil {
		if errors.As(err, &ctrlc.ErrorCtrlC{}) {
			log.Warn("Exiting...")
			return nil
		}
		return err
	}
	return nil
}
