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
package sfo

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/pkg/sfo"
)

func init() {
	SfoCmd.AddCommand(sfoPatchCmd)
	sfoPatchCmd.Flags().StringSliceP("key", "k", []string{}, "Only copy these keys (default: every shared key)")
	sfoPatchCmd.Flags().StringP("output", "o", "", "Write to this file instead of in place")
	viper.BindPFlag("sfo.patch.key", sfoPatchCmd.Flags().Lookup("key"))
	viper.BindPFlag("sfo.patch.output", sfoPatchCmd.Flags().Lookup("output"))
}

// sfoPatchCmd represents the patch command
var sfoPatchCmd = &cobra.Command{
	Use:   "patch <SFO> <SOURCE SFO>",
	Short: "Copy param values from another SFO file",
	Example: heredoc.Doc(`
		# Re-sign a save for the local account
		❯ yesman sfo patch SAVE/PARAM.SFO MY_SAVE/PARAM.SFO -k ACCOUNT_ID -k PARAMS`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")

		dst, err := sfo.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", args[0])
		}
		src, err := sfo.Open(args[1])
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", args[1])
		}

		keys := viper.GetStringSlice("sfo.patch.key")
		if err := dst.Update(src, keys, false); err != nil {
			return errors.Wrap(err, "failed to copy params")
		}

		out := viper.GetString("sfo.patch.output")
		if out == "" {
			out = args[0]
		}
		if err := dst.Write(out); err != nil {
			return errors.Wrapf(err, "failed to write %s", out)
		}
		log.WithField("file", out).Info("Patched")
		return nil
	},
}
