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
	"encoding/hex"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/pkg/sfo"
)

func init() {
	SfoCmd.AddCommand(sfoSetCmd)
	sfoSetCmd.Flags().Bool("int", false, "Store VALUE as a little-endian uint32")
	sfoSetCmd.Flags().BoolP("hex", "x", false, "VALUE is hex encoded raw bytes")
	sfoSetCmd.Flags().StringP("output", "o", "", "Write to this file instead of in place")
	sfoSetCmd.MarkFlagsMutuallyExclusive("int", "hex")
	viper.BindPFlag("sfo.set.int", sfoSetCmd.Flags().Lookup("int"))
	viper.BindPFlag("sfo.set.hex", sfoSetCmd.Flags().Lookup("hex"))
	viper.BindPFlag("sfo.set.output", sfoSetCmd.Flags().Lookup("output"))
}

// sfoSetCmd represents the set command
var sfoSetCmd = &cobra.Command{
	Use:   "set <SFO> <KEY> <VALUE>",
	Short: "Overwrite the value of an existing param",
	Example: heredoc.Doc(`
		# Clear the owning account of a save
		❯ yesman sfo set PARAM.SFO ACCOUNT_ID --hex 00000000000000000000000000000000
		# Change a title
		❯ yesman sfo set PARAM.SFO TITLE "My Save" -o PARAM.new.SFO
		# Set an integer param
		❯ yesman sfo set PARAM.SFO PARENTAL_LEVEL 0 --int`),
	Args:          cobra.ExactArgs(3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")

		s, err := sfo.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", args[0])
		}

		key, value := args[1], args[2]
		switch {
		case viper.GetBool("sfo.set.int"):
			n, err := cast.ToUint32E(value)
			if err != nil {
				return errors.Wrapf(err, "invalid integer %q", value)
			}
			err = s.SetUint32(key, n)
			if err != nil {
				return err
			}
		case viper.GetBool("sfo.set.hex"):
			raw, err := hex.DecodeString(value)
			if err != nil {
				return errors.Wrapf(err, "invalid hex value %q", value)
			}
			if err := s.Set(key, raw); err != nil {
				return err
			}
		default:
			if err := s.SetString(key, value); err != nil {
				return err
			}
		}

		out := viper.GetString("sfo.set.output")
		if out == "" {
			out = args[0]
		}
		if err := s.Write(out); err != nil {
			return errors.Wrapf(err, "failed to write %s", out)
		}
		log.WithFields(log.Fields{"key": key, "file": out}).Info("Updated")
		return nil
	},
}
