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
	"fmt"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/pkg/sfo"
)

func init() {
	SfoCmd.AddCommand(sfoGetCmd)
	sfoGetCmd.Flags().BoolP("hex", "x", false, "Print the raw value as hex")
	viper.BindPFlag("sfo.get.hex", sfoGetCmd.Flags().Lookup("hex"))
}

// sfoGetCmd represents the get command
var sfoGetCmd = &cobra.Command{
	Use:           "get <SFO> <KEY>",
	Short:         "Print the value of a param",
	Args:          cobra.ExactArgs(2),
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
		p, err := s.Get(args[1])
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"format": p.Format(),
			"length": p.Length(),
			"max":    p.MaxLength(),
		}).Debug(p.Key)

		if viper.GetBool("sfo.get.hex") {
			fmt.Println(hex.EncodeToString(p.Value))
			return nil
		}
		fmt.Println(p)
		return nil
	},
}
