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
package xreg

import (
	"encoding/json"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/pkg/xreg"
)

func init() {
	XregCmd.AddCommand(xregDumpCmd)
	xregDumpCmd.Flags().BoolP("json", "j", false, "Output the key hierarchy as JSON")
	viper.BindPFlag("xreg.dump.json", xregDumpCmd.Flags().Lookup("json"))
}

// xregDumpCmd represents the dump command
var xregDumpCmd = &cobra.Command{
	Use:   "dump <xRegistry.sys>",
	Short: "Dump every registry entry",
	Example: heredoc.Doc(`
		# List all settings
		❯ yesman xreg dump xRegistry.sys
		# Nested JSON view
		❯ yesman xreg dump xRegistry.sys --json`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")

		reg, err := xreg.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", args[0])
		}
		log.WithField("entries", len(reg.Entries())).Debug("Parsed registry")

		if viper.GetBool("xreg.dump.json") {
			tree, err := reg.Hierarchy()
			if err != nil {
				return err
			}
			dat, err := json.MarshalIndent(tree, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal registry")
			}
			fmt.Println(string(dat))
			return nil
		}

		fmt.Print(reg)
		return nil
	},
}
