/*
   Copyright The thinstamp Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/containerd/errdefs"
	"github.com/urfave/cli/v2"

	"github.com/thinmeta/thinstamp/internal/stamp"
	"github.com/thinmeta/thinstamp/internal/walk"
)

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "Verify every block the description maps against its fingerprint",
	ArgsUsage: "<description.xml> <data-file>",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:     "seed",
			Usage:    "Fingerprint seed the blocks were stamped with",
			Required: true,
		},
	},
	Action: func(cliContext *cli.Context) error {
		if cliContext.NArg() != 2 {
			return fmt.Errorf("a description and a data file are required: %w", errdefs.ErrInvalidArgument)
		}

		desc, err := os.Open(cliContext.Args().Get(0))
		if err != nil {
			return err
		}
		defer desc.Close()

		data, err := os.Open(cliContext.Args().Get(1))
		if err != nil {
			return err
		}
		defer data.Close()

		v := stamp.NewVerifier(data, cliContext.Uint64("seed"))
		if err := walk.Blocks(cliContext.Context, desc, v); err != nil {
			return err
		}

		fmt.Printf("verified %d blocks\n", v.Blocks())
		return nil
	},
}
