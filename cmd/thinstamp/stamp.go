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

var stampCommand = &cli.Command{
	Name:      "stamp",
	Usage:     "Stamp a fingerprint into every block the description maps",
	ArgsUsage: "<description.xml> <data-file>",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "Fingerprint seed (random when unset)",
		},
	},
	Action: func(cliContext *cli.Context) error {
		if cliContext.NArg() != 2 {
			return fmt.Errorf("a description and a data file are required: %w", errdefs.ErrInvalidArgument)
		}

		seed, err := seedFromFlags(cliContext)
		if err != nil {
			return err
		}

		desc, err := os.Open(cliContext.Args().Get(0))
		if err != nil {
			return err
		}
		defer desc.Close()

		data, err := os.OpenFile(cliContext.Args().Get(1), os.O_WRONLY, 0)
		if err != nil {
			return err
		}

		s := stamp.NewStamper(data, seed)
		err = walk.Blocks(cliContext.Context, desc, s)
		if cerr := data.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		fmt.Printf("stamped %d blocks with seed %d\n", s.Blocks(), seed)
		return nil
	},
}
