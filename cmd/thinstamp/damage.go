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

	"github.com/urfave/cli/v2"

	"github.com/thinmeta/thinstamp/internal/blockio"
	"github.com/thinmeta/thinstamp/internal/scenario"
)

var damageCommand = &cli.Command{
	Name:        "damage",
	Usage:       "Flip one byte inside a physical data block",
	ArgsUsage:   "<data-file>",
	Description: "Corrupts a single byte of the data file so a subsequent verify is guaranteed to fail. Useful for proving a verification setup can actually detect damage.",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:     "data-block",
			Usage:    "Physical block to damage",
			Required: true,
		},
		&cli.UintFlag{
			Name:  "block-size",
			Usage: "Data block size in 512-byte sectors",
			Value: 64,
		},
		&cli.Int64Flag{
			Name:  "offset",
			Usage: "Byte offset within the block",
		},
	},
	Action: func(cliContext *cli.Context) error {
		if cliContext.NArg() != 1 {
			return fmt.Errorf("usage: thinstamp damage [flags] <data-file>")
		}

		var (
			path      = cliContext.Args().First()
			dataBlock = cliContext.Uint64("data-block")
			blockSize = int(cliContext.Uint("block-size")) * blockio.SectorSize
			offset    = cliContext.Int64("offset")
		)
		if err := scenario.CorruptDataBlock(path, dataBlock, blockSize, offset); err != nil {
			return err
		}

		fmt.Printf("flipped byte %d of data block %d in %s\n", offset, dataBlock, path)
		return nil
	},
}
