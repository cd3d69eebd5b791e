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

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/thinmeta/thinstamp/internal/pool"
)

// layoutFlags describe the synthesized pool; generate and check share them.
var layoutFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "flavor",
		Usage: "Pool layout: empty, single, fragmented, multi",
		Value: "single",
	},
	&cli.UintFlag{
		Name:  "dev-id",
		Usage: "Thin device ID",
		Value: 1,
	},
	&cli.Uint64Flag{
		Name:  "blocks",
		Usage: "Mapped blocks per device for the single and multi layouts",
		Value: 128,
	},
	&cli.Uint64Flag{
		Name:  "data-begin",
		Usage: "First physical block of the single layout's mapping",
	},
	&cli.Int64Flag{
		Name:  "layout-seed",
		Usage: "Seed for the fragmented layout",
	},
	&cli.IntFlag{
		Name:  "runs",
		Usage: "Mapping runs for the fragmented layout",
		Value: 32,
	},
	&cli.Uint64Flag{
		Name:  "max-run-len",
		Usage: "Longest mapping run for the fragmented layout",
		Value: 16,
	},
	&cli.UintFlag{
		Name:  "devices",
		Usage: "Device count for the multi layout",
		Value: 4,
	},
}

var generateCommand = &cli.Command{
	Name:      "generate",
	Usage:     "Generate a pool description",
	ArgsUsage: "<output.xml>",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "uuid",
			Usage: "Pool UUID (random when empty)",
		},
		&cli.UintFlag{
			Name:  "block-size",
			Usage: "Data block size in 512-byte sectors",
			Value: 64,
		},
		&cli.Uint64Flag{
			Name:  "nr-data-blocks",
			Usage: "Total data blocks in the pool",
			Value: 1024,
		},
	}, layoutFlags...),
	Action: func(cliContext *cli.Context) error {
		output := cliContext.Args().First()
		if output == "" {
			return fmt.Errorf("an output path is required: %w", errdefs.ErrInvalidArgument)
		}

		base := pool.Pool{
			UUID:         cliContext.String("uuid"),
			BlockSize:    uint32(cliContext.Uint("block-size")),
			NrDataBlocks: cliContext.Uint64("nr-data-blocks"),
		}
		if base.UUID == "" {
			base.UUID = uuid.New().String()
		}

		g, err := generatorFromFlags(cliContext, base)
		if err != nil {
			return err
		}
		return pool.WriteFile(output, g)
	},
}

func generatorFromFlags(cliContext *cli.Context, base pool.Pool) (pool.Generator, error) {
	switch flavor := cliContext.String("flavor"); flavor {
	case "empty":
		return pool.Empty{Pool: base}, nil
	case "single":
		return pool.SingleThin{
			Pool:      base,
			DevID:     uint32(cliContext.Uint("dev-id")),
			DataBegin: cliContext.Uint64("data-begin"),
			Blocks:    cliContext.Uint64("blocks"),
		}, nil
	case "fragmented":
		return pool.Fragmented{
			Pool:      base,
			DevID:     uint32(cliContext.Uint("dev-id")),
			Seed:      cliContext.Int64("layout-seed"),
			Runs:      cliContext.Int("runs"),
			MaxRunLen: cliContext.Uint64("max-run-len"),
		}, nil
	case "multi":
		return pool.MultiThin{
			Pool:            base,
			Devices:         uint32(cliContext.Uint("devices")),
			BlocksPerDevice: cliContext.Uint64("blocks"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown pool flavor %q: %w", flavor, errdefs.ErrInvalidArgument)
	}
}
