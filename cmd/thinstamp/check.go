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

	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/thinmeta/thinstamp/internal/pool"
	"github.com/thinmeta/thinstamp/internal/scenario"
	"github.com/thinmeta/thinstamp/internal/thinshrink"
)

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "Run a full stamp, transform, verify scenario",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the scenario TOML configuration",
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Working directory for artifacts (a temporary one when empty)",
		},
		&cli.StringFlag{
			Name:  "tool",
			Usage: "Metadata rewriting binary to invoke",
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "Fingerprint seed (random when unset)",
		},
		&cli.UintFlag{
			Name:  "block-size",
			Usage: "Data block size in 512-byte sectors",
		},
		&cli.Uint64Flag{
			Name:  "nr-data-blocks",
			Usage: "Total data blocks in the pool",
		},
		&cli.Uint64Flag{
			Name:  "target-blocks",
			Usage: "Data block count to shrink the pool to",
		},
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Journal database to record the run in",
		},
		&cli.BoolFlag{
			Name:  "digest",
			Usage: "Record data file digests in the run record",
		},
		&cli.BoolFlag{
			Name:  "prealloc",
			Usage: "Back the data file with real extents instead of holes",
		},
		&cli.BoolFlag{
			Name:  "keep",
			Usage: "Keep the working directory after the run",
		},
	}, layoutFlags...),
	Action: func(cliContext *cli.Context) error {
		ctx := cliContext.Context

		config, err := checkConfig(cliContext)
		if err != nil {
			return err
		}

		seed, err := seedFromFlags(cliContext)
		if err != nil {
			return err
		}

		dir := cliContext.String("dir")
		if dir == "" {
			dir, err = os.MkdirTemp(config.RootPath, "thinstamp-")
			if err != nil {
				return err
			}
			if !cliContext.Bool("keep") {
				defer os.RemoveAll(dir)
			}
		}

		base := pool.Pool{
			UUID:         uuid.New().String(),
			BlockSize:    config.BlockSize,
			NrDataBlocks: config.NrDataBlocks,
		}
		g, err := generatorFromFlags(cliContext, base)
		if err != nil {
			return err
		}

		if v, verr := thinshrink.Version(ctx, config.Tool); verr == nil {
			log.G(ctx).WithField("version", v).Debug("metadata rewriting tool")
		}

		params := scenario.Params{
			Name:             "check-" + cliContext.String("flavor"),
			Seed:             seed,
			Generator:        g,
			Transformer:      thinshrink.Tool{Binary: config.Tool},
			TargetBlocks:     config.TargetBlocks,
			Dir:              dir,
			Preallocate:      config.Preallocate || cliContext.Bool("prealloc"),
			DigestData:       config.DigestData || cliContext.Bool("digest"),
			ForensicsMaxSize: config.ForensicsMaxSizeBytes,
		}

		journalPath := cliContext.String("journal")
		if journalPath == "" {
			journalPath = config.JournalPath
		}
		if journalPath != "" {
			journal, err := scenario.OpenRunStore(journalPath)
			if err != nil {
				return err
			}
			defer journal.Close()
			params.Journal = journal
		}

		rec, err := scenario.Run(ctx, params)
		if err != nil {
			return err
		}

		fmt.Printf("PASS: stamped %d blocks, verified %d blocks (seed %d)\n",
			rec.BlocksStamped, rec.BlocksVerified, rec.Seed)
		return nil
	},
}

// checkConfig loads the TOML configuration when given and lets command line
// flags override individual values.
func checkConfig(cliContext *cli.Context) (*scenario.Config, error) {
	config := scenario.DefaultConfig()
	if path := cliContext.String("config"); path != "" {
		loaded, err := scenario.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if cliContext.IsSet("tool") {
		config.Tool = cliContext.String("tool")
	}
	if cliContext.IsSet("block-size") {
		config.BlockSize = uint32(cliContext.Uint("block-size"))
	}
	if cliContext.IsSet("nr-data-blocks") {
		config.NrDataBlocks = cliContext.Uint64("nr-data-blocks")
	}
	if cliContext.IsSet("target-blocks") {
		config.TargetBlocks = cliContext.Uint64("target-blocks")
	}
	return config, nil
}
