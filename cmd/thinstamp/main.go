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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/thinmeta/thinstamp/version"
)

const usage = `block-level integrity verification for thin-pool metadata transformations`

func init() {
	cli.VersionPrinter = func(cliContext *cli.Context) {
		fmt.Println(cliContext.App.Name, version.Package, cliContext.App.Version, version.Revision)
	}
}

// App returns a *cli.App instance.
func App() *cli.App {
	app := cli.NewApp()
	app.Name = "thinstamp"
	app.Version = version.Version
	app.Usage = usage
	app.Description = `
thinstamp proves that a thin-pool metadata transformation preserved every
mapped block. It stamps a deterministic fingerprint into each block a pool
description maps, runs the transformation under test, then walks the
transformed description and verifies every fingerprint at its possibly new
physical location.`
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Set the logging level [trace, debug, info, warn, error, fatal, panic]",
		},
	}
	app.Before = func(cliContext *cli.Context) error {
		if level := cliContext.String("log-level"); level != "" {
			return log.SetLevel(level)
		}
		return nil
	}
	app.Commands = []*cli.Command{
		generateCommand,
		stampCommand,
		verifyCommand,
		checkCommand,
		damageCommand,
		runsCommand,
	}
	return app
}

func main() {
	app := App()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "thinstamp: %s\n", err)
		os.Exit(1)
	}
}

// seedFromFlags returns the --seed flag when given, or a fresh random seed.
// The seed is always reported back to the user, so a later verify can be
// pointed at the same one.
func seedFromFlags(cliContext *cli.Context) (uint64, error) {
	if cliContext.IsSet("seed") {
		return cliContext.Uint64("seed"), nil
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to draw a random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
