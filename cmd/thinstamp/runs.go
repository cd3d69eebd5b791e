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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/thinmeta/thinstamp/internal/scenario"
)

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "Inspect journaled scenario runs",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "journal",
			Usage:    "Journal database to read",
			Required: true,
		},
	},
	Subcommands: cli.Commands{
		runsListCommand,
		runsShowCommand,
		runsForensicsCommand,
	},
}

var runsListCommand = &cli.Command{
	Name:    "list",
	Aliases: []string{"ls"},
	Usage:   "List journaled runs",
	Action: func(cliContext *cli.Context) error {
		journal, err := scenario.OpenRunStore(cliContext.String("journal"))
		if err != nil {
			return err
		}
		defer journal.Close()

		tw := tabwriter.NewWriter(os.Stdout, 1, 8, 1, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSTAMPED\tVERIFIED\tSEED\tFINISHED\t")
		if err := journal.Walk(cliContext.Context, func(r *scenario.Record) error {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t\n",
				r.ID,
				r.Name,
				r.Status,
				r.BlocksStamped,
				r.BlocksVerified,
				r.Seed,
				r.FinishedAt.Format(time.RFC3339))
			return nil
		}); err != nil {
			return err
		}

		return tw.Flush()
	},
}

var runsShowCommand = &cli.Command{
	Name:      "show",
	Usage:     "Print a run record as JSON",
	ArgsUsage: "<id>",
	Action: func(cliContext *cli.Context) error {
		id, err := runID(cliContext)
		if err != nil {
			return err
		}

		journal, err := scenario.OpenRunStore(cliContext.String("journal"))
		if err != nil {
			return err
		}
		defer journal.Close()

		rec, err := journal.Get(cliContext.Context, id)
		if err != nil {
			return err
		}

		b, err := json.MarshalIndent(rec, "", "    ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

var runsForensicsCommand = &cli.Command{
	Name:      "forensics",
	Usage:     "List a failed run's archived artifacts, or dump one",
	ArgsUsage: "<id> [<artifact>]",
	Action: func(cliContext *cli.Context) error {
		id, err := runID(cliContext)
		if err != nil {
			return err
		}

		journal, err := scenario.OpenRunStore(cliContext.String("journal"))
		if err != nil {
			return err
		}
		defer journal.Close()

		if name := cliContext.Args().Get(1); name != "" {
			data, err := journal.Forensics(cliContext.Context, id, name)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}

		return journal.WalkForensics(cliContext.Context, id, func(name string) error {
			fmt.Println(name)
			return nil
		})
	},
}

func runID(cliContext *cli.Context) (uint64, error) {
	arg := cliContext.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("run id must be provided")
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q: %w", arg, err)
	}
	return id, nil
}
