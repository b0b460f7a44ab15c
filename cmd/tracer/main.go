// Command tracer is the host-resident observability agent for bioinformatics
// pipelines. "tracer agent" runs the orchestrator in the foreground; the
// remaining subcommands (start, end, info, log, tag, upload, refresh-config,
// terminate) talk to a running agent over its control socket (spec.md §6).
package main

import (
	"fmt"
	"os"

	"github.com/tracerbio/tracer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
