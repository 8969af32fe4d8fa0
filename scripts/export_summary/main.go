// export_summary - Rebuild the summary workbook from a run's CSV sinks.
// A session that dies before its summary is written leaves the CSVs
// behind; this stitches them back into one workbook. Extra positional
// arguments narrow the match when a directory holds several runs:
//
//	go run ./scripts/export_summary -dir logs -prefix trader 2024-07-01
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/neuralprobe/D4/internal/logs"
)

func main() {
	dir := flag.String("dir", "logs", "Log directory holding the run's CSV files")
	prefix := flag.String("prefix", "trader", "Run prefix the CSV names carry")
	flag.Parse()

	path, err := logs.ExportSummary(*dir, *prefix, flag.Args()...)
	if err != nil {
		log.Fatalf("Failed to rebuild summary: %v", err)
	}
	fmt.Printf("Summary workbook written to %s\n", path)
}
