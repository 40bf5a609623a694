// Command quill reads newline-delimited or array-framed JSON files in
// parallel and writes them out as JSON Lines, CSV, an aligned table, or
// parquet. The column schema is auto-detected from a sample unless forced.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/quilldb/quill/output"
	"github.com/quilldb/quill/scan"
)

var (
	outputFlag      = flag.String("f", "jsonl", "Output format: jsonl, csv, table, parquet")
	outFileFlag     = flag.String("o", "", "Output file (default stdout)")
	formatFlag      = flag.String("format", "auto", "JSON framing: auto, newline_delimited, array")
	compressionFlag = flag.String("compression", "auto", "Input compression: auto, none, gzip, zstd")
	ignoreFlag      = flag.Bool("ignore-errors", false, "Skip malformed records instead of failing")
	sampleFlag      = flag.Int("sample-size", 0, "Schema detection sample size (0 = default)")
	maxObjectFlag   = flag.Int("max-object-size", 0, "Maximum JSON object size in bytes (0 = default)")
	dateFlag        = flag.String("dateformat", "", "Force date format (strptime-style)")
	timestampFlag   = flag.String("timestampformat", "", "Force timestamp format (strptime-style)")
	threadsFlag     = flag.Int("threads", 0, "Worker count (0 = auto)")
	limitFlag       = flag.Int("limit", 0, "Limit number of rows (0 = unlimited)")
	verboseFlag     = flag.Bool("v", false, "Log scan progress to stderr")
)

// orderedBatch is one transformed batch tagged with its reassembly key:
// the batch index assigned at buffer hand-out, and the emission sequence
// within that index.
type orderedBatch struct {
	batch  uint64
	seq    int
	record arrow.Record
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file.json> [file...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A tool to read and convert JSON files.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s data.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -f csv data.json.gz\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -f parquet -o data.parquet 'logs/*.json'\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: missing JSON file argument\n\n")
		flag.Usage()
		os.Exit(1)
	}

	params := map[string]any{
		"format":        *formatFlag,
		"compression":   *compressionFlag,
		"ignore_errors": *ignoreFlag,
	}
	if *sampleFlag > 0 {
		params["sample_size"] = *sampleFlag
	}
	if *maxObjectFlag > 0 {
		params["maximum_object_size"] = *maxObjectFlag
	}
	if *dateFlag != "" {
		params["dateformat"] = *dateFlag
	}
	if *timestampFlag != "" {
		params["timestampformat"] = *timestampFlag
	}
	if *verboseFlag {
		params["logger"] = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	bind, err := scan.Bind(scan.ScanTypeRecords, flag.Args(), params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out := os.Stdout
	if *outFileFlag != "" {
		f, err := os.Create(*outFileFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	formatter, err := output.NewFormatter(*outputFlag, out, bind.Schema())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	batches, err := runScan(bind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	emitted := 0
	for _, b := range batches {
		record := b.record
		if *limitFlag > 0 {
			remaining := *limitFlag - emitted
			if remaining <= 0 {
				break
			}
			if int(record.NumRows()) > remaining {
				record = record.NewSlice(0, int64(remaining))
			}
		}
		emitted += int(record.NumRows())
		if err := formatter.Format(record); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			os.Exit(1)
		}
	}
	if err := formatter.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
}

// runScan drives the parallel scan and returns the transformed batches in
// input order, reassembled by ascending batch index.
func runScan(bind *scan.BindData) ([]orderedBatch, error) {
	g, err := scan.NewGlobalState(bind)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	threads := *threadsFlag
	if threads <= 0 {
		threads = g.MaxThreads()
	}

	var (
		mu      sync.Mutex
		batches []orderedBatch
		scanErr error
		wg      sync.WaitGroup
	)
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := scan.NewLocalState(g)
			transformer := scan.NewTransformer(memory.DefaultAllocator, g)
			started := false
			prevBatch := uint64(0)
			seq := 0
			for {
				n, err := local.ReadNext(g)
				if err != nil {
					mu.Lock()
					if scanErr == nil {
						scanErr = err
					}
					mu.Unlock()
					return
				}
				if n == 0 {
					return
				}
				record, err := transformer.Transform(local)
				if err != nil {
					mu.Lock()
					if scanErr == nil {
						scanErr = err
					}
					mu.Unlock()
					return
				}
				if started && local.BatchIndex == prevBatch {
					seq++
				} else {
					started = true
					prevBatch = local.BatchIndex
					seq = 0
				}
				mu.Lock()
				batches = append(batches, orderedBatch{batch: local.BatchIndex, seq: seq, record: record})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if scanErr != nil {
		return nil, scanErr
	}

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].batch != batches[j].batch {
			return batches[i].batch < batches[j].batch
		}
		return batches[i].seq < batches[j].seq
	})
	return batches, nil
}
