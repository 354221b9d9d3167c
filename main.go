// Package main provides matchcache - cached first-match lookups and weighted
// averages over delimited flat files.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/csvquery/matchcache/internal/bench"
	"github.com/csvquery/matchcache/internal/common"
	"github.com/csvquery/matchcache/internal/generator"
	"github.com/csvquery/matchcache/internal/query"
	"github.com/csvquery/matchcache/internal/schema"
	"github.com/csvquery/matchcache/internal/server"
	"github.com/csvquery/matchcache/internal/writer"
)

// Version information
const (
	Version   = "0.4.0"
	BuildDate = "2026-10-18"
)

// Global state for graceful shutdown
var (
	shutdownChan = make(chan os.Signal, 1)
	cleanupFuncs []func()
)

func main() {
	setupSignalHandler()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "lookup":
		err = runLookup(args)
	case "average":
		err = runAverage(args)
	case "write":
		err = runWrite(args)
	case "generate":
		err = runGenerate(args)
	case "bench":
		err = runBench(args)
	case "daemon":
		err = runDaemon(args)
	case "serve":
		err = runServe(args)
	case "version":
		fmt.Printf("matchcache v%s (%s)\n", Version, BuildDate)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupSignalHandler() {
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go handleShutdown()
}

// handleShutdown runs cleanup functions in reverse order and exits.
func handleShutdown() {
	<-shutdownChan
	fmt.Fprintln(os.Stderr, "\nReceived shutdown signal, cleaning up...")

	for i := len(cleanupFuncs) - 1; i >= 0; i-- {
		cleanupFuncs[i]()
	}

	fmt.Fprintln(os.Stderr, "Cleanup complete")
	os.Exit(130)
}

func printUsage() {
	fmt.Println(`matchcache - cached first-match lookups over delimited flat files

Usage:
    matchcache <command> [arguments]

Commands:
    lookup    Find the value of the first row matching a query
    average   Weighted average of the values matched by a batch of queries
    write     Append rows to a dataset
    generate  Write a random dataset
    bench     Time weighted-average batches against a dataset
    daemon    Start Unix Domain Socket server
    serve     Start HTTP API server
    version   Show version
    help      Show this help

Use "matchcache <command> --help" for command-specific options.`)
}

// engineFlags registers the flags shared by every command that builds an
// engine and returns a function resolving them against the dataset's schema
// sidecar.
func engineFlags(fs *flag.FlagSet) func(csvPath string) (query.EngineConfig, error) {
	capacity := fs.Int("capacity", query.DefaultCapacity, "Max cached results")
	valueColumn := fs.String("value-column", "", "Value column (default from schema sidecar, else \"value\")")
	separator := fs.String("separator", "", "Field separator (default from schema sidecar, else \",\")")
	fingerprint := fs.String("fingerprint", "prefix", "Dataset identity: prefix or full")
	prefixBytes := fs.Int("prefix-bytes", query.DefaultPrefixBytes, "Bytes hashed in prefix mode")
	verbose := fs.Bool("verbose", false, "Log cache activity to stderr")

	return func(csvPath string) (query.EngineConfig, error) {
		mode, err := query.ParseFingerprintMode(*fingerprint)
		if err != nil {
			return query.EngineConfig{}, err
		}
		cfg := query.EngineConfig{
			Capacity:    *capacity,
			ValueColumn: *valueColumn,
			Fingerprint: mode,
			PrefixBytes: *prefixBytes,
			Verbose:     *verbose,
		}
		if *separator != "" {
			if len(*separator) != 1 {
				return cfg, fmt.Errorf("separator must be a single byte, got %q", *separator)
			}
			cfg.Separator = (*separator)[0]
		}
		if csvPath != "" && (cfg.ValueColumn == "" || cfg.Separator == 0) {
			sc, err := schema.Load(csvPath)
			if err != nil {
				return cfg, fmt.Errorf("failed to load schema: %w", err)
			}
			if cfg.ValueColumn == "" {
				cfg.ValueColumn = sc.ValueColumn
			}
			if cfg.Separator == 0 {
				cfg.Separator = sc.Sep()
			}
		}
		return cfg, nil
	}
}

// decodeJSON decodes s keeping numbers as json.Number so that large
// integers compare by their exact text.
func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}

func openDataset(path string, copyData bool) (*common.Dataset, error) {
	if path == "" {
		return nil, errors.New("--csv is required")
	}
	ds, err := common.LoadDataset(path, common.LoadOptions{Copy: copyData})
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return ds, nil
}

// runLookup handles the lookup command
func runLookup(args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	csvPath := fs.String("csv", "", "Path to dataset")
	queryJSON := fs.String("query", "{}", "JSON object of key column values")
	copyData := fs.Bool("copy", false, "Read the dataset into memory instead of mapping it")
	engineConfig := engineFlags(fs)
	_ = fs.Parse(args)

	cfg, err := engineConfig(*csvPath)
	if err != nil {
		return err
	}
	var q query.Query
	if err := decodeJSON(*queryJSON, &q); err != nil {
		return fmt.Errorf("failed to parse --query JSON: %w", err)
	}

	ds, err := openDataset(*csvPath, *copyData)
	if err != nil {
		return err
	}
	defer ds.Close()

	res, err := query.NewEngine(cfg).Lookup(q, ds.Data)
	if err != nil {
		return schemaHint(err, ds.Data)
	}
	fmt.Println(res)
	return nil
}

// runAverage handles the average command
func runAverage(args []string) error {
	fs := flag.NewFlagSet("average", flag.ExitOnError)
	csvPath := fs.String("csv", "", "Path to dataset")
	queriesJSON := fs.String("queries", "[]", "JSON array of query objects")
	copyData := fs.Bool("copy", false, "Read the dataset into memory instead of mapping it")
	engineConfig := engineFlags(fs)
	_ = fs.Parse(args)

	cfg, err := engineConfig(*csvPath)
	if err != nil {
		return err
	}
	var qs []query.Query
	if err := decodeJSON(*queriesJSON, &qs); err != nil {
		return fmt.Errorf("failed to parse --queries JSON: %w", err)
	}

	ds, err := openDataset(*csvPath, *copyData)
	if err != nil {
		return err
	}
	defer ds.Close()

	avg, err := query.NewEngine(cfg).WeightedAverage(qs, ds.Data)
	if err != nil {
		return schemaHint(err, ds.Data)
	}
	fmt.Println(avg)
	return nil
}

// runWrite handles the write command
func runWrite(args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	csvPath := fs.String("csv", "", "Path to dataset")
	headersJSON := fs.String("headers", "[]", "JSON array of headers (for new file)")
	dataJSON := fs.String("data", "[]", "JSON array of rows (each row is array of strings)")
	separator := fs.String("separator", "", "Field separator (default from schema sidecar, else \",\")")
	_ = fs.Parse(args)

	if *csvPath == "" {
		return errors.New("--csv is required")
	}
	sep, err := writeSeparator(*csvPath, *separator)
	if err != nil {
		return err
	}

	var headers []string
	if err := json.Unmarshal([]byte(*headersJSON), &headers); err != nil {
		return fmt.Errorf("failed to parse --headers JSON: %w", err)
	}
	var data [][]string
	if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
		return fmt.Errorf("failed to parse --data JSON: %w", err)
	}

	w := writer.NewCsvWriter(writer.WriterConfig{
		CsvPath:   *csvPath,
		Separator: sep,
	})
	return w.Write(headers, data)
}

// writeSeparator returns the --separator flag, or the dataset's sidecar
// separator when the flag is empty.
func writeSeparator(csvPath, flagVal string) (string, error) {
	if flagVal != "" {
		if len(flagVal) != 1 {
			return "", fmt.Errorf("separator must be a single byte, got %q", flagVal)
		}
		return flagVal, nil
	}
	sc, err := schema.Load(csvPath)
	if err != nil {
		return "", fmt.Errorf("failed to load schema: %w", err)
	}
	return sc.Separator, nil
}

// runGenerate handles the generate command
func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	output := fs.String("output", "dataset.csv", "Output path (.lz4 / .zst compress)")
	rows := fs.Int("rows", 100_000, "Number of data rows")
	columns := fs.String("columns", strings.Join(generator.DefaultKeys, ","), "Comma-separated key column names")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	separator := fs.String("separator", ",", "Field separator")
	_ = fs.Parse(args)

	fmt.Printf("Generating dataset with %d rows...\n", *rows)
	start := time.Now()
	res, err := generator.Generate(generator.Config{
		Path:      *output,
		Rows:      *rows,
		Keys:      strings.Split(*columns, ","),
		Seed:      *seed,
		Separator: *separator,
		Progress:  os.Stdout,
	})
	if err != nil {
		return err
	}

	info, err := os.Stat(res.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Generated %s (%d rows, %.1f MB) in %v\n",
		res.Path, res.Rows, float64(info.Size())/1024/1024, time.Since(start).Round(time.Millisecond))
	return nil
}

// runBench handles the bench command
func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	csvPath := fs.String("csv", "", "Path to dataset")
	casesJSON := fs.String("cases", "", "JSON array of query batches (default: built-in cases)")
	repeat := fs.Int("repeat", 1, "Run the case list this many times on one engine")
	copyData := fs.Bool("copy", false, "Read the dataset into memory instead of mapping it")
	engineConfig := engineFlags(fs)
	_ = fs.Parse(args)

	cfg, err := engineConfig(*csvPath)
	if err != nil {
		return err
	}
	ds, err := openDataset(*csvPath, *copyData)
	if err != nil {
		return err
	}
	defer ds.Close()

	var cases []bench.Case
	if *casesJSON != "" {
		var batches [][]query.Query
		if err := decodeJSON(*casesJSON, &batches); err != nil {
			return fmt.Errorf("failed to parse --cases JSON: %w", err)
		}
		for i, b := range batches {
			cases = append(cases, bench.Case{Name: fmt.Sprintf("Test %d", i+1), Queries: b})
		}
	} else {
		cases, err = bench.DefaultCases(ds.Data, cfg.Separator, cfg.ValueColumn)
		if err != nil {
			return err
		}
	}

	e := query.NewEngine(cfg)
	var results []bench.Result
	for r := 0; r < max(*repeat, 1); r++ {
		for _, res := range bench.Run(e, ds.Data, cases) {
			if *repeat > 1 {
				res.Name = fmt.Sprintf("%s #%d", res.Name, r+1)
			}
			results = append(results, res)
		}
	}

	fmt.Printf("Dataset: %s (%s, %d rows)\n", ds.Path, ds.Compression, ds.CountRows())
	bench.Render(os.Stdout, results, e.Stats())
	return nil
}

// runDaemon handles the daemon command
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	socket := fs.String("socket", "", "Socket path (default $MATCHCACHE_SOCKET or "+server.DefaultSocketPath+")")
	csvPath := fs.String("csv", "", "Path to dataset")
	workers := fs.Int("workers", 50, "Max concurrency")
	watch := fs.Bool("watch", false, "Reload the dataset when the file changes")
	engineConfig := engineFlags(fs)
	_ = fs.Parse(args)

	if *csvPath == "" {
		return errors.New("--csv is required")
	}
	cfg, err := engineConfig(*csvPath)
	if err != nil {
		return err
	}
	store, err := server.OpenStore(*csvPath, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	d := server.NewUDSDaemon(server.DaemonConfig{
		SocketPath:     *socket,
		MaxConcurrency: *workers,
		Watch:          *watch,
	}, store)
	cleanupFuncs = append(cleanupFuncs, d.Shutdown)

	return d.Start()
}

// runServe handles the serve command
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "Listen address")
	csvPath := fs.String("csv", "", "Path to dataset")
	watch := fs.Bool("watch", false, "Reload the dataset when the file changes")
	quiet := fs.Bool("quiet", false, "Disable request logging")
	engineConfig := engineFlags(fs)
	_ = fs.Parse(args)

	if *csvPath == "" {
		return errors.New("--csv is required")
	}
	cfg, err := engineConfig(*csvPath)
	if err != nil {
		return err
	}
	store, err := server.OpenStore(*csvPath, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := server.NewHTTPServer(server.HTTPConfig{Addr: *addr, Watch: *watch, Quiet: *quiet}, store)
	cleanupFuncs = append(cleanupFuncs, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv.Start()
}

// schemaHint appends the dataset header to schema errors.
func schemaHint(err error, data []byte) error {
	if !errors.Is(err, query.ErrSchema) {
		return err
	}
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = bytes.TrimRight(data[:i], "\r")
	}
	return fmt.Errorf("%w (header: %s)", err, header)
}
