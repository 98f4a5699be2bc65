// Package main provides the ldb CLI tool for inspecting rockbridge
// databases.
//
// Usage:
//
//	ldb --db=<path> <command> [options]
//
// Commands:
//
//	scan                 Scan key-value pairs in key order
//	get <key>            Get value for a key
//	put <key> <val>      Put a key-value pair
//	delete <key>         Delete a key
//	dump <file>          Dump all column families to an offline dump file
//	load <file>          Load a dump file into the database
//	compact              Compact a key range
//	destroy              Delete the database and all its contents
//	cf list|create|drop  Manage column families
//	info                 Print database information
//
// Keys and values are literal bytes; a 0x prefix switches to hex input.
//
// Reference: RocksDB v10.7.5 tools/ldb_tool.cc
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aalhour/rockbridge"
	"github.com/aalhour/rockbridge/internal/dump"
)

var (
	dbPath          = flag.String("db", "", "Path to the database (required)")
	engineName      = flag.String("engine", "", "Engine provider (pebble or rocksdb; default pebble)")
	cfName          = flag.String("cf", "", "Column family to operate on (default column family if empty)")
	hexOutput       = flag.Bool("hex", false, "Output keys and values in hex format")
	limit           = flag.Int("limit", 0, "Limit number of entries (0 = unlimited)")
	fromKey         = flag.String("from", "", "Start key for scan/compact")
	toKey           = flag.String("to", "", "End key for scan/compact")
	codecName       = flag.String("codec", "snappy", "Dump codec: none, snappy, lz4, zstd")
	syncWrites      = flag.Bool("sync", false, "Sync writes to stable storage")
	createIfMissing = flag.Bool("create_if_missing", false, "Create database if it doesn't exist")
	help            = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		os.Exit(1)
	}

	if err := run(flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one command. Output goes to w so tests can capture it.
func run(command string, args []string, w io.Writer) error {
	switch command {
	case "scan":
		return cmdScan(w)
	case "get":
		return cmdGet(args, w)
	case "put":
		return cmdPut(args, w)
	case "delete":
		return cmdDelete(args, w)
	case "dump":
		return cmdDump(args, w)
	case "load":
		return cmdLoad(args, w)
	case "compact":
		return cmdCompact(w)
	case "destroy":
		return cmdDestroy(w)
	case "cf":
		return cmdCF(args, w)
	case "info":
		return cmdInfo(w)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Println("ldb - rockbridge database inspection tool")
	fmt.Println()
	fmt.Println("Usage: ldb --db=<path> <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan                 Scan key-value pairs in key order")
	fmt.Println("  get <key>            Get value for a key")
	fmt.Println("  put <key> <val>      Put a key-value pair")
	fmt.Println("  delete <key>         Delete a key")
	fmt.Println("  dump <file>          Dump all column families to a dump file")
	fmt.Println("  load <file>          Load a dump file into the database")
	fmt.Println("  compact              Compact a key range (--from/--to)")
	fmt.Println("  destroy              Delete the database and all its contents")
	fmt.Println("  cf list              List column families")
	fmt.Println("  cf create <name>     Create a column family")
	fmt.Println("  cf drop <name>       Drop a column family")
	fmt.Println("  info                 Print database information")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func baseOptions() *rockbridge.Options {
	opts := rockbridge.DefaultOptions()
	opts.Engine = *engineName
	opts.CreateIfMissing = *createIfMissing
	return opts
}

// openDB opens the database with every column family it contains, so scans
// and dumps reach all of them.
func openDB() (*rockbridge.DB, error) {
	opts := baseOptions()

	names, err := rockbridge.ListColumnFamilies(*dbPath, opts)
	if err != nil || len(names) <= 1 {
		// New or single-family database.
		return rockbridge.Open(*dbPath, opts)
	}
	opts.CreateMissingColumnFamilies = opts.CreateIfMissing
	db, _, err := rockbridge.OpenColumnFamilies(*dbPath, opts, names, nil)
	return db, err
}

// resolveCF maps the --cf flag to a handle on db. Empty means default.
func resolveCF(db *rockbridge.DB) (*rockbridge.ColumnFamily, error) {
	if *cfName == "" {
		return nil, nil
	}
	cf := db.ColumnFamily(*cfName)
	if cf == nil {
		return nil, fmt.Errorf("column family %q not found", *cfName)
	}
	return cf, nil
}

func writeOptions() *rockbridge.WriteOptions {
	return &rockbridge.WriteOptions{Sync: *syncWrites}
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	// Try hex decode first (if prefixed with 0x)
	if strings.HasPrefix(s, "0x") {
		decoded, err := hex.DecodeString(s[2:])
		if err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdScan(w io.Writer) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cf, err := resolveCF(db)
	if err != nil {
		return err
	}

	iter, err := db.NewIteratorCF(nil, cf)
	if err != nil {
		return err
	}
	defer iter.Close()

	if *fromKey != "" {
		iter.Seek(parseInput(*fromKey))
	} else {
		iter.SeekToFirst()
	}

	toKeyBytes := parseInput(*toKey)
	count := 0

	for iter.Valid() {
		key, err := iter.Key()
		if err != nil {
			return err
		}
		if *toKey != "" && bytes.Compare(key, toKeyBytes) >= 0 {
			break
		}
		value, err := iter.Value()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s => %s\n", formatOutput(key), formatOutput(value))

		count++
		if *limit > 0 && count >= *limit {
			break
		}
		iter.Next()
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintf(w, "\n(%d entries scanned)\n", count)
	return nil
}

func cmdGet(args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cf, err := resolveCF(db)
	if err != nil {
		return err
	}

	value, err := db.GetCF(nil, cf, parseInput(args[0]))
	if errors.Is(err, rockbridge.ErrNotFound) {
		return fmt.Errorf("key not found: %s", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatOutput(value))
	return nil
}

func cmdPut(args []string, w io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: put <key> <value>")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cf, err := resolveCF(db)
	if err != nil {
		return err
	}

	if err := db.PutCF(writeOptions(), cf, parseInput(args[0]), parseInput(args[1])); err != nil {
		return err
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdDelete(args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: delete <key>")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cf, err := resolveCF(db)
	if err != nil {
		return err
	}

	if err := db.DeleteCF(writeOptions(), cf, parseInput(args[0])); err != nil {
		return err
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdDump(args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: dump <file>")
	}
	codec, err := dump.ParseCodec(*codecName)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	dw, err := dump.NewWriter(f, codec)
	if err != nil {
		return err
	}

	total := 0
	for _, name := range db.ColumnFamilyNames() {
		n, err := dumpCF(dw, db, db.ColumnFamily(name))
		if err != nil {
			return fmt.Errorf("dump %q: %w", name, err)
		}
		total += n
	}
	if err := dw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	fmt.Fprintf(w, "Dumped %d entries to %s (codec %s)\n", total, args[0], codec)
	return nil
}

func dumpCF(dw *dump.Writer, db *rockbridge.DB, cf *rockbridge.ColumnFamily) (int, error) {
	iter, err := db.NewIteratorCF(nil, cf)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key, err := iter.Key()
		if err != nil {
			return count, err
		}
		value, err := iter.Value()
		if err != nil {
			return count, err
		}
		if err := dw.Append(cf.Name(), key, value); err != nil {
			return count, err
		}
		count++
	}
	return count, iter.Error()
}

func cmdLoad(args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: load <file>")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := dump.NewReader(f)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Records are applied in batches; each batch lands atomically.
	const batchLimit = 1000
	wb := rockbridge.NewWriteBatch()
	wo := writeOptions()
	total := 0

	flush := func() error {
		if wb.Count() == 0 {
			return nil
		}
		if err := db.Write(wo, wb); err != nil {
			return err
		}
		wb.Clear()
		return nil
	}

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		cf := db.ColumnFamily(rec.CF)
		if cf == nil {
			if err := flush(); err != nil {
				return err
			}
			cf, err = db.CreateColumnFamily(rec.CF, nil)
			if err != nil {
				return fmt.Errorf("create column family %q: %w", rec.CF, err)
			}
		}
		wb.PutCF(cf, rec.Key, rec.Value)
		total++

		if int(wb.Count()) >= batchLimit {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "Loaded %d entries from %s\n", total, args[0])
	return nil
}

func cmdCompact(w io.Writer) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cf, err := resolveCF(db)
	if err != nil {
		return err
	}

	r := rockbridge.Range{
		Start: parseInput(*fromKey),
		Limit: parseInput(*toKey),
	}
	if *fromKey == "" {
		r.Start = nil
	}
	if *toKey == "" {
		r.Limit = nil
	}
	if err := db.CompactRangeCF(cf, r); err != nil {
		return err
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdDestroy(w io.Writer) error {
	if err := rockbridge.DestroyDatabase(*dbPath, baseOptions()); err != nil {
		return err
	}
	fmt.Fprintf(w, "Destroyed %s\n", *dbPath)
	return nil
}

func cmdCF(args []string, w io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: cf list|create|drop [name]")
	}

	switch args[0] {
	case "list":
		names, err := rockbridge.ListColumnFamilies(*dbPath, baseOptions())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return nil

	case "create":
		if len(args) != 2 {
			return errors.New("usage: cf create <name>")
		}
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if _, err := db.CreateColumnFamily(args[1], nil); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
		return nil

	case "drop":
		if len(args) != 2 {
			return errors.New("usage: cf drop <name>")
		}
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		cf := db.ColumnFamily(args[1])
		if cf == nil {
			return fmt.Errorf("column family %q not found", args[1])
		}
		if err := db.DropColumnFamily(cf); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
		return nil

	default:
		return fmt.Errorf("unknown cf subcommand: %s", args[0])
	}
}

func cmdInfo(w io.Writer) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	fmt.Fprintf(w, "Path:            %s\n", db.Path())
	fmt.Fprintf(w, "Engine:          %s\n", db.Engine())
	fmt.Fprintf(w, "Column families: %s\n", strings.Join(db.ColumnFamilyNames(), ", "))
	return nil
}
