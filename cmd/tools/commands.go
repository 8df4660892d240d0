package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bdlm/bedlam"
	"github.com/bdlm/bedlam/factory"
)

// connOptions are the datasource flags shared by every command.
type connOptions struct {
	driver     string
	dsn        string
	duckdbPath string
}

func (o *connOptions) register(flags *flag.FlagSet) {
	defaults := bedlam.DefaultConfig().Datasource
	flags.StringVar(&o.driver, "driver", getenvDefault("DB_DRIVER", defaults.Driver), "datasource driver (pgx, postgres, duckdb)")
	flags.StringVar(&o.dsn, "dsn", getenvDefault("DB_DSN", ""), "postgres connection string")
	flags.StringVar(&o.duckdbPath, "duckdb-path", getenvDefault("DUCKDB_PATH", ""), "duckdb database file (empty for in-memory)")
}

// open builds a factory from the flags and opens its datasource.
func (o *connOptions) open(ctx context.Context) (*factory.Factory, bedlam.Datasource, error) {
	cfg := bedlam.DefaultConfig()
	cfg.Datasource.Driver = o.driver
	cfg.Datasource.DSN = o.dsn
	cfg.Datasource.DuckDB.Path = o.duckdbPath

	f, err := factory.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	ds, err := f.NewDatasource(ctx)
	if err != nil {
		return nil, nil, err
	}
	return f, ds, nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(out)
	flags.Usage = func() {
		fmt.Fprintf(out, "Usage: bedlam-tools %s [options]\n\nOptions:\n", name)
		flags.PrintDefaults()
	}
	return flags
}

func parseFlags(flags *flag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func runDescribe(args []string, out io.Writer) error {
	flags := newFlagSet("describe", out)
	var conn connOptions
	conn.register(flags)
	table := flags.String("table", "", "table to describe (required)")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if *table == "" {
		return fmt.Errorf("-table is required")
	}

	ctx := context.Background()
	f, ds, err := conn.open(ctx)
	if err != nil {
		return err
	}
	defer ds.Close(ctx)

	schema, err := f.NewSchema(ds, *table)
	if err != nil {
		return err
	}
	cols, err := schema.Columns(ctx)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(cols, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}

func runDump(args []string, out io.Writer) error {
	flags := newFlagSet("dump", out)
	var conn connOptions
	conn.register(flags)
	table := flags.String("table", "", "table of the row (required)")
	rawID := flags.String("id", "", "row identity, a bare value or key=value pairs separated by commas (required)")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if *table == "" || *rawID == "" {
		return fmt.Errorf("-table and -id are required")
	}

	ctx := context.Background()
	f, ds, err := conn.open(ctx)
	if err != nil {
		return err
	}
	defer ds.Close(ctx)
	defer ds.Rollback(ctx)

	rec, err := f.NewRecord(ctx, ds, *table)
	if err != nil {
		return err
	}
	id, err := parseIdentity(rec.PK(), *rawID)
	if err != nil {
		return err
	}
	if err := rec.SetID(id); err != nil {
		return err
	}
	if err := rec.Load(ctx, false); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, rec.Dump())
	return err
}

// parseIdentity reads "7" for a single column key or "order_id=12,sku=A-1"
// for any key. Integer values become int64.
func parseIdentity(pk []string, raw string) (bedlam.Identity, error) {
	id := bedlam.Identity{}
	if !strings.Contains(raw, "=") {
		if len(pk) != 1 {
			return nil, fmt.Errorf("key (%s) needs key=value pairs", strings.Join(pk, ", "))
		}
		id[pk[0]] = identityValue(raw)
		return id, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid identity pair %q", pair)
		}
		id[k] = identityValue(v)
	}
	return id, nil
}

func identityValue(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

func getenvDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
