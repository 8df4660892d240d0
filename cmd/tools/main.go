package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "describe":
		if err := runDescribe(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("describe: %v", err)
		}
	case "dump":
		if err := runDump(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("dump: %v", err)
		}
	case "export-schema":
		if err := runExportSchema(os.Args[2:], os.Stdout); err != nil {
			sugar.Fatalf("export-schema: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: bedlam-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  describe        Print the normalized columns of a table as JSON")
	logger.Info("  dump            Print a row as a reproducible INSERT statement")
	logger.Info("  export-schema   Write a JSON schema document for a table, for use with -schema-source file")
}
