package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/rshade/mktcache/internal/cli"
	"github.com/rshade/mktcache/pkg/version"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads an optional .env from the working directory and executes the CLI.
// Variables already set in the environment win over .env entries.
func run(ctx context.Context, args []string) error {
	if err := loadDotEnv(".env"); err != nil {
		return err
	}

	root := cli.NewRootCmd(version.GetVersion())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil //nolint:nilerr // a missing .env is the common case
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
