// Command engine resolves the Record Engine container for the
// current working directory and reports it ready, demonstrating the
// bootstrap wiring of internal/bootstrap.Container. No CLI command
// surface lives here: command-line and HTTP entry points are an
// explicit spec.md §1 Non-goal ("the core, not the UI around it").
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/civicforge/recordengine/internal/bootstrap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	container, err := bootstrap.New(ctx, bootstrap.Options{})
	if err != nil {
		return fmt.Errorf("bootstrapping record engine: %w", err)
	}
	defer container.Close()

	container.Logger.Infof("record engine ready: root=%s driver=%s", container.Config.RootDir, container.Config.Database.Driver)

	return nil
}
