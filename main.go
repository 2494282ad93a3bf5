package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rorycl/d365cli/app"
)

// main builds the CLI around the application logic and runs the command
// given by the user.
func main() {
	application := app.New(os.Stdout, os.Stderr)

	cmd := BuildCLI(application)

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
