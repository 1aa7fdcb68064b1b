package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/medkeeper/internal/cli"
)

func main() {
	args := os.Args[1:]

	cmd := cli.NewRootCommand(args)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
