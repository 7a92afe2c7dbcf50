package main

import (
	"context"
	"os"

	"github.com/josepot/smoldot/cmd/lightnode/commands"
)

func main() {
	cmd := commands.NewRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
