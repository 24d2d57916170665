package main

import (
	"context"
	"fmt"
	"os"

	"dominicbreuker/gamenet/cmd/serve"
	"dominicbreuker/gamenet/cmd/version"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "gamenet",
		Usage: "game server networking core: multiplexed TCP, intercepted UDP and a fixed-tick loop",
		Commands: []*cli.Command{
			serve.GetCommand(),
			version.GetCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}
