// Command meridiand starts a standalone Meridian peer-to-peer node.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	clicommands "github.com/meridianchain/meridian-go/cli"
	"github.com/meridianchain/meridian-go/pkg/config"
)

func main() {
	app := cli.NewApp()
	app.Name = "meridiand"
	app.Version = config.Version
	app.Usage = "Meridian peer-to-peer node"
	app.Commands = clicommands.NewCommands()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
