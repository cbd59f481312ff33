package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethmiss/missmonitor/internal/version"
)

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Description: `The output of this command is supposed to be machine-readable.`,
}

func printVersion(ctx *cli.Context) error {
	fmt.Println(clientIdentifier)
	if git, ok := version.VCS(); ok {
		fmt.Println("Git Commit:", git.Commit)
		fmt.Println("Git Commit Date:", git.Date)
		if git.Dirty {
			fmt.Println("Git Dirty:", git.Dirty)
		}
	}
	return nil
}
