package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethmiss/missmonitor/internal/flags"
)

const clientIdentifier = "missmonitor"

var app = flags.NewApp("the block proposer miss monitor")

func init() {
	app.Action = run
	app.Commands = []*cli.Command{
		versionCommand,
	}
	app.Flags = append(app.Flags, nodeFlags...)
	app.Flags = append(app.Flags, detectorFlags...)
	app.Flags = append(app.Flags, storageFlags...)
	app.Flags = append(app.Flags, apiFlags...)
	app.Flags = append(app.Flags, configFileFlag)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Root().Write(log.LevelCrit, "Unexpected fault", "panic", r)
			os.Exit(64)
		}
	}()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
