package main

import (
	"github.com/urfave/cli/v2"

	"github.com/ethmiss/missmonitor/internal/flags"
	"github.com/ethmiss/missmonitor/params"
)

var configFileFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "TOML configuration file",
	Category: flags.NodeCategory,
}

var nodeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "execution.http",
		Usage:    "Main execution node JSON-RPC HTTP endpoint",
		Category: flags.NodeCategory,
	},
	&cli.StringFlag{
		Name:     "execution.ws",
		Usage:    "Main execution node WebSocket endpoint for subscriptions",
		Category: flags.NodeCategory,
	},
	&cli.StringSliceFlag{
		Name:     "execution.secondary.ws",
		Usage:    "Secondary execution node WebSocket endpoints (repeatable)",
		Category: flags.NodeCategory,
	},
	&cli.StringFlag{
		Name:     "consensus.http",
		Usage:    "Beacon (consensus) node HTTP endpoint",
		Category: flags.NodeCategory,
	},
	&cli.BoolFlag{
		Name:     "sync.check",
		Usage:    "Gate correlator start-up on the main node reporting synced",
		Value:    true,
		Category: flags.NodeCategory,
	},
}

var detectorFlags = []cli.Flag{
	&cli.IntFlag{
		Name:     "detector.propagation-time",
		Usage:    "Seconds of quorum-to-proposal gap below which check 2 excuses an omission",
		Value:    int(params.DefaultPropagationTime.Seconds()),
		Category: flags.DetectorCategory,
	},
	&cli.IntFlag{
		Name:     "detector.quorum-threshold",
		Usage:    "Number of distinct nodes required to fix quorum_reached",
		Value:    params.DefaultQuorumThreshold,
		Category: flags.DetectorCategory,
	},
}

var storageFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:     "db.enabled",
		Usage:    "Enable persistence to Postgres",
		Category: flags.StorageCategory,
	},
	&cli.StringFlag{
		Name:     "db.connection",
		Usage:    "Postgres connection string for the writer pool",
		Category: flags.StorageCategory,
	},
}

var apiFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "api.host",
		Usage:    "Query API listen host",
		Value:    "0.0.0.0",
		Category: flags.APICategory,
	},
	&cli.StringFlag{
		Name:     "api.port",
		Usage:    "Query API listen port",
		Value:    "8080",
		Category: flags.APICategory,
	},
	&cli.StringFlag{
		Name:     "api.db-connection",
		Usage:    "Postgres connection string for the API's read-only pool (defaults to db.connection)",
		Category: flags.APICategory,
	},
	&cli.IntFlag{
		Name:     "api.max-response-rows",
		Usage:    "Row cap applied to the pre-grouping inner query",
		Value:    params.DefaultMaxResponseRows,
		Category: flags.APICategory,
	},
	&cli.StringSliceFlag{
		Name:     "api.cors-origins",
		Usage:    "Origins allowed to read the query API from a browser (repeatable, defaults to *)",
		Category: flags.APICategory,
	},
}
