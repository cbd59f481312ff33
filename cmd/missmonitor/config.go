package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/ethmiss/missmonitor/service/monitorconfig"
)

// tomlSettings ensures TOML keys use the same names as Go struct fields,
// the same override cmd/mive/config.go applies.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func loadConfig(file string, cfg *monitorconfig.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadBaseConfig loads monitorconfig.Default(), overlays a TOML file if
// one is given, then overlays any flags the user set explicitly.
func loadBaseConfig(ctx *cli.Context) (monitorconfig.Config, error) {
	cfg := monitorconfig.Default()

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}

	setNodeConfig(ctx, &cfg)
	setDetectorConfig(ctx, &cfg)
	setStorageConfig(ctx, &cfg)
	setAPIConfig(ctx, &cfg)
	return cfg, nil
}

func setNodeConfig(ctx *cli.Context, cfg *monitorconfig.Config) {
	if ctx.IsSet("execution.http") {
		cfg.ExecutionHTTPURL = ctx.String("execution.http")
	}
	if ctx.IsSet("execution.ws") {
		cfg.MainExecutionWSURL = ctx.String("execution.ws")
	}
	if ctx.IsSet("execution.secondary.ws") {
		cfg.SecondaryExecutionWSURLs = ctx.StringSlice("execution.secondary.ws")
	}
	if ctx.IsSet("consensus.http") {
		cfg.ConsensusHTTPURL = ctx.String("consensus.http")
	}
	if ctx.IsSet("sync.check") {
		cfg.SyncCheckEnabled = ctx.Bool("sync.check")
	}
}

func setDetectorConfig(ctx *cli.Context, cfg *monitorconfig.Config) {
	if ctx.IsSet("detector.propagation-time") {
		cfg.PropagationTimeSeconds = ctx.Int("detector.propagation-time")
	}
	if ctx.IsSet("detector.quorum-threshold") {
		cfg.QuorumThreshold = ctx.Int("detector.quorum-threshold")
	}
}

func setStorageConfig(ctx *cli.Context, cfg *monitorconfig.Config) {
	if ctx.IsSet("db.enabled") {
		cfg.DBEnabled = ctx.Bool("db.enabled")
	}
	if ctx.IsSet("db.connection") {
		cfg.DBConnection = ctx.String("db.connection")
	}
}

func setAPIConfig(ctx *cli.Context, cfg *monitorconfig.Config) {
	if ctx.IsSet("api.host") {
		cfg.APIHost = ctx.String("api.host")
	}
	if ctx.IsSet("api.port") {
		cfg.APIPort = ctx.String("api.port")
	}
	if ctx.IsSet("api.db-connection") {
		cfg.APIDBConnection = ctx.String("api.db-connection")
	}
	if ctx.IsSet("api.max-response-rows") {
		cfg.APIMaxResponseRows = ctx.Int("api.max-response-rows")
	}
	if ctx.IsSet("api.cors-origins") {
		cfg.APICORSOrigins = ctx.StringSlice("api.cors-origins")
	}
}
