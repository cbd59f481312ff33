// Package flags groups this binary's CLI flags into the named categories
// urfave/cli renders in `--help` output, the same grouping style
// cmd/utils/flags.go uses for geth's much larger flag set.
package flags

import (
	"sort"

	"github.com/urfave/cli/v2"
)

const (
	NodeCategory     = "NODE"
	DetectorCategory = "DETECTOR"
	StorageCategory  = "STORAGE"
	APICategory      = "API"
	LoggingCategory  = "LOGGING"
)

// NewApp creates an app with sane defaults, mirroring geth's
// internal/flags.NewApp.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = usage
	app.Copyright = "Copyright 2013-2026 The go-ethereum Authors"
	return app
}

// byCategory groups flags for help-text rendering.
func byCategory(flags []cli.Flag) map[string][]cli.Flag {
	grouped := make(map[string][]cli.Flag)
	for _, f := range flags {
		category := "MISC"
		if cf, ok := f.(cli.DocGenerationFlag); ok && cf.GetCategory() != "" {
			category = cf.GetCategory()
		}
		grouped[category] = append(grouped[category], f)
	}
	return grouped
}

// FlagGroups renders the app's registered flags grouped by category, in a
// stable order, for a custom help template if one is ever wired in.
func FlagGroups(app *cli.App) []string {
	grouped := byCategory(app.Flags)
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
