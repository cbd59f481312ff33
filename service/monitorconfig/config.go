// Package monitorconfig defines this binary's configuration shape and its
// defaults. cmd/missmonitor loads it from TOML overlaid by CLI flags, the
// same layering cmd/mive/config.go applies to node.Config.
package monitorconfig

import (
	"time"

	"github.com/ethmiss/missmonitor/params"
)

// Config is the root configuration object decoded from TOML, holding the
// domain configuration keys plus the ambient keys this binary adds on top.
type Config struct {
	// Node client endpoints.
	ExecutionHTTPURL         string
	MainExecutionWSURL       string
	SecondaryExecutionWSURLs []string
	ConsensusHTTPURL         string
	SyncCheckEnabled         bool

	// Persistence.
	DBEnabled    bool
	DBConnection string

	// Detector.
	PropagationTimeSeconds int

	// Query API.
	APIHost            string
	APIPort            string
	APIDBConnection    string
	APIMaxResponseRows int
	APIRequestTimeout  time.Duration
	APICORSOrigins     []string

	// Ambient config.
	QuorumThreshold    int
	EvictionAge        time.Duration
	PoolFetchTimeout   time.Duration
	WriterQueueDepth   int
	WriterBlockTimeout time.Duration
	LogLevel           string
	LogJSON            bool
}

// Default returns a Config populated with every documented default, ready
// for TOML overlay.
func Default() Config {
	return Config{
		SyncCheckEnabled:       true,
		PropagationTimeSeconds: int(params.DefaultPropagationTime / time.Second),
		APIHost:                "0.0.0.0",
		APIPort:                "8080",
		APIMaxResponseRows:     params.DefaultMaxResponseRows,
		APIRequestTimeout:      params.DefaultAPIRequestTimeout,
		QuorumThreshold:        params.DefaultQuorumThreshold,
		EvictionAge:            params.DefaultEvictionAge,
		PoolFetchTimeout:       params.DefaultPoolFetchTimeout,
		WriterQueueDepth:       params.DefaultWriterQueueDepth,
		WriterBlockTimeout:     params.DefaultWriterBlockTimeout,
		LogLevel:               "info",
		LogJSON:                false,
	}
}

// PropagationTime returns the configured propagation-time threshold as a
// time.Duration, for the detector.
func (c Config) PropagationTime() time.Duration {
	return time.Duration(c.PropagationTimeSeconds) * time.Second
}
