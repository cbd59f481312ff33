package nodeclient

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/ethmiss/missmonitor/params"
)

// newReconnectBackoff builds the exponential-backoff policy used for
// subscription reconnects: base 1s, cap 60s, jitter ±20%.
func newReconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = params.DefaultBackoffBaseInterval
	b.MaxInterval = params.DefaultBackoffMaxInterval
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // retry forever; the caller's context bounds the loop
	return b
}
