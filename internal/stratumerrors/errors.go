// Package stratumerrors names the behavioural error kinds the control loop
// and the shard runner need to switch on, rather than sniffing error
// strings everywhere.
package stratumerrors

import (
	"errors"
	"strings"
)

// ErrConfig marks a fatal configuration problem: a missing env var, a
// missing secret, or a token that isn't valid UTF-8.
var ErrConfig = errors.New("stratum: config error")

// ErrTransientBus marks a bus operation (publish, subscribe, stream
// creation) that failed after exhausting its retry budget.
var ErrTransientBus = errors.New("stratum: transient bus error")

// ErrVendorRateLimit marks a 429 (or textual "rate limit") response from
// the vendor gateway client.
var ErrVendorRateLimit = errors.New("stratum: vendor rate limited")

// ErrGatewayReconnect marks a gateway error the shard client classifies as
// "must reconnect" — the shard runner returns it to its supervisor, which
// restarts the session after a cool-off.
var ErrGatewayReconnect = errors.New("stratum: gateway requires reconnect")

// IsRateLimit reports whether err (or anything it wraps) looks like a
// vendor rate-limit response. The vendor client is a bare REST caller
// that cannot always attach ErrVendorRateLimit to an arbitrary HTTP
// error, so this also recognises the textual forms spec'd in the error
// policy ("429", "rate limit").
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVendorRateLimit) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
