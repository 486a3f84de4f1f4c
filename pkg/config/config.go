package config

import "time"

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	BackendURL        string // base URL of the race data backend
	WaitForServices   string // duration to wait for other services to be ready
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules, e.g. "debug:stream info:*"
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry, "stdout" writes to console
	ProfilingPort     int    // port for profiling
	MinBackendVersion string // the backend must be at least this version
	SessionID         string // session to activate, empty selects the first live session
	CircuitFile       string // optional yaml file with the circuit outline
	PollInterval      string // interval of the leaderboard pull
	UnreliableAfter   int    // consecutive pull failures until the poll is flagged unreliable
	ReconnectBase     string // initial reconnect delay of the live stream
	ReconnectMax      string // max reconnect delay of the live stream
	ReconnectJitter   float64
	BackendTimezone   string  // IANA zone of frame timestamps sent without offset, empty is local
	BattleThreshold   float64 // gap in seconds below which adjacent drivers are in a battle
	NatsURL           string  // publish views to this NATS server
	NatsPrefix        string  // subject prefix for NATS
	NatsKVBucket      string  // JetStream KV bucket for the latest view, empty disables
	HTTPAddr          string  // listen addr for the view endpoint, empty disables
	TLSCertFile       string  // path to TLS certificate of the view endpoint
	TLSKeyFile        string  // path to TLS key
	TLSCAFile         string  // path to TLS CA
	TraefikCerts      string  // path to traefik certs file
	TraefikCertDomain string  // the domain to lookup within the traefik certs
	PrintViews        bool    // if true, the leaderboard of each view is logged
)

// Config holds the configuration values which are used by the application
type Config struct {
	PollInterval    time.Duration
	UnreliableAfter int
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
	ReconnectJitter float64
	BackendLocation *time.Location
	BattleThreshold float64
	PrintViews      bool
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Resolve builds the Config from the CLI values. Invalid values fall back to defaults.
func Resolve() Config {
	ret := Config{
		PollInterval:    parseDuration(PollInterval, 5*time.Second),
		UnreliableAfter: UnreliableAfter,
		ReconnectBase:   parseDuration(ReconnectBase, time.Second),
		ReconnectMax:    parseDuration(ReconnectMax, 30*time.Second),
		ReconnectJitter: ReconnectJitter,
		BackendLocation: time.Local,
		BattleThreshold: BattleThreshold,
		PrintViews:      PrintViews,
	}
	if ret.UnreliableAfter <= 0 {
		ret.UnreliableAfter = 3
	}
	if ret.ReconnectMax < ret.ReconnectBase {
		ret.ReconnectMax = ret.ReconnectBase
	}
	if ret.ReconnectJitter < 0 || ret.ReconnectJitter >= 1 {
		ret.ReconnectJitter = 0
	}
	if BackendTimezone != "" {
		if loc, err := time.LoadLocation(BackendTimezone); err == nil {
			ret.BackendLocation = loc
		}
	}
	if ret.BattleThreshold <= 0 {
		ret.BattleThreshold = 2.0
	}
	return ret
}
