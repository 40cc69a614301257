package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                 string // sqlite database file for learning state
	NatsURL            string // URL of the NATS server (frame inbound, outcome outbound)
	FrameSubject       string // subject on which the decoder publishes telemetry frames
	OutcomeSubject     string // subject prefix for review outcome events
	WaitForServices    string // duration to wait for other services to be ready
	LogLevel           string // sets the log level (zap log level values)
	LogFormat          string // text vs json
	LogFilter          string // zapfilter rules for per-subsystem log levels
	MigrationSourceURL string // location of migration files
	TrackDir           string // directory with per-track corner definition files
	SlipConfig         string // path to slip band threshold file (hot reloaded)
	CycleBudget        string // time budget for one post-lap decision cycle
	EstimatorBudget    string // sub-budget for the learned utility estimator
	CooldownLaps       int    // laps before the same corner/arm may be coached again
	ReviewWindowLaps   int    // valid laps the reviewer observes per issued tip
	MinReferenceLaps   int    // valid laps required before pace tips are offered
	ProfilingPort      int    // port for profiling
)
