package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/config"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/reference"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/safety"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository/memory"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository/sqlite"
	natssink "github.com/yannicktuerk/F1-Lap-Bot/pkg/sink/nats"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/track"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/utils"
)

var (
	sessionEndSubject string
	assists           string
	device            string
)

//nolint:funlen // by design
func NewCoachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coach",
		Short: "runs the live coaching engine against NATS telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startCoach()
		},
	}

	cmd.Flags().StringVar(&config.FrameSubject,
		"frame-subject",
		"f1coach.frames",
		"subject prefix on which the decoder publishes frames (suffix: driver.track)")
	cmd.Flags().StringVar(&sessionEndSubject,
		"session-end-subject",
		"f1coach.sessions.end",
		"subject prefix announcing session end (suffix: driver.track)")
	cmd.Flags().StringVar(&config.OutcomeSubject,
		"outcome-subject",
		"f1coach.outcomes",
		"subject for review outcome events")
	cmd.Flags().StringVar(&assists,
		"assists",
		"none",
		"assist configuration of the coached sessions")
	cmd.Flags().StringVar(&device,
		"device",
		"wheel",
		"input device class of the coached sessions")
	cmd.Flags().StringVar(&config.CycleBudget,
		"cycle-budget",
		"150ms",
		"time budget for one post-lap decision cycle")
	cmd.Flags().StringVar(&config.EstimatorBudget,
		"estimator-budget",
		"50ms",
		"sub-budget for the learned utility estimator")
	cmd.Flags().IntVar(&config.CooldownLaps,
		"cooldown-laps",
		1,
		"laps before the same corner/arm may be coached again")
	cmd.Flags().IntVar(&config.ReviewWindowLaps,
		"review-window-laps",
		3,
		"valid laps the reviewer observes per issued tip")
	cmd.Flags().IntVar(&config.MinReferenceLaps,
		"min-reference-laps",
		5,
		"valid laps required before pace tips are offered")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules for per-subsystem log levels")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() *log.Logger {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	if config.LogFilter != "" {
		logger = logger.WithFilterRules(config.LogFilter)
	}
	log.ResetDefault(logger)
	return logger
}

//nolint:funlen,cyclop // by design
func startCoach() error {
	logger := setupLogger()

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	natsAddr := utils.ExtractFromNatsURL(config.NatsURL)
	if err = utils.WaitForTCP(natsAddr, timeout); err != nil {
		log.Fatal("nats not ready", log.ErrorField(err))
	}

	tracks, err := track.LoadDir(config.TrackDir)
	if err != nil {
		return fmt.Errorf("loading track definitions: %w", err)
	}
	log.Info("Loaded track definitions", log.Int("tracks", len(tracks)))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, err := setupClassifier(ctx, logger)
	if err != nil {
		return err
	}

	repos, cleanup, err := setupRepos()
	if err != nil {
		return err
	}
	defer cleanup()

	conn, err := nats.Connect(config.NatsURL)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer conn.Close()

	out := natssink.NewSink(conn,
		natssink.WithOutcomeSubject(config.OutcomeSubject),
		natssink.WithLogger(logger))
	defer out.Close()

	cycleBudget := parseDuration(config.CycleBudget, 150*time.Millisecond)
	estBudget := parseDuration(config.EstimatorBudget, 50*time.Millisecond)
	filter := model.FilterKey{Assists: assists, Device: device}

	registry := coach.NewRegistry(func(driver, trackID string) (*coach.Pipeline, error) {
		trk, ok := tracks[trackID]
		if !ok {
			return nil, fmt.Errorf("unknown track %q", trackID)
		}
		return coach.NewPipeline(driver, trk, repos, out,
			coach.WithFilterKey(filter),
			coach.WithClassifier(classifier),
			coach.WithReferenceModel(reference.NewModel(
				reference.WithMinLaps(config.MinReferenceLaps),
				reference.WithLogger(logger))),
			coach.WithBudget(cycleBudget),
			coach.WithEstimatorBudget(estBudget),
			coach.WithCooldownLaps(config.CooldownLaps),
			coach.WithReviewWindowLaps(config.ReviewWindowLaps),
			coach.WithLogger(logger.Named("pipeline")),
		), nil
	}, logger)

	frameSub, err := conn.Subscribe(
		fmt.Sprintf("%s.*.*", config.FrameSubject),
		func(msg *nats.Msg) { handleFrame(ctx, registry, msg) })
	if err != nil {
		return fmt.Errorf("subscribing to frames: %w", err)
	}
	defer frameSub.Unsubscribe() //nolint:errcheck // shutdown

	endSub, err := conn.Subscribe(
		fmt.Sprintf("%s.*.*", sessionEndSubject),
		func(msg *nats.Msg) { handleSessionEnd(ctx, registry, msg) })
	if err != nil {
		return fmt.Errorf("subscribing to session end: %w", err)
	}
	defer endSub.Unsubscribe() //nolint:errcheck // shutdown

	log.Info("Coach engine started",
		log.String("frames", config.FrameSubject),
		log.String("outcomes", config.OutcomeSubject))

	<-ctx.Done()
	log.Info("Shutting down")
	if err := registry.Close(context.Background()); err != nil {
		log.Error("closing sessions", log.ErrorField(err))
	}
	log.Info("Coach engine terminated")
	return nil
}

func setupClassifier(ctx context.Context, logger *log.Logger) (*safety.Classifier, error) {
	opts := []safety.Option{safety.WithLogger(logger.Named("safety"))}
	if config.SlipConfig != "" {
		cfg, err := safety.LoadConfig(config.SlipConfig)
		if err != nil {
			return nil, fmt.Errorf("loading slip config: %w", err)
		}
		opts = append(opts, safety.WithConfig(cfg))
	}
	classifier := safety.NewClassifier(opts...)
	if config.SlipConfig != "" {
		if err := classifier.Watch(ctx, config.SlipConfig); err != nil {
			return nil, fmt.Errorf("watching slip config: %w", err)
		}
	}
	return classifier, nil
}

func setupRepos() (repository.Repositories, func(), error) {
	if config.DB == "" {
		return memory.New(), func() {}, nil
	}
	repos, err := sqlite.Open(config.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("Using sqlite persistence", log.String("db", config.DB))
	return repos, func() {
		if err := repos.Close(); err != nil {
			log.Error("closing database", log.ErrorField(err))
		}
	}, nil
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// session subjects carry driver and track as the last two tokens
func sessionFromSubject(subject string) (driver, trackID string, ok bool) {
	tokens := strings.Split(subject, ".")
	if len(tokens) < 2 {
		return "", "", false
	}
	return tokens[len(tokens)-2], tokens[len(tokens)-1], true
}

func handleFrame(ctx context.Context, registry *coach.Registry, msg *nats.Msg) {
	driver, trackID, ok := sessionFromSubject(msg.Subject)
	if !ok {
		return
	}
	var frame model.TelemetryFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		log.Warn("undecodable frame", log.ErrorField(err))
		return
	}
	if err := registry.Dispatch(ctx, driver, trackID, frame); err != nil {
		log.Error("dispatching frame",
			log.String("driver", driver), log.ErrorField(err))
	}
}

func handleSessionEnd(ctx context.Context, registry *coach.Registry, msg *nats.Msg) {
	driver, trackID, ok := sessionFromSubject(msg.Subject)
	if !ok {
		return
	}
	if err := registry.EndSession(ctx, driver, trackID); err != nil {
		log.Error("ending session",
			log.String("driver", driver), log.ErrorField(err))
	}
}
