package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/config"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/reference"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/safety"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository/memory"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/sink/local"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/track"
)

var (
	driver  string
	trackID string
	assists string
	device  string
)

func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <frames-file>",
		Short: "feeds a recorded frame stream through the pipeline",
		Long: `Reads JSON-lines telemetry frames from a file and runs the full
decision pipeline on fresh in-memory state. Identical input yields an
identical recommendation stream, printed to stdout as JSON lines.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0])
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "replay",
		"driver name attributed to the session")
	cmd.Flags().StringVar(&trackID, "track", "",
		"track id of the recording (must exist in the track dir)")
	cmd.Flags().StringVar(&assists, "assists", "none",
		"assist configuration of the recording")
	cmd.Flags().StringVar(&device, "device", "wheel",
		"input device class of the recording")
	return cmd
}

//nolint:funlen // by design
func runReplay(framesFile string) error {
	logger := log.DevLogger(os.Stderr, log.WarnLevel)
	log.ResetDefault(logger)

	if trackID == "" {
		return fmt.Errorf("--track is required")
	}
	tracks, err := track.LoadDir(config.TrackDir)
	if err != nil {
		return fmt.Errorf("loading track definitions: %w", err)
	}
	trk, ok := tracks[trackID]
	if !ok {
		return fmt.Errorf("unknown track %q", trackID)
	}

	classifierOpts := []safety.Option{safety.WithLogger(logger)}
	if config.SlipConfig != "" {
		cfg, cfgErr := safety.LoadConfig(config.SlipConfig)
		if cfgErr != nil {
			return fmt.Errorf("loading slip config: %w", cfgErr)
		}
		classifierOpts = append(classifierOpts, safety.WithConfig(cfg))
	}

	out := local.NewSink("replay", local.WithLogger(logger))
	recs := out.SubscribeRecommendations()

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		enc := json.NewEncoder(os.Stdout)
		for batch := range recs {
			for _, rec := range batch {
				//nolint:errcheck // stdout
				enc.Encode(rec)
			}
		}
	}()

	p := coach.NewPipeline(driver, trk, memory.New(), out,
		coach.WithFilterKey(model.FilterKey{Assists: assists, Device: device}),
		coach.WithClassifier(safety.NewClassifier(classifierOpts...)),
		coach.WithReferenceModel(reference.NewModel(reference.WithLogger(logger))),
		coach.WithLogger(logger))

	f, err := os.Open(framesFile)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var frame model.TelemetryFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			logger.Warn("skipping undecodable frame",
				log.Int("line", line), log.ErrorField(err))
			continue
		}
		p.OnFrame(ctx, frame)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading frames: %w", err)
	}

	if err := p.Close(ctx); err != nil {
		logger.Error("closing pipeline", log.ErrorField(err))
	}
	if err := out.Close(); err != nil {
		logger.Error("closing sink", log.ErrorField(err))
	}
	<-printerDone
	return nil
}
