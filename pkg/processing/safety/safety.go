package safety

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Bands holds the upper bounds of the green and yellow zones for the
// combined slip factor. Everything above YellowMax is red.
type Bands struct {
	GreenMax  float64 `yaml:"greenMax"`
	YellowMax float64 `yaml:"yellowMax"`
}

type Config struct {
	Entry Bands `yaml:"entry"`
	Exit  Bands `yaml:"exit"`
}

// DefaultConfig mirrors the tuned production thresholds.
func DefaultConfig() Config {
	return Config{
		Entry: Bands{GreenMax: 0.60, YellowMax: 0.85},
		Exit:  Bands{GreenMax: 0.60, YellowMax: 0.85},
	}
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing slip config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, b := range []Bands{c.Entry, c.Exit} {
		if !(b.GreenMax > 0 && b.GreenMax < b.YellowMax && b.YellowMax <= 1.0) {
			return fmt.Errorf("slip bands must satisfy 0 < greenMax < yellowMax <= 1")
		}
	}
	return nil
}

// Classifier is the single authoritative safety gate. Classification is
// a pure function of the observation and the current band config.
type Classifier struct {
	mu  sync.RWMutex
	cfg Config
	l   *log.Logger
}

type Option func(c *Classifier)

func WithConfig(cfg Config) Option {
	return func(c *Classifier) { c.cfg = cfg }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Classifier) { c.l = l }
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		cfg: DefaultConfig(),
		l:   log.Default().Named("safety"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Classify(obs *model.CornerObservation) model.PhaseStates {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()
	return model.PhaseStates{
		Entry: classify(obs.EntrySlip, cfg.Entry),
		Exit:  classify(obs.ExitSlip, cfg.Exit),
	}
}

func classify(slip float64, b Bands) model.SlipState {
	switch {
	case slip <= b.GreenMax:
		return model.SlipGreen
	case slip <= b.YellowMax:
		return model.SlipYellow
	default:
		return model.SlipRed
	}
}

// Watch hot-reloads the band config whenever the file changes. Invalid
// files are logged and ignored, the previous config stays active.
func (c *Classifier) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					c.l.Error("slip config reload failed", log.ErrorField(err))
					continue
				}
				c.mu.Lock()
				c.cfg = cfg
				c.mu.Unlock()
				c.l.Info("slip config reloaded", log.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.l.Error("slip config watcher", log.ErrorField(err))
			}
		}
	}()
	return nil
}
