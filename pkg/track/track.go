package track

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Load reads a single track definition file (yaml).
func Load(path string) (*model.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t model.Track
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing track file %s: %w", path, err)
	}
	if err := validate(&t); err != nil {
		return nil, fmt.Errorf("invalid track file %s: %w", path, err)
	}
	return &t, nil
}

// LoadDir reads all track definitions from a directory, keyed by track id.
func LoadDir(dir string) (map[string]*model.Track, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ret := make(map[string]*model.Track)
	for _, e := range entries {
		if e.IsDir() || !isYaml(e.Name()) {
			continue
		}
		t, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		ret[t.ID] = t
	}
	return ret, nil
}

func isYaml(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

func validate(t *model.Track) error {
	if t.ID == "" {
		return fmt.Errorf("missing track id")
	}
	for i := range t.Corners {
		c := &t.Corners[i]
		if !(c.EntryS < c.ApexS && c.ApexS < c.ExitS) {
			return fmt.Errorf("corner %d: entry/apex/exit not ascending", c.ID)
		}
		if c.ExitS > t.Length {
			return fmt.Errorf("corner %d: exceeds track length", c.ID)
		}
	}
	return nil
}
