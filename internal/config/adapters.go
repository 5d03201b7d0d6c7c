package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"gopkg.in/yaml.v3"
)

type AdaptersFile struct {
	Adapters []AdapterEntry `yaml:"adapters"`
}

type AdapterEntry struct {
	CustomKind string `yaml:"customKind"`
	Enabled    *bool  `yaml:"enabled"`
}

func (e AdapterEntry) enabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// LoadAdapters builds the registry declared in path. An empty path
// registers every built-in adapter.
func LoadAdapters(path string) (*timeline.AdapterRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return timeline.NewAdapterRegistry(timeline.DefaultAdapters()...), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapters file: %w", err)
	}
	return ParseAdapters(data)
}

func ParseAdapters(data []byte) (*timeline.AdapterRegistry, error) {
	var file AdaptersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse adapters file: %w", err)
	}
	adapters := make([]timeline.ResultAdapter, 0, len(file.Adapters))
	for i, entry := range file.Adapters {
		kind := strings.TrimSpace(entry.CustomKind)
		if kind == "" {
			return nil, fmt.Errorf("adapters[%d]: customKind is required", i)
		}
		adapter, ok := timeline.BuiltinAdapter(kind)
		if !ok {
			return nil, fmt.Errorf("adapters[%d]: unknown customKind %q", i, kind)
		}
		if !entry.enabled() {
			continue
		}
		adapters = append(adapters, adapter)
	}
	return timeline.NewAdapterRegistry(adapters...), nil
}
