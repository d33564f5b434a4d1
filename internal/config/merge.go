package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for shallow merge.
const (
	keyLogging  = "logging"
	keyCalendar = "calendar"
	keyCache    = "cache"
	keyDatasets = "datasets"
)

// knownTopLevelKeys lists the YAML keys an overlay may replace.
// Keys not in this list (including version) are silently ignored during merge.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var knownTopLevelKeys = map[string]bool{
	keyLogging:  true,
	keyCalendar: true,
	keyCache:    true,
	keyDatasets: true,
}

// ProjectOverlayFile is the per-directory overlay merged over the user config.
const ProjectOverlayFile = ".mktcache.yaml"

// ShallowMergeYAML loads a YAML file and merges its top-level keys onto
// the target Config. Keys present in the overlay replace entire sections
// in the target. Keys absent in the overlay are left unchanged.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]interface{}
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	// Empty or comment-only file: nothing to merge.
	if len(overlay) == 0 {
		return nil
	}

	for key, value := range overlay {
		if !knownTopLevelKeys[key] {
			continue
		}

		sectionBytes, marshalErr := yaml.Marshal(value)
		if marshalErr != nil {
			return fmt.Errorf("re-marshalling overlay section %q: %w", key, marshalErr)
		}

		if err = unmarshalSection(target, key, sectionBytes); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}

	return nil
}

// unmarshalSection unmarshals raw YAML bytes into a fresh value of the
// section named by key and replaces that section of target.
func unmarshalSection(target *Config, key string, data []byte) error {
	switch key {
	case keyLogging:
		var v LoggingConfig
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Logging = v
		return nil
	case keyCalendar:
		var v CalendarConfig
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Calendar = v
		return nil
	case keyCache:
		var v CacheConfig
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Cache = v
		return nil
	case keyDatasets:
		var v []DatasetConfig
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Datasets = v
		return nil
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
}
