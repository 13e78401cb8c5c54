package annot

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultMaxDetails is the server-side element cap for a region query.
	// Above it the element list is truncated and a centroid summary is used.
	DefaultMaxDetails = 250000

	// DefaultMaxCentroids caps the size of a centroid summary.
	DefaultMaxCentroids = 2000000

	// DefaultViewArea is the ratio of the fetched region to the visible
	// extent along each axis.
	DefaultViewArea = 3.0

	// DefaultFetchTimeout bounds a single transport call.
	DefaultFetchTimeout = 60 * time.Second

	// DefaultEndpoint is the resource path of annotations below the API root.
	DefaultEndpoint = "annotation"

	// DefaultFadeOpacity is the opacity multiplier applied to elements that
	// are not part of the current highlight.
	DefaultFadeOpacity = 0.25
)

// ErrInvalidConfig is returned by Validate and LoadConfig.
var ErrInvalidConfig = errors.New("annot: invalid config")

// Config holds the tunables consumed by the fetch, region and render layers.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	APIRoot      string        `yaml:"apiRoot"`
	Endpoint     string        `yaml:"endpoint"`
	Token        string        `yaml:"token"`
	MaxDetails   int           `yaml:"maxDetails"`
	MaxCentroids int           `yaml:"maxCentroids"`
	ViewArea     float64       `yaml:"viewArea"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	FadeOpacity  float64       `yaml:"fadeOpacity"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Endpoint:     DefaultEndpoint,
		MaxDetails:   DefaultMaxDetails,
		MaxCentroids: DefaultMaxCentroids,
		ViewArea:     DefaultViewArea,
		FetchTimeout: DefaultFetchTimeout,
		FadeOpacity:  DefaultFadeOpacity,
	}
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	switch {
	case c.MaxDetails <= 0:
		return fmt.Errorf("%w: maxDetails must be positive, got %d", ErrInvalidConfig, c.MaxDetails)
	case c.MaxCentroids <= 0:
		return fmt.Errorf("%w: maxCentroids must be positive, got %d", ErrInvalidConfig, c.MaxCentroids)
	case c.ViewArea < 1:
		return fmt.Errorf("%w: viewArea must be at least 1, got %g", ErrInvalidConfig, c.ViewArea)
	case c.FetchTimeout < 0:
		return fmt.Errorf("%w: fetchTimeout must not be negative", ErrInvalidConfig)
	case c.FadeOpacity < 0 || c.FadeOpacity > 1:
		return fmt.Errorf("%w: fadeOpacity must be in [0, 1], got %g", ErrInvalidConfig, c.FadeOpacity)
	case c.Endpoint == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig decodes YAML on top of DefaultConfig, so a document only needs
// to name the values it changes.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}
