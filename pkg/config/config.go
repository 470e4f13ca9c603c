// Package config holds the viewer's settings and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sudorandom/packet-stream/pkg/flow"
)

// Config is the top-level configuration for the packet viewer.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	Animation AnimationConfig `yaml:"animation"`
	Render    RenderConfig    `yaml:"render"`

	// GeoIPDB is an optional MaxMind city database. When empty, endpoints
	// are placed at random.
	GeoIPDB string `yaml:"geoip_db"`
	// Listen is the address of the frame/flow API. Empty disables it.
	Listen string `yaml:"listen"`
}

type AnimationConfig struct {
	Step         float64 `yaml:"step"`
	Epsilon      float64 `yaml:"epsilon"`
	FrameCoupled bool    `yaml:"frame_coupled"`
	SpherePolicy string  `yaml:"sphere_policy"`
	// GlobeRotation is the globe's spin per frame in radians.
	GlobeRotation float64 `yaml:"globe_rotation"`
	Seed          int64   `yaml:"seed"`
}

type RenderConfig struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	Scale        float64 `yaml:"scale"`
	WindowWidth  int     `yaml:"window_width"`
	WindowHeight int     `yaml:"window_height"`
	TPS          int     `yaml:"tps"`
	Headless     bool    `yaml:"headless"`
	CaptureDir   string  `yaml:"capture_dir"`
	Globe        bool    `yaml:"globe"`
}

func Default() *Config {
	return &Config{
		APIURL:       "http://localhost:5000",
		PollInterval: flow.DefaultPollInterval,
		FetchTimeout: 4 * time.Second,
		Animation: AnimationConfig{
			Step:          flow.DefaultStep,
			Epsilon:       flow.DefaultEpsilon,
			SpherePolicy:  flow.SpherePlane.String(),
			GlobeRotation: 0.01,
		},
		Render: RenderConfig{
			Width:        1920,
			Height:       1080,
			Scale:        300,
			WindowWidth:  1280,
			WindowHeight: 720,
			TPS:          60,
			Globe:        true,
		},
	}
}

// LoadConfig reads a YAML file on top of the defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filePath, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval))
	}
	if c.Animation.Step <= 0 || c.Animation.Step > 1 {
		errs = append(errs, fmt.Errorf("animation.step must be in (0, 1], got %v", c.Animation.Step))
	}
	if c.Animation.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("animation.epsilon must be positive, got %v", c.Animation.Epsilon))
	}
	if _, err := flow.ParseSpherePolicy(c.Animation.SpherePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		errs = append(errs, fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height))
	}
	if c.Render.TPS <= 0 {
		errs = append(errs, fmt.Errorf("render.tps must be positive, got %d", c.Render.TPS))
	}
	return errors.Join(errs...)
}

// SessionConfig converts the config into the animation session settings.
func (c *Config) SessionConfig() flow.SessionConfig {
	return flow.SessionConfig{
		APIURL:       c.APIURL,
		PollInterval: c.PollInterval,
		FetchTimeout: c.FetchTimeout,
		Step:         c.Animation.Step,
		Epsilon:      c.Animation.Epsilon,
		FrameCoupled: c.Animation.FrameCoupled,
	}
}
