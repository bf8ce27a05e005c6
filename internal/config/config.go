// Package config loads engine settings from an optional YAML file plus environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"fibermap/core-go/internal/cluster"
	"fibermap/core-go/internal/layout"
	"fibermap/core-go/internal/loader"
	"fibermap/core-go/internal/perf"
	"fibermap/core-go/internal/render/batch"
	"fibermap/core-go/internal/viewport"
)

var validate = validator.New()

const (
	BackendVector = "vector"
	BackendBatch  = "batch"
)

type Config struct {
	Server  ServerConfig    `yaml:"server"`
	Map     MapConfig       `yaml:"map"`
	Layout  LayoutConfig    `yaml:"layout"`
	Cluster cluster.Options `yaml:"cluster"`
	Loader  loader.Options  `yaml:"loader"`
	Perf    perf.Options    `yaml:"perf"`
	Render  RenderConfig    `yaml:"render"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	LogLevel    string `yaml:"log_level" validate:"required,oneof=trace debug info warn error fatal panic disabled"`
	DatabaseURL string `yaml:"database_url" validate:"omitempty,url"`
	// ResyncInterval forces a fresh repository snapshot while the change feed is healthy.
	ResyncInterval time.Duration `yaml:"resync_interval" validate:"min=0"`
	RetryInterval  time.Duration `yaml:"retry_interval" validate:"min=0"`
	// SeedFile is a JSON document of elements and connections served when no database is set.
	SeedFile string `yaml:"seed_file"`
}

type GeoPoint struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

type MapConfig struct {
	Width             int           `yaml:"width" validate:"gte=0"`
	Height            int           `yaml:"height" validate:"gte=0"`
	MinZoom           float64       `yaml:"min_zoom" validate:"gt=0"`
	MaxZoom           float64       `yaml:"max_zoom" validate:"gtfield=MinZoom"`
	InitialZoom       float64       `yaml:"initial_zoom" validate:"gt=0"`
	Center            GeoPoint      `yaml:"center"`
	MetersPerUnit     float64       `yaml:"meters_per_unit" validate:"gt=0"`
	AnimationDuration time.Duration `yaml:"animation_duration" validate:"min=0"`
	AnimationSteps    int           `yaml:"animation_steps" validate:"gte=0"`
	// Declutter lets the force layout move elements that carry fixed coordinates.
	Declutter bool `yaml:"declutter"`
	// InferTypes guesses the type of untyped elements from their names.
	InferTypes bool `yaml:"infer_types"`
}

type LayoutConfig struct {
	ChargeStrength float64       `yaml:"charge_strength" validate:"lt=0"`
	LinkDistance   float64       `yaml:"link_distance" validate:"gt=0"`
	CenterStrength float64       `yaml:"center_strength" validate:"gte=0,lte=1"`
	VelocityDecay  float64       `yaml:"velocity_decay" validate:"gt=0,lt=1"`
	TickInterval   time.Duration `yaml:"tick_interval" validate:"gt=0"`
	ReheatAlpha    float64       `yaml:"reheat_alpha" validate:"gt=0,lte=1"`
}

type RenderConfig struct {
	Backend  string        `yaml:"backend" validate:"oneof=vector batch"`
	DarkMode bool          `yaml:"dark_mode"`
	Batch    batch.Options `yaml:"batch"`
}

// Default returns the settings used when neither a file nor the environment says otherwise.
func Default() Config {
	lo := layout.DefaultOptions()
	return Config{
		Server: ServerConfig{
			Addr:           ":8081",
			LogLevel:       "info",
			ResyncInterval: 5 * time.Minute,
			RetryInterval:  400 * time.Millisecond,
		},
		Map: MapConfig{
			Width:             1280,
			Height:            800,
			MinZoom:           0.1,
			MaxZoom:           10,
			InitialZoom:       1,
			Center:            GeoPoint{Lat: 0, Lng: 0},
			MetersPerUnit:     10,
			AnimationDuration: 250 * time.Millisecond,
			AnimationSteps:    10,
			InferTypes:        true,
		},
		Layout: LayoutConfig{
			ChargeStrength: lo.ChargeStrength,
			LinkDistance:   lo.LinkDistance,
			CenterStrength: lo.CenterStrength,
			VelocityDecay:  lo.VelocityDecay,
			TickInterval:   lo.TickInterval,
			ReheatAlpha:    lo.ReheatAlpha,
		},
		Cluster: cluster.DefaultOptions(),
		Loader:  loader.DefaultOptions(),
		Perf: perf.Options{
			SampleInterval: time.Second,
			Window:         time.Second,
			Level:          string(perf.LevelAuto),
			AutoOptimize:   true,
			Stability:      3,
		},
		Render: RenderConfig{
			Backend: BackendVector,
			Batch:   batch.DefaultOptions(),
		},
	}
}

// Load reads path (or $MAP_CONFIG when path is empty) over the defaults, applies
// environment overrides and validates the result. A missing file is only an error when a
// path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("MAP_CONFIG"))
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.Server.Addr = envOr("HTTP_ADDR", cfg.Server.Addr)
	cfg.Server.LogLevel = strings.ToLower(envOr("LOG_LEVEL", cfg.Server.LogLevel))
	cfg.Server.DatabaseURL = envOr("DATABASE_URL", cfg.Server.DatabaseURL)
	cfg.Render.Backend = strings.ToLower(envOr("MAP_BACKEND", cfg.Render.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if lvl := strings.TrimSpace(c.Perf.Level); lvl != "" && !strings.EqualFold(lvl, string(perf.LevelAuto)) && perf.CanonicalizeLevel(lvl) == perf.LevelAuto {
		return fmt.Errorf("perf.level: unknown optimization level %q", c.Perf.Level)
	}
	if c.Loader.Margin < 0 {
		return fmt.Errorf("loader.margin: must be at least 0")
	}
	if c.Cluster.ZoomThreshold < 0 || c.Cluster.MaxDistance < 0 || c.Cluster.MaxClusterSize < 0 {
		return fmt.Errorf("cluster: thresholds must not be negative")
	}
	return nil
}

// Viewport converts the map section into viewport settings.
func (c Config) Viewport() viewport.Config {
	return viewport.Config{
		MinZoom:           c.Map.MinZoom,
		MaxZoom:           c.Map.MaxZoom,
		InitialZoom:       c.Map.InitialZoom,
		Center:            orb.Point{c.Map.Center.Lng, c.Map.Center.Lat},
		MetersPerUnit:     c.Map.MetersPerUnit,
		AnimationDuration: c.Map.AnimationDuration,
		AnimationSteps:    c.Map.AnimationSteps,
	}
}

// LayoutOptions overlays the layout section on the simulation defaults.
func (c Config) LayoutOptions() layout.Options {
	o := layout.DefaultOptions()
	o.ChargeStrength = c.Layout.ChargeStrength
	o.LinkDistance = c.Layout.LinkDistance
	o.CenterStrength = c.Layout.CenterStrength
	o.VelocityDecay = c.Layout.VelocityDecay
	o.TickInterval = c.Layout.TickInterval
	o.ReheatAlpha = c.Layout.ReheatAlpha
	return o
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, e.Param())
		case "gtfield":
			return fmt.Errorf("%s: must be greater than %s", field, e.Param())
		default:
			return fmt.Errorf("%s: validation failed (%s %s)", field, e.Tag(), e.Param())
		}
	}
	return err
}
