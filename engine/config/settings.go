// Package config loads the viewer settings file. Missing files and omitted or zero fields fall
// back to defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
)

// Settings is the root of the settings file.
type Settings struct {
	Window      WindowSettings      `json:"window"`
	Device      DeviceSettings      `json:"device"`
	DrawStorage DrawStorageSettings `json:"drawStorage"`
	Scene       SceneSettings       `json:"scene"`
	LogLevel    string              `json:"logLevel"`
}

type WindowSettings struct {
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type DeviceSettings struct {
	VSync         bool `json:"vsync"`
	ShadowMapSize int  `json:"shadowMapSize"`
	// ForceFallbackAdapter selects a software adapter, for machines without a GPU.
	ForceFallbackAdapter bool `json:"forceFallbackAdapter"`
}

type DrawStorageSettings struct {
	ShadowCascades           int  `json:"shadowCascades"`
	MarshalWorkers           int  `json:"marshalWorkers"`
	ParallelMarshalThreshold int  `json:"parallelMarshalThreshold"`
	InitialInstanceCapacity  int  `json:"initialInstanceCapacity"`
	Bindless                 bool `json:"bindless"`
}

// SceneSettings sizes the procedural scene the viewer builds.
type SceneSettings struct {
	// LandscapeChunks is the number of landscape chunks per side.
	LandscapeChunks int `json:"landscapeChunks"`
	// Props is the number of movable props scattered over the landscape.
	Props int `json:"props"`
	// Animated is the number of skinned objects.
	Animated int `json:"animated"`
	// Models are glTF files whose parts are placed as static objects.
	Models []string `json:"models"`
	// Seed drives prop placement.
	Seed int64 `json:"seed"`
}

// Default returns the settings used when no file is present.
//
// Returns:
//   - Settings: the defaults
func Default() Settings {
	return Settings{
		Window: WindowSettings{
			Title:  "Meshlet Viewer",
			Width:  1280,
			Height: 720,
		},
		Device: DeviceSettings{
			VSync:         true,
			ShadowMapSize: 2048,
		},
		DrawStorage: DrawStorageSettings{
			ShadowCascades:           2,
			MarshalWorkers:           4,
			ParallelMarshalThreshold: 16384,
			InitialInstanceCapacity:  1024,
		},
		Scene: SceneSettings{
			LandscapeChunks: 8,
			Props:           2000,
			Animated:        16,
			Seed:            1,
		},
		LogLevel: "info",
	}
}

// Load reads settings from path over the defaults. A missing file is not an error.
//
// Parameters:
//   - path: the JSON settings file
//
// Returns:
//   - Settings: the merged settings
//   - bool: true if the file existed
//   - error: an error if the file cannot be read or parsed, or holds invalid values
func Load(path string) (Settings, bool, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, true, fmt.Errorf("config: error parsing %s: %w", path, err)
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return s, true, err
	}
	return s, true, nil
}

// normalize replaces zero sizes with defaults.
func (s *Settings) normalize() {
	d := Default()
	s.Window.Title = common.Coalesce(s.Window.Title, d.Window.Title)
	s.Window.Width = common.Coalesce(s.Window.Width, d.Window.Width)
	s.Window.Height = common.Coalesce(s.Window.Height, d.Window.Height)
	s.Device.ShadowMapSize = common.Coalesce(s.Device.ShadowMapSize, d.Device.ShadowMapSize)
	s.DrawStorage.MarshalWorkers = common.Coalesce(s.DrawStorage.MarshalWorkers, d.DrawStorage.MarshalWorkers)
	s.DrawStorage.ParallelMarshalThreshold = common.Coalesce(s.DrawStorage.ParallelMarshalThreshold, d.DrawStorage.ParallelMarshalThreshold)
	s.DrawStorage.InitialInstanceCapacity = common.Coalesce(s.DrawStorage.InitialInstanceCapacity, d.DrawStorage.InitialInstanceCapacity)
	s.LogLevel = common.Coalesce(s.LogLevel, d.LogLevel)
}

// Validate reports the first out-of-range value.
//
// Returns:
//   - error: nil if every value is usable
func (s Settings) Validate() error {
	switch {
	case s.Window.Width < 0 || s.Window.Height < 0:
		return fmt.Errorf("config: window size %dx%d is negative", s.Window.Width, s.Window.Height)
	case s.DrawStorage.ShadowCascades < 0 || s.DrawStorage.ShadowCascades > 4:
		return fmt.Errorf("config: shadowCascades %d outside [0, 4]", s.DrawStorage.ShadowCascades)
	case s.DrawStorage.MarshalWorkers < 1:
		return fmt.Errorf("config: marshalWorkers %d must be positive", s.DrawStorage.MarshalWorkers)
	case s.Scene.LandscapeChunks < 0 || s.Scene.Props < 0 || s.Scene.Animated < 0:
		return errors.New("config: scene counts must not be negative")
	case s.Device.ShadowMapSize&(s.Device.ShadowMapSize-1) != 0:
		return fmt.Errorf("config: shadowMapSize %d is not a power of two", s.Device.ShadowMapSize)
	}
	if _, err := s.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
//
// Returns:
//   - slog.Level: the level
//   - error: an error if LogLevel is not debug, info, warn or error
func (s Settings) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: logLevel: %w", err)
	}
	return l, nil
}
