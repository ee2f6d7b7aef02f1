// Package config loads the OpenStudio station manifest.
//
// The manifest format and load discipline (viper, SetDefault for every
// optional knob, fail-fast on a malformed file) follows
// cmd/signallingserver/config/config.go and internal/utils/viperdefaults.go in
// the teacher codebase.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// TurnServer is one entry of ice.turn in the manifest.
type TurnServer struct {
	URLs       string `mapstructure:"urls"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

// Manifest is the validated station configuration manifest (§6).
type Manifest struct {
	StationID string `mapstructure:"station_id"`
	Name      string `mapstructure:"name"`

	Signaling struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"signaling"`

	ICE struct {
		STUN []string     `mapstructure:"stun"`
		TURN []TurnServer `mapstructure:"turn"`
	} `mapstructure:"ice"`

	LogLevel string `mapstructure:"loglevel"`
	LogFile  string `mapstructure:"logfile"`
	Port     int    `mapstructure:"port"`

	// Stream configures the StreamPublisher's push endpoint (§4.8). It is
	// optional: a manifest with an empty Stream.URL simply never starts a
	// publisher, which is the normal case for every participant except
	// whichever process is designated to push the program bus out.
	Stream struct {
		URL         string `mapstructure:"url"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		ContentType string `mapstructure:"content_type"`
		StreamName  string `mapstructure:"stream_name"`
		Description string `mapstructure:"description"`
		Public      bool   `mapstructure:"public"`
		BitrateKbps int    `mapstructure:"bitrate_kbps"`
	} `mapstructure:"stream"`
}

// Load reads the manifest at path (falling back to path+".sample" with a
// warning if path does not exist), validates it, and returns it. On any
// validation failure every issue is logged and a non-nil error is returned;
// callers at the process boundary should log.Fatal / os.Exit(1) on error, per
// §6/§7's "exit with non-zero status after logging all validation errors".
func Load(path string) (*Manifest, error) {
	v := viper.New()
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("port", 6736)
	v.SetConfigFile(path)

	if _, err := os.Stat(path); err != nil {
		samplePath := path + ".sample"
		if _, sampleErr := os.Stat(samplePath); sampleErr == nil {
			slog.Warn("config file not found, falling back to sample manifest",
				"configFilePath", path, "samplePath", samplePath)
			v.SetConfigFile(samplePath)
			// The ".sample" suffix hides the real format from viper's
			// extension-based detection, so take it from the main path.
			v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Error("no config file found", "configFilePath", path)
		} else {
			slog.Error("error reading config file", "err", err)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if portEnv, ok := os.LookupEnv("PORT"); ok && portEnv != "" {
		v.Set("port", portEnv)
	}

	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		slog.Error("error unmarshalling config", "err", err)
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if errs := validate(&m); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("config validation error", "err", e)
		}
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return &m, nil
}

func validate(m *Manifest) []error {
	var errs []error

	if strings.TrimSpace(m.StationID) == "" {
		errs = append(errs, errors.New("station_id is required"))
	}
	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if m.Signaling.URL == "" {
		errs = append(errs, errors.New("signaling.url is required"))
	} else if !strings.HasPrefix(m.Signaling.URL, "ws://") && !strings.HasPrefix(m.Signaling.URL, "wss://") {
		errs = append(errs, fmt.Errorf("signaling.url must be a ws:// or wss:// URL, got %q", m.Signaling.URL))
	}
	if len(m.ICE.STUN) == 0 {
		errs = append(errs, errors.New("ice.stun must contain at least one stun: URL"))
	}
	for _, u := range m.ICE.STUN {
		if !strings.HasPrefix(u, "stun:") {
			errs = append(errs, fmt.Errorf("ice.stun entry %q must start with stun:", u))
		}
	}
	for _, t := range m.ICE.TURN {
		if !strings.HasPrefix(t.URLs, "turn:") {
			errs = append(errs, fmt.Errorf("ice.turn entry %q must start with turn:", t.URLs))
		}
	}

	return errs
}
