// Package conf holds the runtime configuration for the highlight engine:
// throttle windows, debounce intervals, rendering defaults, backend
// endpoints and persistence settings. Settings are loaded once through
// viper with embedded defaults and environment overrides.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// HighlightSettings contains rendering defaults and matching tolerances
// for highlight records.
type HighlightSettings struct {
	SearchColor       string  // color applied to all search highlights
	ManualColor       string  // default color for manually drawn highlights
	EntityFallback    string  // entity color when the model has no palette entry
	Opacity           float64 // default fill opacity for new records
	PositionTolerance float64 // center-distance tolerance for position matching, document units
}

// ThrottleSettings controls how often a (file, page) unit may be
// reprocessed. Auto-processed files use a much shorter window so a burst
// of page renders converges to fully highlighted state quickly.
type ThrottleSettings struct {
	Interactive   time.Duration // minimum gap between passes for user-opened files
	AutoProcessed time.Duration // minimum gap for bulk pipeline files
	ResetWindow   time.Duration // per-file throttle for reset-entity-highlights signals
	DelayedReset  time.Duration // delay before the follow-up reset on detection-complete
}

// CoordinatorSettings controls the reconciliation loop.
type CoordinatorSettings struct {
	Debounce time.Duration // coalescing window for annotations-changed notifications
}

// BackendSettings configures the detection/search/redaction service client.
type BackendSettings struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64 // client-side rate limit, 0 disables
}

// PersistenceSettings configures the durable highlight mirror.
type PersistenceSettings struct {
	Enabled bool
	Path    string // sqlite database path
}

// Settings is the root configuration structure.
type Settings struct {
	Debug       bool
	Highlight   HighlightSettings
	Throttle    ThrottleSettings
	Coordinator CoordinatorSettings
	Backend     BackendSettings
	Persistence PersistenceSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("highlight.searchcolor", "#71c4ff")
	viper.SetDefault("highlight.manualcolor", "#00ff15")
	viper.SetDefault("highlight.entityfallback", "#ffd771")
	viper.SetDefault("highlight.opacity", 0.4)
	viper.SetDefault("highlight.positiontolerance", 5.0)

	viper.SetDefault("throttle.interactive", "1s")
	viper.SetDefault("throttle.autoprocessed", "150ms")
	viper.SetDefault("throttle.resetwindow", "500ms")
	viper.SetDefault("throttle.delayedreset", "400ms")

	viper.SetDefault("coordinator.debounce", "100ms")

	viper.SetDefault("backend.baseurl", "http://localhost:8000")
	viper.SetDefault("backend.timeout", "30s")
	viper.SetDefault("backend.requestspersec", 10.0)

	viper.SetDefault("persistence.enabled", true)
	viper.SetDefault("persistence.path", "highlights.db")
}

// Load reads the configuration from defaults, an optional config file and
// HIDEME_-prefixed environment variables. It is safe to call multiple
// times; only the first call performs the load.
func Load() (*Settings, error) {
	var loadErr error
	once.Do(func() {
		setDefaultConfig()

		viper.SetConfigName("hideme")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.SetEnvPrefix("hideme")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			// Missing config file is fine, defaults apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				loadErr = fmt.Errorf("failed to read config: %w", err)
				return
			}
		}

		settings := &Settings{
			Debug: viper.GetBool("debug"),
			Highlight: HighlightSettings{
				SearchColor:       viper.GetString("highlight.searchcolor"),
				ManualColor:       viper.GetString("highlight.manualcolor"),
				EntityFallback:    viper.GetString("highlight.entityfallback"),
				Opacity:           viper.GetFloat64("highlight.opacity"),
				PositionTolerance: viper.GetFloat64("highlight.positiontolerance"),
			},
			Throttle: ThrottleSettings{
				Interactive:   viper.GetDuration("throttle.interactive"),
				AutoProcessed: viper.GetDuration("throttle.autoprocessed"),
				ResetWindow:   viper.GetDuration("throttle.resetwindow"),
				DelayedReset:  viper.GetDuration("throttle.delayedreset"),
			},
			Coordinator: CoordinatorSettings{
				Debounce: viper.GetDuration("coordinator.debounce"),
			},
			Backend: BackendSettings{
				BaseURL:        viper.GetString("backend.baseurl"),
				Timeout:        viper.GetDuration("backend.timeout"),
				RequestsPerSec: viper.GetFloat64("backend.requestspersec"),
			},
			Persistence: PersistenceSettings{
				Enabled: viper.GetBool("persistence.enabled"),
				Path:    viper.GetString("persistence.path"),
			},
		}

		settingsMutex.Lock()
		settingsInstance = settings
		settingsMutex.Unlock()
	})
	if loadErr != nil {
		return nil, loadErr
	}

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance, nil
}

// Setting returns the loaded settings, loading defaults if Load has not
// been called yet. Configuration errors fall back to pure defaults.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil || settings == nil {
		return DefaultSettings()
	}
	return settings
}

// DefaultSettings returns a settings struct populated with the built-in
// defaults, without touching viper state. Used by tests and as the
// fallback when loading fails.
func DefaultSettings() *Settings {
	return &Settings{
		Highlight: HighlightSettings{
			SearchColor:       "#71c4ff",
			ManualColor:       "#00ff15",
			EntityFallback:    "#ffd771",
			Opacity:           0.4,
			PositionTolerance: 5.0,
		},
		Throttle: ThrottleSettings{
			Interactive:   time.Second,
			AutoProcessed: 150 * time.Millisecond,
			ResetWindow:   500 * time.Millisecond,
			DelayedReset:  400 * time.Millisecond,
		},
		Coordinator: CoordinatorSettings{
			Debounce: 100 * time.Millisecond,
		},
		Backend: BackendSettings{
			BaseURL:        "http://localhost:8000",
			Timeout:        30 * time.Second,
			RequestsPerSec: 10,
		},
		Persistence: PersistenceSettings{
			Enabled: true,
			Path:    "highlights.db",
		},
	}
}
