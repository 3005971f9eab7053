package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/reelsync/internal/models"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Sync        SyncConfig        `toml:"sync"`
	Transport   TransportConfig   `toml:"transport"`
	Limits      LimitsConfig      `toml:"limits"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Trakt TraktConfig `toml:"trakt"`
	IMDb  IMDbConfig  `toml:"imdb"`
}

// TraktConfig contains Trakt API credentials and the persisted OAuth token.
type TraktConfig struct {
	ClientID     string    `toml:"client_id"`
	ClientSecret string    `toml:"client_secret"`
	RedirectURI  string    `toml:"redirect_uri"`
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	Expiry       time.Time `toml:"expiry,omitempty"`
	Username     string    `toml:"username"`
}

// Map returns the credentials in the form accepted by the Trakt service constructor.
// The expiry is RFC 3339 and omitted when unknown.
func (c TraktConfig) Map() map[string]string {
	m := map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
		"access_token":  c.AccessToken,
		"refresh_token": c.RefreshToken,
		"username":      c.Username,
	}
	if !c.Expiry.IsZero() {
		m["expiry"] = c.Expiry.Format(time.RFC3339)
	}
	return m
}

// Token returns the stored OAuth token, or nil when no access token is configured.
func (c TraktConfig) Token() *oauth2.Token {
	if c.AccessToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}
}

// Update stores a freshly issued token.
func (c *TraktConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidCredentials)
	}
	c.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.RefreshToken = token.RefreshToken
	}
	c.Expiry = token.Expiry
	return nil
}

// IMDbConfig points at the secondary service's list exports and browser automation endpoint.
type IMDbConfig struct {
	ExportDir    string `toml:"export_dir"`
	WebDriverURL string `toml:"webdriver_url"`
	Headless     bool   `toml:"headless"`
	// ProfileDir is a browser profile already signed in to IMDb.
	ProfileDir string `toml:"profile_dir"`
}

// ExportPath returns the CSV export path for a category.
func (c IMDbConfig) ExportPath(cat models.Category) string {
	name := map[models.Category]string{
		models.Ratings:   "ratings.csv",
		models.Watchlist: "watchlist.csv",
		models.History:   "checkins.csv",
		models.Reviews:   "reviews.csv",
	}[cat]
	return filepath.Join(c.ExportDir, name)
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains the OAuth callback listener settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig toggles categories and derived behaviours.
type SyncConfig struct {
	Ratings                      bool `toml:"ratings"`
	Watchlist                    bool `toml:"watchlist"`
	Reviews                      bool `toml:"reviews"`
	WatchHistory                 bool `toml:"watch_history"`
	RemoveWatched                bool `toml:"remove_watched"`
	MarkRatedAsWatched           bool `toml:"mark_rated_as_watched"`
	RemoveWatchlistOlderThanDays int  `toml:"remove_watchlist_older_than_days"`
	MinReviewLength              int  `toml:"min_review_length"`
	ReviewGuardDays              int  `toml:"review_guard_days"`
}

// Enabled reports whether cat has to be fetched. Derived behaviours pull in
// categories they read from: mark_rated_as_watched needs ratings and history,
// remove_watched needs history and watchlists.
func (s SyncConfig) Enabled(cat models.Category) bool {
	switch cat {
	case models.Ratings:
		return s.Ratings || s.MarkRatedAsWatched
	case models.Watchlist:
		return s.Watchlist || s.RemoveWatched || s.RemoveWatchlistOlderThanDays > 0
	case models.Reviews:
		return s.Reviews
	case models.History:
		return s.WatchHistory || s.MarkRatedAsWatched || s.RemoveWatched
	default:
		return false
	}
}

// Syncs reports whether missing items of cat are copied across.
func (s SyncConfig) Syncs(cat models.Category) bool {
	switch cat {
	case models.Ratings:
		return s.Ratings
	case models.Watchlist:
		return s.Watchlist
	case models.Reviews:
		return s.Reviews
	case models.History:
		return s.WatchHistory || s.MarkRatedAsWatched
	default:
		return false
	}
}

// TransportConfig tunes batching, retries and throttling.
type TransportConfig struct {
	BatchSize       int           `toml:"batch_size"`
	Timeout         time.Duration `toml:"timeout"`
	MaxRetries      int           `toml:"max_retries"`
	InitialBackoff  time.Duration `toml:"initial_backoff"`
	BatchDelay      time.Duration `toml:"batch_delay"`
	BatchLongDelay  time.Duration `toml:"batch_long_delay"`
	LongDelayEvery  int           `toml:"long_delay_every"`
	ItemDelay       time.Duration `toml:"item_delay"`
	ItemLongDelay   time.Duration `toml:"item_long_delay"`
	ResolverWorkers int           `toml:"resolver_workers"`
	ResolverRate    float64       `toml:"resolver_rate"`
}

// LimitsConfig holds provider-imposed list size ceilings.
type LimitsConfig struct {
	IMDbWatchlistMax int `toml:"imdb_watchlist_max"`
	IMDbHistoryMax   int `toml:"imdb_history_max"`
}

// Validate checks the values the engine depends on.
func (c *Config) Validate() error {
	switch {
	case c.Transport.BatchSize <= 0:
		return fmt.Errorf("%w: transport.batch_size must be positive", ErrInvalidConfig)
	case c.Transport.MaxRetries < 1:
		return fmt.Errorf("%w: transport.max_retries must be at least 1", ErrInvalidConfig)
	case c.Transport.Timeout <= 0:
		return fmt.Errorf("%w: transport.timeout must be positive", ErrInvalidConfig)
	case c.Sync.MinReviewLength < 0:
		return fmt.Errorf("%w: sync.min_review_length cannot be negative", ErrInvalidConfig)
	case c.Sync.RemoveWatchlistOlderThanDays < 0:
		return fmt.Errorf("%w: sync.remove_watchlist_older_than_days cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their defaults from the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// SaveConfig writes config to path as TOML.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
