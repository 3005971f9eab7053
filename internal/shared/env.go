package shared

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const envPrefix = "REELSYNC_"

// LoadEnv loads a .env file from dir into the process environment, if one exists.
// Values already present in the environment win.
func LoadEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides credentials and paths from REELSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"TRAKT_CLIENT_ID", &c.Credentials.Trakt.ClientID},
		{"TRAKT_CLIENT_SECRET", &c.Credentials.Trakt.ClientSecret},
		{"TRAKT_ACCESS_TOKEN", &c.Credentials.Trakt.AccessToken},
		{"TRAKT_REFRESH_TOKEN", &c.Credentials.Trakt.RefreshToken},
		{"TRAKT_USERNAME", &c.Credentials.Trakt.Username},
		{"IMDB_EXPORT_DIR", &c.Credentials.IMDb.ExportDir},
		{"WEBDRIVER_URL", &c.Credentials.IMDb.WebDriverURL},
		{"DATABASE_PATH", &c.Database.Path},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(envPrefix + o.key); ok && v != "" {
			*o.target = v
		}
	}
}
