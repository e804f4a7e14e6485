// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAPI = "api"
	ProviderRSS = "rss"

	fileName = "tubewatch.conf"
)

var (
	ErrMissingAPIKey   = errors.New("the api provider requires an apiKey")
	ErrUnknownProvider = errors.New("unknown provider")
)

// Header is an extra HTTP header sent with every API request
type Header struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type Config struct {
	APIKey       string
	ExtraHeaders []Header
	DBPath       string
	Provider     string
	// RefreshInterval is zero when auto refresh is disabled
	RefreshInterval time.Duration
	// File is the config file that was read, if any
	File string
}

type fileConfig struct {
	APIKey              string   `yaml:"apiKey"`
	ExtraHeaders        []Header `yaml:"extraHeaders"`
	Database            string   `yaml:"database"`
	Provider            string   `yaml:"provider"`
	AutoRefreshInterval *int     `yaml:"autoRefreshInterval"`
}

// Defaults returns the configuration used when nothing else is set
func Defaults() Config {
	return Config{
		DBPath:   "$HOME/.local/share/tubewatch/tubewatch.db",
		Provider: ProviderAPI,
	}
}

// Load builds the configuration from defaults, the config file, .env files
// and the environment, in that order. An empty path searches the default
// locations; a missing file there is not an error.
func Load(path string) (Config, error) {
	c := Defaults()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := c.readFile(path); err != nil {
			return c, err
		}
	}

	loadEnvFiles()
	c.applyEnv()

	c.DBPath = expandHome(c.DBPath)
	return c, nil
}

func findConfigFile() string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", fileName))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), fileName))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("error parsing config %s: %w", path, err)
	}

	c.File = path
	if f.APIKey != "" {
		c.APIKey = f.APIKey
	}
	if len(f.ExtraHeaders) > 0 {
		c.ExtraHeaders = f.ExtraHeaders
	}
	if f.Database != "" {
		c.DBPath = f.Database
	}
	if f.Provider != "" {
		c.Provider = strings.ToLower(f.Provider)
	}
	if f.AutoRefreshInterval != nil {
		c.RefreshInterval = seconds(*f.AutoRefreshInterval)
	}
	return nil
}

// loadEnvFiles reads .env.local and .env from the working directory.
// Variables that are already set are left alone.
func loadEnvFiles() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		_ = godotenv.Load(name)
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv("TUBEWATCH_API_KEY"); key != "" {
		c.APIKey = key
	}

	if dbPath := os.Getenv("TUBEWATCH_DB_PATH"); dbPath != "" {
		c.DBPath = dbPath
	}

	if provider := os.Getenv("TUBEWATCH_PROVIDER"); provider != "" {
		c.Provider = strings.ToLower(provider)
	}

	if interval := os.Getenv("TUBEWATCH_REFRESH_INTERVAL"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil {
			c.RefreshInterval = seconds(n)
		}
	}
}

// Validate checks settings that cannot be defaulted
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAPI:
		if c.APIKey == "" {
			return ErrMissingAPIKey
		}
	case ProviderRSS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	return nil
}

// Headers returns ExtraHeaders as an http.Header
func (c Config) Headers() http.Header {
	h := make(http.Header, len(c.ExtraHeaders))
	for _, eh := range c.ExtraHeaders {
		if eh.Key == "" {
			continue
		}
		h.Add(eh.Key, eh.Value)
	}
	return h
}

// seconds converts the file's interval; -1 and other non-positive values disable
func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func expandHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, path[2:])
	}
	return strings.ReplaceAll(path, "$HOME", home)
}
