// Package config reads the run configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything a run needs. It is built once at startup and not
// modified afterwards.
type Config struct {
	AccessToken string `envconfig:"VK_ACCESS_TOKEN"`
	GroupID     string `envconfig:"VK_GROUP_ID"`
	APIURL      string `envconfig:"VK_API_URL" default:"https://api.vk.com/method"`
	APIVersion  string `envconfig:"VK_API_VERSION" default:"5.131"`

	XKCDBaseURL string        `envconfig:"XKCD_BASE_URL" default:"https://xkcd.com"`
	ScratchDir  string        `envconfig:"SCRATCH_DIR" default:"images"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	DryRun      bool          `envconfig:"DRY_RUN"`

	HeartbeatEndpoint string `envconfig:"HEARTBEAT_ENDPOINT"`
	ArchiveBucket     string `envconfig:"ARCHIVE_BUCKET"`
	ArchivePrefix     string `envconfig:"ARCHIVE_PREFIX" default:"strips/"`
	HistoryTable      string `envconfig:"HISTORY_TABLE"`
	HistoryDB         string `envconfig:"HISTORY_DB"`
}

// Load reads the given env files (".env" if none are given) into the process
// environment and then builds a Config from it. Missing env files are
// skipped. Variables already set in the environment take precedence.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.GroupID = strings.TrimPrefix(strings.TrimSpace(c.GroupID), "-")

	if c.DryRun {
		return nil
	}
	if c.AccessToken == "" {
		return errors.New("required key VK_ACCESS_TOKEN missing value")
	}
	if c.GroupID == "" {
		return errors.New("required key VK_GROUP_ID missing value")
	}
	if strings.Trim(c.GroupID, "0123456789") != "" {
		return fmt.Errorf("VK_GROUP_ID %q is not a numeric group id", c.GroupID)
	}
	return nil
}

// String hides the access token so the config can be logged.
func (c Config) String() string {
	masked := c
	if masked.AccessToken != "" {
		masked.AccessToken = "***"
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}
