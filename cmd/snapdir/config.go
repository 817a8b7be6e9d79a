package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type config struct {
	path     string
	repo     map[string]interface{}
	cacheDir string
	ignore   []string
	logLevel string
}

// Settings come from the config file,
// overridden by SNAPDIR_-prefixed environment variables.
func loadConfig(path string) (*config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SNAPDIR")
	v.AutomaticEnv()
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	repo := v.GetStringMap("repo")
	if _, ok := repo["type"].(string); !ok {
		return nil, errors.Errorf("config file %s missing repo `type` parameter", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "absolutizing %s", path)
	}

	return &config{
		path:     abs,
		repo:     repo,
		cacheDir: v.GetString("cache_dir"),
		ignore:   v.GetStringSlice("ignore"),
		logLevel: v.GetString("log_level"),
	}, nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "snapdir")
	}
	return filepath.Join(os.TempDir(), "snapdir")
}
