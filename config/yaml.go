package config

import (
	"os"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config with human-readable durations ("10s", "1h30m").
type yamlConfig struct {
	Backend     string `yaml:"backend"`
	KeyPrefix   string `yaml:"key_prefix"`
	FileDir     string `yaml:"file_dir"`
	RedisURL    string `yaml:"redis_url"`
	LockTimeout string `yaml:"lock_timeout"`
}

type yamlFile struct {
	Disabled bool                  `yaml:"disabled"`
	Default  yamlConfig            `yaml:"default"`
	Scopes   map[string]yamlConfig `yaml:"scopes"`
}

func (y yamlConfig) resolve() (Config, error) {
	cfg := Config{
		Backend:   y.Backend,
		KeyPrefix: y.KeyPrefix,
		FileDir:   y.FileDir,
		RedisURL:  y.RedisURL,
	}
	if y.LockTimeout != "" {
		d, err := str2duration.ParseDuration(y.LockTimeout)
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse lock_timeout %q", y.LockTimeout)
		}
		cfg.LockTimeout = d
	}
	return cfg, nil
}

// FromYAML applies configuration from YAML to the registry. The document
// has an optional default section, a scopes map, and a disabled flag:
//
//	disabled: false
//	default:
//	  backend: file
//	  file_dir: /var/cache/app
//	  lock_timeout: 10s
//	scopes:
//	  billing:
//	    backend: redis
//	    redis_url: redis://cache:6379/1
func (r *Registry) FromYAML(data []byte) error {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.Wrap(err, "parse cache configuration")
	}
	def, err := file.Default.resolve()
	if err != nil {
		return err
	}
	r.SetDefault(def)
	for scope, y := range file.Scopes {
		cfg, err := y.resolve()
		if err != nil {
			return errors.Wrapf(err, "scope %s", scope)
		}
		r.Configure(scope, cfg)
	}
	if file.Disabled {
		r.Disable()
	}
	return nil
}

// Load reads a YAML configuration file into the registry.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read cache configuration %s", path)
	}
	return r.FromYAML(data)
}
