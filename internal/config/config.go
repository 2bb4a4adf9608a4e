// Package config loads the configuration of vfsctl.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

//go:embed config.default.yaml
var defaultConfig []byte

// EnvJSON names the environment variable holding a JSON
// document loaded on top of every configuration file.
const EnvJSON = "VFSCTL_CONFIG_JSON"

type Config struct {
	Cwd         string        `key:"cwd"`
	LockTimeout time.Duration `key:"lockTimeout"`
	Log         LogConfig     `key:"log"`
	Mounts      []MountConfig `key:"mounts"`
}

type LogConfig struct {
	Level  string   `key:"level"`
	Topics []string `key:"topics"`
}

// MountConfig describes a mount created at startup. The
// meaning of Source depends on the backend.
type MountConfig struct {
	Path    string `key:"path"`
	Backend string `key:"backend"`
	Source  string `key:"source"`
	Mkfs    bool   `key:"mkfs"`
}

type ConfigFormat string

var (
	JSONConfigFormat ConfigFormat = ".json"
	YAMLConfigFormat ConfigFormat = ".yaml"
	YMLConfigFormat  ConfigFormat = ".yml"

	parserMap = map[ConfigFormat]func() koanf.Parser{
		JSONConfigFormat: func() koanf.Parser { return json.Parser() },
		YAMLConfigFormat: func() koanf.Parser { return yaml.Parser() },
		YMLConfigFormat:  func() koanf.Parser { return yaml.Parser() },
	}
)

// Manager layers configuration sources on top of the
// embedded defaults, later sources overriding earlier ones.
type Manager struct {
	kf  *koanf.Koanf
	tag string
}

// NewManager loads the defaults, the file at path if it is
// not empty, and finally the JSON document in EnvJSON.
func NewManager(path string) (*Manager, error) {
	cm := &Manager{
		kf:  koanf.New("."),
		tag: "key",
	}
	if err := cm.Load(YAMLConfigFormat, rawbytes.Provider(defaultConfig)); err != nil {
		return nil, errors.Wrap(err, "load default config")
	}
	if path != "" {
		if err := cm.Load(ConfigFormat(filepath.Ext(path)), file.Provider(path)); err != nil {
			return nil, errors.Wrapf(err, "load config %q", path)
		}
	}
	if configJSON := os.Getenv(EnvJSON); configJSON != "" {
		if err := cm.Load(JSONConfigFormat, rawbytes.Provider([]byte(configJSON))); err != nil {
			return nil, errors.Wrapf(err, "load config from %s", EnvJSON)
		}
	}
	return cm, nil
}

// Load merges configuration data in the given format.
func (cm *Manager) Load(format ConfigFormat, provider koanf.Provider) error {
	parserFunc, ok := parserMap[format]
	if !ok {
		return errors.Errorf("parser not found for format %q", format)
	}
	return cm.kf.Load(provider, parserFunc())
}

// Print returns a string representation of the current
// configuration state.
func (cm *Manager) Print() string {
	return cm.kf.Sprint()
}

// Config unmarshals and validates the configuration.
func (cm *Manager) Config() (Config, error) {
	var c Config
	err := cm.kf.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: cm.tag})
	if err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.LockTimeout < 0 {
		return errors.Errorf("negative lockTimeout %s", c.LockTimeout)
	}
	for i, m := range c.Mounts {
		if m.Path == "" {
			return errors.Errorf("mounts[%d]: missing path", i)
		}
		if m.Backend == "" {
			return errors.Errorf("mounts[%d]: missing backend", i)
		}
	}
	return nil
}

// Load is the shorthand for NewManager followed by Config.
func Load(path string) (Config, error) {
	cm, err := NewManager(path)
	if err != nil {
		return Config{}, err
	}
	return cm.Config()
}
