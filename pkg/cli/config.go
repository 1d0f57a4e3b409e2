package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cmipcat/internal/domain"
	"cmipcat/internal/store"
)

// configFileEnv points at an alternative profile file.
const configFileEnv = "CMIPCAT_CONFIG"

// UserConfig is the profile file, ~/.cmipcat/config.yaml unless
// CMIPCAT_CONFIG names another path.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is one named set of defaults. Environment variables and flags
// override profile values.
type Profile struct {
	Catalog     string `yaml:"catalog,omitempty"`
	ArchiveRoot string `yaml:"archive-root,omitempty"`
	Backend     string `yaml:"backend,omitempty"`
	Variables   string `yaml:"variables,omitempty"`
	Output      string `yaml:"output,omitempty"`
}

// env maps the profile onto the variables config.LoadFromEnv reads.
func (p Profile) env() map[string]string {
	return map[string]string{
		"CMIPCAT_CATALOG_PATH":   p.Catalog,
		"CMIPCAT_ARCHIVE_ROOT":   p.ArchiveRoot,
		"CMIPCAT_BACKEND":        p.Backend,
		"CMIPCAT_VARIABLES_FILE": p.Variables,
	}
}

func (p Profile) validate() error {
	if p.Backend != "" {
		if _, err := store.ParseBackend(p.Backend); err != nil {
			return err
		}
	}
	if p.Output != "" {
		if err := validateOutputFormat(p.Output); err != nil {
			return err
		}
	}
	return nil
}

// ActiveProfile returns the name and values of the profile in effect. An
// explicit override must name an existing profile; the current profile may
// be absent, in which case no defaults apply.
func (c *UserConfig) ActiveProfile(override string) (string, Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	p, ok := c.Profiles[name]
	if !ok && override != "" {
		return "", Profile{}, domain.ErrValidation("profile %q not found in %s", override, ConfigPath())
	}
	return name, p, nil
}

// ConfigPath returns the profile file location.
func ConfigPath() string {
	if p := os.Getenv(configFileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cmipcat", "config.yaml")
}

// LoadUserConfig reads the profile file. A missing file yields an empty
// config; a malformed one is an error.
func LoadUserConfig() (*UserConfig, error) {
	path := ConfigPath()
	cfg := &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

// SaveUserConfig writes the profile file, creating its directory.
func SaveUserConfig(cfg *UserConfig) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// settingSource names where a resolved setting came from. It must be
// called before profile values are copied into the environment.
func settingSource(flagSet bool, envKey, profileVal string) string {
	switch {
	case flagSet:
		return "flag"
	case envKey != "" && os.Getenv(envKey) != "":
		return "env"
	case profileVal != "":
		return "profile"
	default:
		return "default"
	}
}
