package repo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashgraft/hashgraft/internal/catalog"
)

// Config is the repository's persisted configuration, the typed
// generalization of the teacher's ad hoc `.git/config` INI parsing
// (Remotes()) into a single JSON document.
type Config struct {
	User    UserConfig        `json:"user"`
	Remotes map[string]Remote `json:"remotes,omitempty"`
	Core    CoreConfig        `json:"core"`
}

// UserConfig is the default author/committer identity for this repository.
type UserConfig struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Remote is one named remote repository reference.
type Remote struct {
	URL string `json:"url"`
}

// CoreConfig holds engine-level knobs analogous to Git's [core] section.
type CoreConfig struct {
	CtrlDirName   string `json:"ctrlDirName,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

// DefaultConfig is what Init writes for a new repository.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			CtrlDirName:   DefaultCtrlDirName,
			DefaultBranch: "main",
		},
	}
}

const configKey = "config.json"

// LoadConfig reads the repository's configuration, returning DefaultConfig
// if none has been saved yet.
func LoadConfig(cat *catalog.Catalog) (*Config, error) {
	data, ok, err := cat.Get(catalog.PartitionRemotes, configKey)
	if err != nil {
		return nil, fmt.Errorf("repo: reading config: %w", err)
	}
	if !ok {
		return DefaultConfig(), nil
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("repo: decoding config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig persists cfg.
func SaveConfig(cat *catalog.Catalog, cfg *Config) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("repo: encoding config: %w", err)
	}
	if err := cat.Set(catalog.PartitionRemotes, configKey, buf.Bytes()); err != nil {
		return fmt.Errorf("repo: saving config: %w", err)
	}
	return nil
}

// Config returns the repository's currently loaded configuration.
func (r *Repository) Config() *Config { return r.config }

// SetRemote adds or replaces a named remote.
func (r *Repository) SetRemote(name, url string) error {
	if r.config.Remotes == nil {
		r.config.Remotes = make(map[string]Remote)
	}
	r.config.Remotes[name] = Remote{URL: url}
	return SaveConfig(r.cat, r.config)
}

// RemoveRemote deletes a named remote, if present.
func (r *Repository) RemoveRemote(name string) error {
	delete(r.config.Remotes, name)
	return SaveConfig(r.cat, r.config)
}
