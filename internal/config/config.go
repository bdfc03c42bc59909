// Package config loads the application and model configuration files.
//
// Two YAML files are read:
//   - the app file: logging, storage, memory and telemetry settings
//   - the models file: backend model definitions and role instructions
//
// Everything is validated up front. Any problem is a *Error and is fatal at
// startup; nothing in this package is consulted lazily once a session runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider is the closed set of backend implementations.
type Provider string

const (
	ProviderOpenAICompatible Provider = "openai_compatible"
	ProviderAnthropic        Provider = "anthropic"
)

// Providers lists every supported provider tag.
func Providers() []Provider {
	return []Provider{ProviderOpenAICompatible, ProviderAnthropic}
}

// Valid reports whether p is a supported provider tag.
func (p Provider) Valid() bool {
	for _, known := range Providers() {
		if p == known {
			return true
		}
	}
	return false
}

const (
	DefaultAppConfigPath    = "configs/app_config.yaml"
	DefaultModelsConfigPath = "configs/models_config.yaml"

	DefaultMaxContextTokens = 3000
	DefaultCharsPerToken    = 3
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 4096

	StorageJSON   = "json"
	StorageSQLite = "sqlite"

	envPrefix = "ENV:"
)

// App is the application config file.
type App struct {
	Logging   Logging   `yaml:"logging" json:"logging"`
	Storage   Storage   `yaml:"storage" json:"storage"`
	Memory    Memory    `yaml:"memory" json:"memory"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry"`
}

// Logging configures the file and console log sinks.
type Logging struct {
	// Dir holds the rotating log file. Default: logs
	Dir string `yaml:"dir" json:"dir,omitempty"`
	// Filename inside Dir. Default: app.log
	Filename string `yaml:"filename" json:"filename,omitempty"`
	// Level for the file sink. Default: info
	Level string `yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// ConsoleLevel for stderr. Default: warn, so chat output stays clean.
	ConsoleLevel string `yaml:"console_level" json:"console_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Storage selects where transcripts go.
type Storage struct {
	// Backend is json (one file per save) or sqlite. Default: json
	Backend    string `yaml:"backend" json:"backend,omitempty" jsonschema:"enum=json,enum=sqlite"`
	HistoryDir string `yaml:"history_dir" json:"history_dir,omitempty"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path,omitempty"`
}

// Memory configures the conversation window.
type Memory struct {
	MaxContextTokens int    `yaml:"max_context_tokens" json:"max_context_tokens,omitempty" jsonschema:"minimum=1"`
	// Tokenizer is a BPE encoding name, or "approx" for the heuristic.
	Tokenizer        string `yaml:"tokenizer" json:"tokenizer,omitempty"`
	CharsPerToken    int    `yaml:"chars_per_token" json:"chars_per_token,omitempty" jsonschema:"minimum=1"`
}

// Telemetry enables JSONL event output when EventsFile is set.
type Telemetry struct {
	EventsFile string `yaml:"events_file" json:"events_file,omitempty"`
}

// Models is the models config file.
type Models struct {
	Models       map[string]Model `yaml:"models" json:"models"`
	Instructions map[string]Role  `yaml:"instructions" json:"instructions"`
}

// Model describes one selectable backend model.
type Model struct {
	Provider    Provider   `yaml:"provider" json:"provider" jsonschema:"enum=openai_compatible,enum=anthropic"`
	DisplayName string     `yaml:"display_name" json:"display_name"`
	ModelName   string     `yaml:"model_name" json:"model_name"`
	APIBase     string     `yaml:"api_base" json:"api_base,omitempty"`
	// APIKey is a literal key or ENV:NAME to read it from the environment.
	APIKey      string     `yaml:"api_key" json:"api_key,omitempty"`
	Parameters  Parameters `yaml:"parameters" json:"parameters,omitempty"`
}

// Parameters tune generation for one model.
type Parameters struct {
	Temperature float64       `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens,omitempty"`
	// Timeout bounds one streamed request, e.g. "120s". Zero leaves the SDK default.
	Timeout     time.Duration `yaml:"timeout" json:"timeout,omitempty" jsonschema:"type=string"`
}

// Role is a named system preamble.
type Role struct {
	DisplayName string `yaml:"display_name" json:"display_name"`
	Template    string `yaml:"template" json:"template"`
}

// Config is the validated union of both files.
type Config struct {
	App    App
	Models Models
}

// Load reads, defaults and validates both config files.
func Load(appPath, modelsPath string) (*Config, error) {
	var cfg Config
	if err := decodeFile(appPath, &cfg.App); err != nil {
		return nil, err
	}
	if err := decodeFile(modelsPath, &cfg.Models); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse is Load over readers; used by tests and embedded configs.
func Parse(app, models io.Reader) (*Config, error) {
	var cfg Config
	if err := decode(app, "app config", &cfg.App); err != nil {
		return nil, err
	}
	if err := decode(models, "models config", &cfg.Models); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	return decode(bytes.NewReader(b), path, out)
}

func decode(r io.Reader, name string, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Path: name, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}
	return nil
}

func (c *Config) applyDefaults() {
	a := &c.App
	if a.Logging.Dir == "" {
		a.Logging.Dir = "logs"
	}
	if a.Logging.Filename == "" {
		a.Logging.Filename = "app.log"
	}
	if a.Logging.Level == "" {
		a.Logging.Level = "info"
	}
	if a.Logging.ConsoleLevel == "" {
		a.Logging.ConsoleLevel = "warn"
	}
	if a.Storage.Backend == "" {
		a.Storage.Backend = StorageJSON
	}
	if a.Storage.HistoryDir == "" {
		a.Storage.HistoryDir = "data/history"
	}
	if a.Storage.SQLitePath == "" {
		a.Storage.SQLitePath = "data/history.db"
	}
	if a.Memory.MaxContextTokens == 0 {
		a.Memory.MaxContextTokens = DefaultMaxContextTokens
	}
	if a.Memory.CharsPerToken == 0 {
		a.Memory.CharsPerToken = DefaultCharsPerToken
	}

	for id, m := range c.Models.Models {
		if m.Parameters.Temperature == 0 {
			m.Parameters.Temperature = DefaultTemperature
		}
		if m.Parameters.MaxTokens == 0 {
			m.Parameters.MaxTokens = DefaultMaxTokens
		}
		if m.DisplayName == "" {
			m.DisplayName = id
		}
		c.Models.Models[id] = m
	}
	for id, r := range c.Models.Instructions {
		if r.DisplayName == "" {
			r.DisplayName = id
		}
		c.Models.Instructions[id] = r
	}
}

func (c *Config) validate() error {
	if c.App.Memory.MaxContextTokens < 0 {
		return invalid("memory.max_context_tokens", "must be positive, got %d", c.App.Memory.MaxContextTokens)
	}
	if c.App.Memory.CharsPerToken < 0 {
		return invalid("memory.chars_per_token", "must be positive, got %d", c.App.Memory.CharsPerToken)
	}
	switch c.App.Storage.Backend {
	case StorageJSON, StorageSQLite:
	default:
		return invalid("storage.backend", "unsupported backend %q (want json or sqlite)", c.App.Storage.Backend)
	}
	if len(c.Models.Models) == 0 {
		return invalid("models", "no models defined")
	}
	for _, id := range c.ModelIDs() {
		m := c.Models.Models[id]
		field := "models." + id
		if !m.Provider.Valid() {
			return &Error{Field: field + ".provider", Err: fmt.Errorf("%w: %q", ErrUnknownProvider, m.Provider)}
		}
		if strings.TrimSpace(m.ModelName) == "" {
			return invalid(field+".model_name", "is required")
		}
		if m.Provider == ProviderOpenAICompatible && strings.TrimSpace(m.APIBase) == "" {
			return invalid(field+".api_base", "is required for %s", m.Provider)
		}
		if m.Parameters.MaxTokens < 0 || m.Parameters.Timeout < 0 {
			return invalid(field+".parameters", "max_tokens and timeout must not be negative")
		}
		key, err := resolveSecret(m.APIKey)
		if err != nil {
			return &Error{Field: field + ".api_key", Err: err}
		}
		m.APIKey = key
		c.Models.Models[id] = m
	}
	for id, r := range c.Models.Instructions {
		if strings.TrimSpace(r.Template) == "" {
			return invalid("instructions."+id+".template", "is required")
		}
	}
	return nil
}

// resolveSecret expands ENV:NAME references.
func resolveSecret(v string) (string, error) {
	name, ok := strings.CutPrefix(v, envPrefix)
	if !ok {
		return v, nil
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, name)
	}
	return key, nil
}

// ModelIDs returns model ids in sorted order.
func (c *Config) ModelIDs() []string {
	ids := make([]string, 0, len(c.Models.Models))
	for id := range c.Models.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Model looks up a model by id.
func (c *Config) Model(id string) (Model, error) {
	m, ok := c.Models.Models[id]
	if !ok {
		return Model{}, &Error{Field: "models", Err: fmt.Errorf("%w: %q", ErrModelNotFound, id)}
	}
	return m, nil
}

// Roles exposes the instruction templates as a role source.
func (c *Config) Roles() Roles {
	return Roles(c.Models.Instructions)
}

// Roles resolves role ids to preambles.
type Roles map[string]Role

// Resolve returns the role for id or an error wrapping ErrRoleNotFound.
func (r Roles) Resolve(id string) (Role, error) {
	role, ok := r[id]
	if !ok {
		return Role{}, &Error{Field: "instructions", Err: fmt.Errorf("%w: %q", ErrRoleNotFound, id)}
	}
	return role, nil
}

// IDs returns role ids in sorted order.
func (r Roles) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
