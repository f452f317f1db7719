// Package config loads and validates the optional .talkcheck YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deixis/talkcheck/internal/proc"
)

// FileName is the configuration file looked up from the working directory.
const FileName = ".talkcheck"

// Default values.
const (
	DefaultReceiver       = "./server"
	DefaultSender         = "./client"
	DefaultBuildTimeout   = 2 * time.Minute
	DefaultObserveTimeout = 2 * time.Second
	DefaultLatencyBudget  = time.Second
	DefaultMaxOutput      = proc.DefaultMaxOutput
)

// DefaultBuild is the build command run when a binary is missing.
var DefaultBuild = []string{"make"}

// Config holds the parsed .talkcheck configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version  int      `yaml:"version"`
	Receiver string   `yaml:"receiver"`  // path to the receiver binary
	Sender   string   `yaml:"sender"`    // path to the sender binary
	Build    []string `yaml:"build"`     // argv run when a binary is missing
	BuildDir string   `yaml:"build_dir"` // where build runs, relative to the root

	RawBuildTimeout   string `yaml:"build_timeout"`   // e.g. "2m"
	RawStartupTimeout string `yaml:"startup_timeout"` // e.g. "2s"
	RawObserveTimeout string `yaml:"observe_timeout"`
	RawAckTimeout     string `yaml:"ack_timeout"`
	RawStopTimeout    string `yaml:"stop_timeout"`
	RawLatencyBudget  string `yaml:"latency_budget"`
	RawMaxOutput      int    `yaml:"max_output"` // bytes

	// ProcessGroup starts the receiver as a group leader so termination
	// also reaches its children. Nil means true.
	ProcessGroup *bool `yaml:"process_group"`
	// StripANSI matches receiver output with escape sequences removed.
	// Nil means true.
	StripANSI *bool `yaml:"strip_ansi"`

	Ack   AckConfig `yaml:"ack"`
	Cases []string  `yaml:"cases"` // case ids to run; default all
}

// AckConfig selects how sender output counts as an acknowledgement.
type AckConfig struct {
	Policy string `yaml:"policy"` // "marker" (default) or "any-output"
	Marker string `yaml:"marker"` // default "[ACK]"
}

// ReceiverPath returns the configured receiver or the default.
func (c *Config) ReceiverPath() string {
	if c.Receiver != "" {
		return c.Receiver
	}
	return DefaultReceiver
}

// SenderPath returns the configured sender or the default.
func (c *Config) SenderPath() string {
	if c.Sender != "" {
		return c.Sender
	}
	return DefaultSender
}

// BuildCommand returns the configured build argv or the default.
func (c *Config) BuildCommand() []string {
	if len(c.Build) > 0 {
		return c.Build
	}
	return DefaultBuild
}

// BuildWorkDir returns the directory, relative to the root, the build
// command runs in. Empty means the root.
func (c *Config) BuildWorkDir() string {
	return filepath.Clean(c.BuildDir)
}

// BuildTimeout returns the configured build timeout or the default.
func (c *Config) BuildTimeout() time.Duration {
	return duration(c.RawBuildTimeout, DefaultBuildTimeout)
}

// StartupTimeout returns how long to wait for the receiver's identity.
func (c *Config) StartupTimeout() time.Duration {
	return duration(c.RawStartupTimeout, proc.DefaultStartupTimeout)
}

// ObserveTimeout returns how long to wait for a payload to be echoed.
func (c *Config) ObserveTimeout() time.Duration {
	return duration(c.RawObserveTimeout, DefaultObserveTimeout)
}

// AckTimeout returns how long a sender may take to acknowledge.
func (c *Config) AckTimeout() time.Duration {
	return duration(c.RawAckTimeout, proc.DefaultAckTimeout)
}

// StopTimeout returns the grace period between SIGINT and SIGKILL.
func (c *Config) StopTimeout() time.Duration {
	return duration(c.RawStopTimeout, proc.DefaultStopTimeout)
}

// LatencyBudget returns the round-trip bound of the performance case.
func (c *Config) LatencyBudget() time.Duration {
	return duration(c.RawLatencyBudget, DefaultLatencyBudget)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// UseProcessGroup reports whether receivers lead their own process group.
func (c *Config) UseProcessGroup() bool {
	return c.ProcessGroup == nil || *c.ProcessGroup
}

// UseStripANSI reports whether escape sequences are ignored when matching.
func (c *Config) UseStripANSI() bool {
	return c.StripANSI == nil || *c.StripANSI
}

// AckPolicy returns the acknowledgement policy.
func (c *Config) AckPolicy() (proc.AckPolicy, error) {
	mode, err := proc.ParseAckMode(c.Ack.Policy)
	if err != nil {
		return proc.AckPolicy{}, err
	}
	return proc.AckPolicy{Mode: mode, Marker: c.Ack.Marker}, nil
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	if _, err := c.AckPolicy(); err != nil {
		return err
	}
	if c.BuildDir != "" && !filepath.IsLocal(c.BuildDir) {
		return fmt.Errorf("build_dir: %q must be a relative path inside the project", c.BuildDir)
	}
	for key, raw := range map[string]string{
		"build_timeout":   c.RawBuildTimeout,
		"startup_timeout": c.RawStartupTimeout,
		"observe_timeout": c.RawObserveTimeout,
		"ack_timeout":     c.RawAckTimeout,
		"stop_timeout":    c.RawStopTimeout,
		"latency_budget":  c.RawLatencyBudget,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", key, raw)
		}
	}
	return nil
}

// Overrides are settings given on the command line. They win over the
// file and survive reloading it.
type Overrides struct {
	Receiver  string
	Sender    string
	AckPolicy string
}

// Apply copies every non-empty override into c.
func (o Overrides) Apply(c *Config) {
	if o.Receiver != "" {
		c.Receiver = o.Receiver
	}
	if o.Sender != "" {
		c.Sender = o.Sender
	}
	if o.AckPolicy != "" {
		c.Ack.Policy = o.AckPolicy
	}
}

func duration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// LoadResult holds the parsed config and the directory it applies to.
type LoadResult struct {
	Config *Config
	Root   string // directory programs run from: holds .talkcheck, or the workspace
	Path   string // file that was read; empty when defaults are used
}

// Load finds .talkcheck by walking upward from workspace. The directory
// it is found in becomes Root, which relative receiver, sender and build
// paths are taken from. If no file exists, a default Config rooted at
// workspace is returned.
func Load(workspace string) (*LoadResult, error) {
	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	root, err := findRoot(workspace)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: workspace}, nil
	}
	return LoadFile(filepath.Join(root, FileName))
}

// LoadFile reads a configuration file at an explicit path.
func LoadFile(path string) (*LoadResult, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Root: filepath.Dir(path), Path: path}, nil
}

// findRoot walks upward from dir looking for a directory containing .talkcheck.
func findRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
