// Package config handles configuration loading and validation for the
// controller, origin and replica nodes.
//
// Each role reads an optional YAML file, applies defaults, then applies
// VIDCDN_* environment overrides. Topology is static for the process lifetime.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/vidcdn/internal/cluster"
)

// Environment overrides.
const (
	EnvListen    = "VIDCDN_LISTEN"
	EnvOrigin    = "VIDCDN_ORIGIN"
	EnvReplicas  = "VIDCDN_REPLICAS"
	EnvDataDir   = "VIDCDN_DATA_DIR"
	EnvNodeID    = "VIDCDN_NODE_ID"
	EnvStorage   = "VIDCDN_STORAGE"
	EnvLogLevel  = "VIDCDN_LOG_LEVEL"
	EnvLogFormat = "VIDCDN_LOG_FORMAT"
)

// Replica storage backends. A memory replica starts empty and loses its
// objects on restart.
const (
	StorageDisk   = "disk"
	StorageMemory = "memory"
)

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // console or json (default: console)
}

// TLSConfig is the single trust policy of a process. When CertFile and
// KeyFile are set the node serves HTTPS; the same settings govern every
// outgoing peer call.
type TLSConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // Accept self-signed peer certificates
}

// Enabled reports whether the node should serve HTTPS.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// ClientTLS returns the TLS settings for peer calls.
func (t TLSConfig) ClientTLS() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed deployments
	}
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ControllerConfig configures the routing controller.
type ControllerConfig struct {
	Listen         string    `yaml:"listen"`
	Origin         string    `yaml:"origin"`
	Replicas       []string  `yaml:"replicas"` // "url" or "id=url"
	PeerTimeout    Duration  `yaml:"peer_timeout"`
	HealthInterval Duration  `yaml:"health_interval"` // 0 disables replica health monitoring
	TLS            TLSConfig `yaml:"tls"`
	Log            LogConfig `yaml:"log"`
}

// OriginConfig configures the origin node.
type OriginConfig struct {
	Listen           string    `yaml:"listen"`
	DataDir          string    `yaml:"data_dir"`
	Replicas         []string  `yaml:"replicas"`
	Extensions       []string  `yaml:"extensions"` // Listed object extensions (default: .mp4)
	PeerTimeout      Duration  `yaml:"peer_timeout"`
	BroadcastTimeout Duration  `yaml:"broadcast_timeout"`
	TLS              TLSConfig `yaml:"tls"`
	Log              LogConfig `yaml:"log"`
}

// ReplicaConfig configures a replica node.
type ReplicaConfig struct {
	NodeID             string    `yaml:"node_id"`
	Listen             string    `yaml:"listen"`
	DataDir            string    `yaml:"data_dir"`
	Storage            string    `yaml:"storage"`              // "disk" (default) or "memory"
	ReplicateRateLimit float64   `yaml:"replicate_rate_limit"` // Pushes per second, 0 = unlimited
	ReplicateBurst     int       `yaml:"replicate_burst"`
	TLS                TLSConfig `yaml:"tls"`
	Log                LogConfig `yaml:"log"`
}

// readYAML decodes path into cfg. An empty path leaves cfg untouched.
func readYAML(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyLogEnv(l *LogConfig) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		l.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		l.Format = v
	}
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "console"
	}
}

func replicasFromEnv(current []string) []string {
	v := os.Getenv(EnvReplicas)
	if v == "" {
		return current
	}
	return strings.Split(v, ",")
}

func expandHome(dir string) string {
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[2:])
		}
	}
	return dir
}

// LoadControllerConfig loads controller configuration from an optional
// YAML file and the environment.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	cfg := &ControllerConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(EnvOrigin); v != "" {
		cfg.Origin = v
	}
	cfg.Replicas = replicasFromEnv(cfg.Replicas)
	applyLogEnv(&cfg.Log)

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = ":8084"
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = Duration(cluster.DefaultTimeout)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the controller configuration.
func (c *ControllerConfig) Validate() error {
	if c.Origin == "" {
		return errors.New("origin address is required")
	}
	if _, err := NormalizeAddr(c.Origin); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if _, err := ParseReplicas(c.Replicas); err != nil {
		return err
	}
	if c.PeerTimeout < 0 || c.HealthInterval < 0 {
		return errors.New("durations cannot be negative")
	}
	return nil
}

// OriginNode returns the origin as a peer.
func (c *ControllerConfig) OriginNode() cluster.NodeInfo {
	addr, _ := NormalizeAddr(c.Origin)
	return cluster.NodeInfo{ID: "origin", Addr: addr}
}

// ReplicaSet returns the parsed replica list.
func (c *ControllerConfig) ReplicaSet() cluster.ReplicaSet {
	rs, _ := ParseReplicas(c.Replicas)
	return rs
}

// LoadOriginConfig loads origin configuration from an optional YAML file
// and the environment.
func LoadOriginConfig(path string) (*OriginConfig, error) {
	cfg := &OriginConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	cfg.Replicas = replicasFromEnv(cfg.Replicas)
	applyLogEnv(&cfg.Log)

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "videos"
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".mp4"}
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = Duration(cluster.DefaultTimeout)
	}
	if cfg.BroadcastTimeout == 0 {
		cfg.BroadcastTimeout = Duration(2 * time.Minute)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the origin configuration.
func (c *OriginConfig) Validate() error {
	if _, err := ParseReplicas(c.Replicas); err != nil {
		return err
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if c.PeerTimeout < 0 || c.BroadcastTimeout < 0 {
		return errors.New("durations cannot be negative")
	}
	return nil
}

// ReplicaSet returns the parsed replica list.
func (c *OriginConfig) ReplicaSet() cluster.ReplicaSet {
	rs, _ := ParseReplicas(c.Replicas)
	return rs
}

// LoadReplicaConfig loads replica configuration from an optional YAML file
// and the environment.
func LoadReplicaConfig(path string) (*ReplicaConfig, error) {
	cfg := &ReplicaConfig{}
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv(EnvStorage); v != "" {
		cfg.Storage = v
	}
	applyLogEnv(&cfg.Log)

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = ":8081"
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "replica" + strings.ReplaceAll(cfg.Listen, ":", "-")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "replicated_videos"
	}
	if cfg.Storage == "" {
		cfg.Storage = StorageDisk
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if cfg.ReplicateRateLimit > 0 && cfg.ReplicateBurst <= 0 {
		cfg.ReplicateBurst = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the replica configuration.
func (c *ReplicaConfig) Validate() error {
	if c.Storage != StorageDisk && c.Storage != StorageMemory {
		return fmt.Errorf("storage must be %q or %q, got %q", StorageDisk, StorageMemory, c.Storage)
	}
	if c.ReplicateRateLimit < 0 {
		return errors.New("replicate_rate_limit cannot be negative")
	}
	return nil
}

// NormalizeAddr returns addr as a base URL, adding http:// when no scheme
// is given.
func NormalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("address cannot be empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid address %q: scheme must be http or https", addr)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid address %q: missing host", addr)
	}
	return strings.TrimRight(addr, "/"), nil
}

// ParseReplicas parses replica entries in the format "url" or "id=url".
// Entries without an ID are named by position ("replica-1", "replica-2", ...).
// Order is preserved; blank entries are skipped.
func ParseReplicas(entries []string) (cluster.ReplicaSet, error) {
	rs := make(cluster.ReplicaSet, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		// An "=" after the scheme belongs to the URL, not an id prefix.
		id, addr := "", entry
		if before, after, ok := strings.Cut(entry, "="); ok && !strings.Contains(before, "://") {
			id, addr = strings.TrimSpace(before), strings.TrimSpace(after)
			if id == "" {
				return nil, fmt.Errorf("invalid replica format: %s (expected id=addr)", entry)
			}
		}
		if id == "" {
			id = fmt.Sprintf("replica-%d", len(rs)+1)
		}

		normalized, err := NormalizeAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", id, err)
		}
		if rs.IndexOf(id) >= 0 {
			return nil, fmt.Errorf("duplicate replica id: %s", id)
		}

		rs = append(rs, cluster.NodeInfo{ID: id, Addr: normalized})
	}
	return rs, nil
}
