package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"hubctl/internal/model"
)

const (
	DefaultListen          = ":55555"
	DefaultContainerPrefix = "hub-"
	DefaultProfilesDir     = "/profiles"
	DefaultStateDir        = "/app/data"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"

	DefaultGatewayService   = "gluetun"
	DefaultGatewayInterface = "wg0"
	DefaultControlURL       = "http://127.0.0.1:8000"
	DefaultHealthAttempts   = 30
	DefaultHealthInterval   = time.Second

	DefaultInboundService   = "wg-easy"
	DefaultInboundInterface = "wg0"

	DefaultPollInterval   = 10 * time.Second
	DefaultProbeWorkers   = 8
	DefaultEngineTimeout  = 5 * time.Second
	DefaultProbeTimeout   = 2 * time.Second
	DefaultControlTimeout = 3 * time.Second
	DefaultStatusTimeout  = 8 * time.Second

	// Lifecycle calls (stop, start, recreate) wait on container shutdown.
	DefaultLifecycleTimeout = 90 * time.Second

	DefaultLockKey = "hubctl:activation"
	DefaultLockTTL = 10 * time.Minute

	DefaultBreakerFailures    = 3
	DefaultBreakerOpenTimeout = 15 * time.Second

	ControlModeExec = "exec"
	ControlModeHTTP = "http"

	BackendFile  = "file"
	BackendRedis = "redis"
	BackendLocal = "local"
)

// EnvAPIKey overrides api_key so the secret can stay out of the YAML file.
const EnvAPIKey = "HUBCTL_API_KEY"

var serviceNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Config holds every setting of the hub control process.
type Config struct {
	Listen          string   `yaml:"listen"`
	APIKey          string   `yaml:"api_key,omitempty"`
	ContainerPrefix string   `yaml:"container_prefix"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ProfilesDir     string   `yaml:"profiles_dir"`
	StateDir        string   `yaml:"state_dir"`
	PollInterval    Duration `yaml:"poll_interval"`
	ProbeWorkers    int      `yaml:"probe_workers"`
	UsageLog        string   `yaml:"usage_log,omitempty"`

	Gateway    GatewayConfig   `yaml:"gateway"`
	Inbound    InboundConfig   `yaml:"inbound"`
	Dependents []string        `yaml:"dependents"`
	Services   []ServiceConfig `yaml:"services"`
	Timeouts   TimeoutConfig   `yaml:"timeouts"`
	Counters   CounterConfig   `yaml:"counters"`
	Lock       LockConfig      `yaml:"lock"`
	Breaker    BreakerConfig   `yaml:"breaker"`
}

// GatewayConfig describes the outbound tunnel gateway container.
type GatewayConfig struct {
	Service        string   `yaml:"service"`
	Interface      string   `yaml:"interface"`
	ComposeFile    string   `yaml:"compose_file,omitempty"`
	ComposeProject string   `yaml:"compose_project,omitempty"`
	Address        string   `yaml:"address,omitempty"`
	ControlURL     string   `yaml:"control_url"`
	ControlMode    string   `yaml:"control_mode"`
	HealthAttempts int      `yaml:"health_attempts"`
	HealthInterval Duration `yaml:"health_interval"`
}

// InboundConfig describes the remote-access gateway container.
type InboundConfig struct {
	Service     string   `yaml:"service"`
	Interface   string   `yaml:"interface"`
	Host        string   `yaml:"host,omitempty"`
	STUNServers []string `yaml:"stun_servers,omitempty"`
}

// ServiceConfig registers one dependent service for health classification.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
	Host      string `yaml:"host,omitempty"`
	VPNRouted bool   `yaml:"vpn_routed,omitempty"`
}

type TimeoutConfig struct {
	Engine    Duration `yaml:"engine"`
	Lifecycle Duration `yaml:"lifecycle"`
	Probe     Duration `yaml:"probe"`
	Control   Duration `yaml:"control"`
	Status    Duration `yaml:"status"`
}

type CounterConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
	// LegacyFiles maps a counter key to an old {"rx","tx"} usage file that is
	// imported once when the key has no state yet.
	LegacyFiles map[string]string `yaml:"legacy_files,omitempty"`
}

type LockConfig struct {
	Backend   string   `yaml:"backend"`
	RedisAddr string   `yaml:"redis_addr,omitempty"`
	Key       string   `yaml:"key,omitempty"`
	TTL       Duration `yaml:"ttl,omitempty"`
}

type BreakerConfig struct {
	MaxFailures int      `yaml:"max_failures"`
	OpenTimeout Duration `yaml:"open_timeout"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.APIKey = key
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.ProfilesDir == "" {
		return fmt.Errorf("profiles_dir is required")
	}
	if cfg.Gateway.Service == "" {
		return fmt.Errorf("gateway.service is required")
	}
	switch cfg.Gateway.ControlMode {
	case ControlModeExec, ControlModeHTTP:
	default:
		return fmt.Errorf("gateway.control_mode must be %q or %q", ControlModeExec, ControlModeHTTP)
	}
	if cfg.Gateway.HealthAttempts <= 0 {
		return fmt.Errorf("gateway.health_attempts must be positive")
	}
	for _, name := range cfg.Dependents {
		if !serviceNameRE.MatchString(name) {
			return fmt.Errorf("invalid dependent name %q", name)
		}
	}
	seen := map[string]bool{}
	for _, svc := range cfg.Services {
		if !serviceNameRE.MatchString(svc.Name) {
			return fmt.Errorf("invalid service name %q", svc.Name)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service %q", svc.Name)
		}
		seen[svc.Name] = true
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("service %s: port %d out of range", svc.Name, svc.Port)
		}
	}
	switch cfg.Counters.Backend {
	case BackendFile:
	case BackendRedis:
		if cfg.Counters.RedisAddr == "" {
			return fmt.Errorf("counters.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown counters.backend %q", cfg.Counters.Backend)
	}
	switch cfg.Lock.Backend {
	case BackendLocal:
	case BackendRedis:
		if cfg.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
		if bound := ActivationBound(cfg); cfg.Lock.TTL.Std() < bound {
			return fmt.Errorf("lock.ttl %s is shorter than the worst-case activation %s", cfg.Lock.TTL.Std(), bound)
		}
	default:
		return fmt.Errorf("unknown lock.backend %q", cfg.Lock.Backend)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.ContainerPrefix == "" {
		cfg.ContainerPrefix = DefaultContainerPrefix
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = DefaultProfilesDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.ProbeWorkers <= 0 {
		cfg.ProbeWorkers = DefaultProbeWorkers
	}

	if cfg.Gateway.Service == "" {
		cfg.Gateway.Service = DefaultGatewayService
	}
	if cfg.Gateway.Interface == "" {
		cfg.Gateway.Interface = DefaultGatewayInterface
	}
	if cfg.Gateway.ControlURL == "" {
		cfg.Gateway.ControlURL = DefaultControlURL
	}
	if cfg.Gateway.ControlMode == "" {
		cfg.Gateway.ControlMode = ControlModeExec
	}
	if cfg.Gateway.HealthAttempts == 0 {
		cfg.Gateway.HealthAttempts = DefaultHealthAttempts
	}
	if cfg.Gateway.HealthInterval == 0 {
		cfg.Gateway.HealthInterval = Duration(DefaultHealthInterval)
	}

	if cfg.Inbound.Service == "" {
		cfg.Inbound.Service = DefaultInboundService
	}
	if cfg.Inbound.Interface == "" {
		cfg.Inbound.Interface = DefaultInboundInterface
	}

	if cfg.Timeouts.Engine == 0 {
		cfg.Timeouts.Engine = Duration(DefaultEngineTimeout)
	}
	if cfg.Timeouts.Lifecycle == 0 {
		cfg.Timeouts.Lifecycle = Duration(DefaultLifecycleTimeout)
	}
	if cfg.Timeouts.Probe == 0 {
		cfg.Timeouts.Probe = Duration(DefaultProbeTimeout)
	}
	if cfg.Timeouts.Control == 0 {
		cfg.Timeouts.Control = Duration(DefaultControlTimeout)
	}
	if cfg.Timeouts.Status == 0 {
		cfg.Timeouts.Status = Duration(DefaultStatusTimeout)
	}

	if cfg.Counters.Backend == "" {
		cfg.Counters.Backend = BackendFile
	}
	if cfg.Counters.Backend == BackendFile && cfg.Counters.Path == "" {
		cfg.Counters.Path = filepath.Join(cfg.StateDir, "counters.yaml")
	}
	if cfg.Counters.RedisPrefix == "" {
		cfg.Counters.RedisPrefix = "hubctl:counter:"
	}

	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = BackendLocal
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = DefaultLockKey
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = Duration(DefaultLockTTL)
	}

	if cfg.Breaker.MaxFailures <= 0 {
		cfg.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = Duration(DefaultBreakerOpenTimeout)
	}
}

// ActivationBound is the longest an activation can hold the lock: stop,
// recreate and start at the lifecycle timeout plus every health attempt.
func ActivationBound(cfg Config) time.Duration {
	attempt := cfg.Timeouts.Engine.Std() + cfg.Gateway.HealthInterval.Std()
	return 3*cfg.Timeouts.Lifecycle.Std() + time.Duration(cfg.Gateway.HealthAttempts)*attempt
}

// ContainerName returns the engine-level name of a compose service.
func (c Config) ContainerName(service string) string {
	return c.ContainerPrefix + service
}

// GatewayAddress is the host used to reach services routed through the gateway.
func (c Config) GatewayAddress() string {
	if c.Gateway.Address != "" {
		return c.Gateway.Address
	}
	return c.ContainerName(c.Gateway.Service)
}

// DependentContainers returns the container names stopped around an activation.
func (c Config) DependentContainers() []string {
	out := make([]string, 0, len(c.Dependents))
	for _, name := range c.Dependents {
		out = append(out, c.ContainerName(name))
	}
	return out
}

// ServiceList converts the service registry into model services.
func (c Config) ServiceList() []model.Service {
	out := make([]model.Service, 0, len(c.Services))
	for _, svc := range c.Services {
		out = append(out, model.Service{
			Name:      svc.Name,
			Container: c.ContainerName(svc.Name),
			Port:      svc.Port,
			Host:      svc.Host,
			VPNRouted: svc.VPNRouted,
		})
	}
	return out
}
