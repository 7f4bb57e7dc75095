package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/castlehub/pkg/health"
	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/manager"
	"github.com/cuemby/castlehub/pkg/terraform"
	"github.com/cuemby/castlehub/pkg/workspace"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable castlehub reads
const EnvPrefix = "castlehub"

// keyDelimiter separates nested keys. Domains are map keys containing dots,
// so viper's default "." cannot be used.
const keyDelimiter = "::"

// Configuration keys
const (
	KeyDataDir                    = "data_dir"
	KeyClustersDir                = "clusters_dir"
	KeyTerraformBinary            = "terraform::binary"
	KeyTerraformInitTimeout       = "terraform::init_timeout"
	KeyTerraformPlanTimeout       = "terraform::plan_timeout"
	KeyTerraformShowTimeout       = "terraform::show_timeout"
	KeyTerraformApplyTimeout      = "terraform::apply_timeout"
	KeyTerraformModuleSource      = "terraform::module_source"
	KeyTerraformModuleVersion     = "terraform::module_version"
	KeyProvisioningMaxDuration    = "provisioning::max_duration"
	KeyProvisioningPollInterval   = "provisioning::poll_interval"
	KeyProvisioningRequestTimeout = "provisioning::request_timeout"
	KeyProvisioningEndpoints      = "provisioning::endpoints"
	KeyDomains                    = "domains"
	KeyDNSProviders               = "dns_providers"
	KeySecretKey                  = "secret_key"
	KeyNATSURL                    = "nats::url"
	KeyNATSSubject                = "nats::subject"
	KeyLogLevel                   = "log::level"
	KeyLogJSON                    = "log::json"
	KeyHealthAddr                 = "server::health_addr"
	KeyReconcilerInterval         = "reconciler::interval"
	KeyReconcilerCullExpired      = "reconciler::cull_expired"
	KeyCloudRegion                = "cloud::region"
)

// DefaultDataDir holds the record store and, by default, the workspaces
const DefaultDataDir = "/var/lib/castlehub"

// flagKeys maps command line flags to the keys they override
var flagKeys = map[string]string{
	"data-dir":         KeyDataDir,
	"clusters-dir":     KeyClustersDir,
	"terraform-binary": KeyTerraformBinary,
	"secret-key":       KeySecretKey,
	"nats-url":         KeyNATSURL,
	"log-level":        KeyLogLevel,
	"log-json":         KeyLogJSON,
	"health-addr":      KeyHealthAddr,
	"cull-expired":     KeyReconcilerCullExpired,
	"region":           KeyCloudRegion,
}

// Config is the complete castlehub configuration
type Config struct {
	DataDir      string                       `mapstructure:"data_dir"`
	ClustersDir  string                       `mapstructure:"clusters_dir"`
	Terraform    TerraformConfig              `mapstructure:"terraform"`
	Provisioning ProvisioningConfig           `mapstructure:"provisioning"`
	Domains      map[string]string            `mapstructure:"domains"`
	DNSProviders map[string]map[string]string `mapstructure:"dns_providers"`
	SecretKey    string                       `mapstructure:"secret_key"`
	NATS         NATSConfig                   `mapstructure:"nats"`
	Log          LogConfig                    `mapstructure:"log"`
	Server       ServerConfig                 `mapstructure:"server"`
	Reconciler   ReconcilerConfig             `mapstructure:"reconciler"`
	Cloud        CloudConfig                  `mapstructure:"cloud"`
}

type TerraformConfig struct {
	Binary        string        `mapstructure:"binary"`
	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	PlanTimeout   time.Duration `mapstructure:"plan_timeout"`
	ShowTimeout   time.Duration `mapstructure:"show_timeout"`
	ApplyTimeout  time.Duration `mapstructure:"apply_timeout"`
	ModuleSource  string        `mapstructure:"module_source"`
	ModuleVersion string        `mapstructure:"module_version"`
}

type ProvisioningConfig struct {
	MaxDuration    time.Duration `mapstructure:"max_duration"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Endpoints      []string      `mapstructure:"endpoints"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	HealthAddr string `mapstructure:"health_addr"`
}

type ReconcilerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CullExpired bool          `mapstructure:"cull_expired"`
}

type CloudConfig struct {
	Region string `mapstructure:"region"`
}

// AddFlags registers the command line overrides on flags
func AddFlags(flags *flag.FlagSet) {
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("data-dir", DefaultDataDir, "directory of the record store")
	flags.String("clusters-dir", "", "directory of the cluster workspaces (default <data-dir>/clusters)")
	flags.String("terraform-binary", "terraform", "terraform executable")
	flags.String("secret-key", "", "passphrase sealing admin passwords")
	flags.String("nats-url", "", "NATS server receiving status events")
	flags.String("log-level", "info", "minimum log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("health-addr", ":9090", "listen address of the health server")
	flags.Bool("cull-expired", false, "destroy clusters past their expiration date")
	flags.String("region", "", "OpenStack region")
}

func setDefaults(v *viper.Viper) {
	module := workspace.DefaultModuleSource()
	timeouts := terraform.DefaultTimeouts()
	poller := health.DefaultPollerConfig()

	v.SetDefault(KeyDataDir, DefaultDataDir)
	v.SetDefault(KeyClustersDir, "")
	v.SetDefault(KeyTerraformBinary, "terraform")
	v.SetDefault(KeyTerraformInitTimeout, timeouts.Init)
	v.SetDefault(KeyTerraformPlanTimeout, timeouts.Plan)
	v.SetDefault(KeyTerraformShowTimeout, timeouts.Show)
	v.SetDefault(KeyTerraformApplyTimeout, timeouts.Apply)
	v.SetDefault(KeyTerraformModuleSource, module.Source)
	v.SetDefault(KeyTerraformModuleVersion, module.Version)
	v.SetDefault(KeyProvisioningMaxDuration, poller.MaxDuration)
	v.SetDefault(KeyProvisioningPollInterval, poller.Interval)
	v.SetDefault(KeyProvisioningRequestTimeout, poller.RequestTimeout)
	v.SetDefault(KeyProvisioningEndpoints, poller.Endpoints)
	v.SetDefault(KeyDomains, map[string]string{})
	v.SetDefault(KeyDNSProviders, map[string]map[string]string{})
	v.SetDefault(KeySecretKey, "")
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyNATSSubject, "castlehub.clusters")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyHealthAddr, ":9090")
	v.SetDefault(KeyReconcilerInterval, 30*time.Second)
	v.SetDefault(KeyReconcilerCullExpired, false)
	v.SetDefault(KeyCloudRegion, "")
}

// Load reads the configuration from, in increasing priority, defaults,
// the YAML file named by the --config flag, CASTLEHUB_* environment
// variables and flags set on the command line. flags may be nil.
func Load(flags *flag.FlagSet) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.ClustersDir == "" {
		cfg.ClustersDir = filepath.Join(cfg.DataDir, "clusters")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values a typo could make meaningless
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	for _, endpoint := range c.Provisioning.Endpoints {
		if strings.Count(endpoint, "%s") != 1 {
			return fmt.Errorf("provisioning endpoint %q must contain %%s exactly once", endpoint)
		}
	}
	for domain, provider := range c.Domains {
		if provider == "" {
			continue
		}
		if _, ok := c.DNSProviders[provider]; !ok {
			return fmt.Errorf("domain %s uses unknown DNS provider %q", domain, provider)
		}
	}
	durations := map[string]time.Duration{
		KeyTerraformInitTimeout:     c.Terraform.InitTimeout,
		KeyTerraformPlanTimeout:     c.Terraform.PlanTimeout,
		KeyTerraformShowTimeout:     c.Terraform.ShowTimeout,
		KeyTerraformApplyTimeout:    c.Terraform.ApplyTimeout,
		KeyProvisioningMaxDuration:  c.Provisioning.MaxDuration,
		KeyProvisioningPollInterval: c.Provisioning.PollInterval,
		KeyReconcilerInterval:       c.Reconciler.Interval,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", strings.ReplaceAll(key, keyDelimiter, "."))
		}
	}
	return nil
}

// StorePath is the bbolt data directory
func (c *Config) StorePath() string {
	return c.DataDir
}

// TerraformTimeouts returns the per-command timeouts
func (c *Config) TerraformTimeouts() terraform.Timeouts {
	return terraform.Timeouts{
		Init:  c.Terraform.InitTimeout,
		Plan:  c.Terraform.PlanTimeout,
		Show:  c.Terraform.ShowTimeout,
		Apply: c.Terraform.ApplyTimeout,
	}
}

// ModuleSource returns the terraform module clusters are built from
func (c *Config) ModuleSource() workspace.ModuleSource {
	module := workspace.DefaultModuleSource()
	module.Source = c.Terraform.ModuleSource
	module.Version = c.Terraform.ModuleVersion
	return module
}

// PollerConfig returns the provisioning poller settings
func (c *Config) PollerConfig() health.PollerConfig {
	return health.PollerConfig{
		Endpoints:      c.Provisioning.Endpoints,
		Interval:       c.Provisioning.PollInterval,
		MaxDuration:    c.Provisioning.MaxDuration,
		RequestTimeout: c.Provisioning.RequestTimeout,
	}
}

// DNS returns the domain offering. Viper folds keys to lower case, so
// provider variable names are upper-cased back.
func (c *Config) DNS() manager.DNSConfig {
	providers := make(map[string]map[string]string, len(c.DNSProviders))
	for name, env := range c.DNSProviders {
		providers[name] = lo.MapKeys(env, func(_ string, key string) string {
			return strings.ToUpper(key)
		})
	}
	return manager.DNSConfig{
		Domains:   c.Domains,
		Providers: providers,
	}
}

// LogConfig returns the logger settings. Logs go to stderr so command
// output on stdout stays parseable.
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
		Output:     os.Stderr,
	}
}
