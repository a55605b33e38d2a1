// Package config loads the bootstrap configuration. Values come from a YAML
// file, SITERESTORE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/security/pathval"
	"github.com/slimrmm/siterestore/internal/serverenv"
)

const (
	// FileName is the config file looked up in the root and working directories.
	FileName       = "siterestore.yaml"
	configFileMode = 0600
	configDirMode  = 0700

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SITERESTORE"

	// MinRejectDelay is the floor for the wrong-password delay.
	MinRejectDelay = time.Second
)

var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

var (
	hashPattern          = regexp.MustCompile(`^[a-z0-9]{7}-[0-9]{8}$`)
	secondaryHashPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,64}$`)
)

// Config holds the bootstrap configuration.
type Config struct {
	RootDir   string          `mapstructure:"root_dir" yaml:"root_dir"`
	Package   PackageConfig   `mapstructure:"package" yaml:"package"`
	Installer InstallerConfig `mapstructure:"installer" yaml:"installer"`
	Extract   ExtractConfig   `mapstructure:"extract" yaml:"extract"`
	Password  PasswordConfig  `mapstructure:"password" yaml:"password"`
	Runtime   RuntimeConfig   `mapstructure:"runtime" yaml:"runtime"`
	Handoff   HandoffConfig   `mapstructure:"handoff" yaml:"handoff"`
	Lock      LockConfig      `mapstructure:"lock" yaml:"lock"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// PackageConfig describes the archive this bootstrap was generated for.
type PackageConfig struct {
	ArchiveName   string `mapstructure:"archive_name" yaml:"archive_name"`
	ArchiveSize   int64  `mapstructure:"archive_size" yaml:"archive_size"`
	Hash          string `mapstructure:"hash" yaml:"hash"`
	SecondaryHash string `mapstructure:"secondary_hash" yaml:"secondary_hash"`
}

type InstallerConfig struct {
	SourceFolder string `mapstructure:"source_folder" yaml:"source_folder"`
	Entry        string `mapstructure:"entry" yaml:"entry"`
	LibFolder    string `mapstructure:"lib_folder" yaml:"lib_folder"`
	NextStageURL string `mapstructure:"next_stage_url" yaml:"next_stage_url"`
}

type ExtractConfig struct {
	Mode           string  `mapstructure:"mode" yaml:"mode"`
	LibraryEnabled bool    `mapstructure:"library_enabled" yaml:"library_enabled"`
	AllowShell     bool    `mapstructure:"allow_shell" yaml:"allow_shell"`
	UnzipPath      string  `mapstructure:"unzip_path" yaml:"unzip_path"`
	DirMode        string  `mapstructure:"dir_mode" yaml:"dir_mode"`
	FileMode       string  `mapstructure:"file_mode" yaml:"file_mode"`
	MinSizeRatio   float64 `mapstructure:"min_size_ratio" yaml:"min_size_ratio"`
	IgnoreErrors   bool    `mapstructure:"ignore_errors" yaml:"ignore_errors"`
}

type PasswordConfig struct {
	RejectDelay  time.Duration `mapstructure:"reject_delay" yaml:"reject_delay"`
	AttemptRate  float64       `mapstructure:"attempt_rate" yaml:"attempt_rate"`
	AttemptBurst int           `mapstructure:"attempt_burst" yaml:"attempt_burst"`
}

type RuntimeConfig struct {
	ExecutionModel string           `mapstructure:"execution_model" yaml:"execution_model"`
	Proxy          string           `mapstructure:"proxy" yaml:"proxy"`
	Limits         serverenv.Limits `mapstructure:"limits" yaml:"limits"`
}

type HandoffConfig struct {
	Store    string        `mapstructure:"store" yaml:"store"`
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url"`
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type LockConfig struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Mode    string `mapstructure:"mode" yaml:"mode"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"`

	// TLS applies to the http mode only.
	TLSCert  string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey   string `mapstructure:"tls_key" yaml:"tls_key"`
	ClientCA string `mapstructure:"client_ca" yaml:"client_ca"`
}

type LogConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	Debug          bool   `mapstructure:"debug" yaml:"debug"`
	BootLogMaxSize int64  `mapstructure:"bootlog_max_size" yaml:"bootlog_max_size"`
}

// Paths holds the paths derived from the configuration.
type Paths struct {
	RootDir      string
	InstallerDir string
	Entry        string
	Manifest     string
	ManualMarker string
	BootLog      string
	LogDir       string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root_dir", ".")

	// Keys without a useful default are still registered so that
	// environment variables reach Unmarshal.
	for _, key := range []string{
		"package.archive_name", "package.hash", "package.secondary_hash",
		"installer.next_stage_url", "extract.unzip_path",
		"runtime.limits.upload_max_filesize", "runtime.limits.post_max_size",
		"handoff.redis_url", "handoff.secret", "lock.redis_url", "log.dir",
		"server.tls_cert", "server.tls_key", "server.client_ca",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("package.archive_size", 0)
	v.SetDefault("extract.ignore_errors", false)
	v.SetDefault("server.metrics", false)
	v.SetDefault("log.debug", false)

	v.SetDefault("installer.source_folder", archive.DefaultSourceFolder)
	v.SetDefault("installer.entry", archive.DefaultInstallerEntry)
	v.SetDefault("installer.lib_folder", archive.DefaultLibFolder)

	v.SetDefault("extract.mode", "auto")
	v.SetDefault("extract.library_enabled", true)
	v.SetDefault("extract.allow_shell", true)
	v.SetDefault("extract.dir_mode", "0755")
	v.SetDefault("extract.file_mode", "0644")
	v.SetDefault("extract.min_size_ratio", archive.MinSizeRatio)

	v.SetDefault("password.reject_delay", "1s")
	v.SetDefault("password.attempt_rate", 0.2)
	v.SetDefault("password.attempt_burst", 5)

	limits := serverenv.DefaultLimits()
	v.SetDefault("runtime.execution_model", "auto")
	v.SetDefault("runtime.proxy", "auto")
	v.SetDefault("runtime.limits.memory_limit", limits.MemoryLimit)
	v.SetDefault("runtime.limits.max_execution_time", limits.MaxExecutionTime)
	v.SetDefault("runtime.limits.max_input_time", limits.MaxInputTime)

	v.SetDefault("handoff.store", "memory")
	v.SetDefault("handoff.token_ttl", "15m")

	v.SetDefault("lock.backend", "file")
	v.SetDefault("lock.ttl", "30m")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.mode", "http")

	v.SetDefault("log.bootlog_max_size", 10*1024*1024)
}

// NewViper returns a viper instance with defaults, env binding and the
// config file search path for rootDir.
func NewViper(cfgFile, rootDir string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	Configure(v, cfgFile, rootDir)
	return v
}

// Configure points v at the config file for rootDir and enables
// SITERESTORE_* environment overrides.
func Configure(v *viper.Viper, cfgFile, rootDir string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if rootDir != "" {
			v.AddConfigPath(rootDir)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile reads the config file into v. A missing file is not an error
// unless it was named explicitly.
func ReadFile(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil, errors.As(err, &notFound):
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if explicit {
			return ErrConfigNotFound
		}
		return nil
	default:
		return fmt.Errorf("reading config: %w", err)
	}
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config holding only defaults, unvalidated.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the configuration and normalizes paths and bounds.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	root := pathval.SanitizeDir(c.RootDir)
	if root == "" {
		return invalid("root_dir is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return invalid("root_dir: %v", err)
	}
	c.RootDir = abs

	if c.Package.Hash == "" {
		return invalid("package.hash is required")
	}
	if !hashPattern.MatchString(c.Package.Hash) {
		return invalid("package.hash %q is malformed", c.Package.Hash)
	}
	if !secondaryHashPattern.MatchString(c.Package.SecondaryHash) {
		return invalid("package.secondary_hash is missing or malformed")
	}
	if c.Package.ArchiveName == "" {
		return invalid("package.archive_name is required")
	}
	if filepath.Base(c.Package.ArchiveName) != c.Package.ArchiveName {
		return invalid("package.archive_name must be a file name")
	}
	if c.Package.ArchiveSize < 0 {
		return invalid("package.archive_size must not be negative")
	}

	if err := pathval.ValidateFolderName(c.Installer.SourceFolder); err != nil {
		return invalid("installer.source_folder: %v", err)
	}
	if c.Installer.Entry == "" || filepath.Base(c.Installer.Entry) != c.Installer.Entry {
		return invalid("installer.entry must be a file name")
	}
	if c.Installer.LibFolder != "" {
		if err := pathval.ValidateFolderName(c.Installer.LibFolder); err != nil {
			return invalid("installer.lib_folder: %v", err)
		}
	}
	if c.Installer.NextStageURL == "" {
		c.Installer.NextStageURL = c.Installer.SourceFolder + "/" + c.Installer.Entry
	}

	switch c.Extract.Mode {
	case "auto", "ziparchive", "shellexec":
	default:
		return invalid("extract.mode %q is not one of auto, ziparchive, shellexec", c.Extract.Mode)
	}
	if _, err := parseMode(c.Extract.DirMode); err != nil {
		return invalid("extract.dir_mode: %v", err)
	}
	if _, err := parseMode(c.Extract.FileMode); err != nil {
		return invalid("extract.file_mode: %v", err)
	}
	if c.Extract.MinSizeRatio <= 0 || c.Extract.MinSizeRatio > 1 {
		return invalid("extract.min_size_ratio must be in (0, 1]")
	}

	if c.Password.RejectDelay < MinRejectDelay {
		c.Password.RejectDelay = MinRejectDelay
	}
	if c.Password.AttemptRate <= 0 || c.Password.AttemptBurst <= 0 {
		return invalid("password.attempt_rate and password.attempt_burst must be positive")
	}

	if _, err := serverenv.ParseModel(c.Runtime.ExecutionModel); err != nil {
		return invalid("runtime.execution_model: %v", err)
	}
	if _, err := serverenv.ParseProxy(c.Runtime.Proxy); err != nil {
		return invalid("runtime.proxy: %v", err)
	}

	switch c.Handoff.Store {
	case "memory":
	case "redis":
		if c.Handoff.RedisURL == "" || c.Handoff.Secret == "" {
			return invalid("handoff.store redis needs handoff.redis_url and handoff.secret")
		}
	default:
		return invalid("handoff.store %q is not one of memory, redis", c.Handoff.Store)
	}

	switch c.Lock.Backend {
	case "file", "none":
	case "redis":
		if c.Lock.RedisURL == "" {
			c.Lock.RedisURL = c.Handoff.RedisURL
		}
		if c.Lock.RedisURL == "" {
			return invalid("lock.backend redis needs lock.redis_url")
		}
	default:
		return invalid("lock.backend %q is not one of file, redis, none", c.Lock.Backend)
	}

	switch c.Server.Mode {
	case "http", "fcgi", "cgi":
	default:
		return invalid("server.mode %q is not one of http, fcgi, cgi", c.Server.Mode)
	}
	// Each CGI request is its own process; the next stage redeems from another.
	if c.Server.Mode == "cgi" && (c.Handoff.Store != "redis" || c.Handoff.Secret == "") {
		return invalid("server.mode cgi needs handoff.store redis and handoff.secret")
	}
	if c.Server.TLSCert != "" || c.Server.TLSKey != "" || c.Server.ClientCA != "" {
		if c.Server.Mode != "http" {
			return invalid("server tls settings need server.mode http")
		}
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return invalid("server.tls_cert and server.tls_key must be set together")
		}
	}

	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.RootDir, "site-installer-logs")
	}
	return nil
}

func parseMode(s string) (fs.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%q is not an octal mode", s)
	}
	if n == 0 || n > 0777 {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return fs.FileMode(n), nil
}

// DirPerm returns the configured directory mode.
func (c *ExtractConfig) DirPerm() fs.FileMode {
	m, _ := parseMode(c.DirMode)
	return m
}

// FilePerm returns the configured file mode.
func (c *ExtractConfig) FilePerm() fs.FileMode {
	m, _ := parseMode(c.FileMode)
	return m
}

// Paths returns the paths derived from c.
func (c *Config) Paths() Paths {
	installer := filepath.Join(c.RootDir, c.Installer.SourceFolder)
	return Paths{
		RootDir:      c.RootDir,
		InstallerDir: installer,
		Entry:        filepath.Join(installer, c.Installer.Entry),
		Manifest:     filepath.Join(installer, archive.ManifestName(c.Package.Hash)),
		ManualMarker: filepath.Join(installer, archive.ManualMarkerName(c.Package.Hash)),
		BootLog:      filepath.Join(c.RootDir, archive.BootLogName(c.Package.SecondaryHash)),
		LogDir:       c.Log.Dir,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	out.Handoff.Secret = mask(c.Handoff.Secret)
	out.Package.SecondaryHash = mask(c.Package.SecondaryHash)
	out.Handoff.RedisURL = redactURL(c.Handoff.RedisURL)
	out.Lock.RedisURL = redactURL(c.Lock.RedisURL)
	return &out
}

var urlPasswordPattern = regexp.MustCompile(`(://[^:/@]*:)[^@]*@`)

func redactURL(u string) string {
	return urlPasswordPattern.ReplaceAllString(u, "${1}[REDACTED]@")
}

// Save writes c as YAML to path with restricted permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirMode); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, configFileMode); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
