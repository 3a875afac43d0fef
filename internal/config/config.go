package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	ModeClassic   = "classic"
	ModeRetention = "retention"

	NotifyAlways  = "always"
	NotifyFailure = "failure"
)

type Config struct {
	ClientName    string          `mapstructure:"client_name"`
	WorkDir       string          `mapstructure:"work_dir"`
	DataDir       string          `mapstructure:"data_dir"`
	Compression   string          `mapstructure:"compression"`
	SevenZipPath  string          `mapstructure:"sevenzip_path"`
	LogJSON       bool            `mapstructure:"log_json"`
	NoColor       bool            `mapstructure:"no_color"`
	LogLevel      string          `mapstructure:"log_level"`
	SQLServer     SQLServerConfig `mapstructure:"sqlserver"`
	Databases     []string        `mapstructure:"databases"`
	Schedule      ScheduleConfig  `mapstructure:"schedule"`
	Retention     RetentionConfig `mapstructure:"retention"`
	Targets       TargetsConfig   `mapstructure:"targets"`
	History       HistoryConfig   `mapstructure:"history"`
	Notifications Notifications   `mapstructure:"notifications"`
}

type SQLServerConfig struct {
	Host                   string        `mapstructure:"host"`
	Port                   int           `mapstructure:"port"`
	Instance               string        `mapstructure:"instance"`
	User                   string        `mapstructure:"user"`
	Password               string        `mapstructure:"password"`
	TrustServerCertificate bool          `mapstructure:"trust_server_certificate"`
	Timeout                time.Duration `mapstructure:"timeout"`
	SqlcmdPath             string        `mapstructure:"sqlcmd_path"`
}

type ScheduleConfig struct {
	Times []string `mapstructure:"times"` // "HH:MM", slot N is Times[N-1]
	Cron  []string `mapstructure:"cron"`  // continue slot numbering after Times
}

type RetentionConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Mode        string `mapstructure:"mode"`
	LocalDays   int    `mapstructure:"local_days"`
	RemoteDays  int    `mapstructure:"remote_days"`
	AutoCleanup bool   `mapstructure:"auto_cleanup"`
}

type TargetsConfig struct {
	FTP     FTPConfig     `mapstructure:"ftp"`
	SFTP    SFTPConfig    `mapstructure:"sftp"`
	S3      S3Config      `mapstructure:"s3"`
	Network NetworkConfig `mapstructure:"network"`
}

type FTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Dir      string        `mapstructure:"dir"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SFTPConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	KeyFile        string `mapstructure:"key_file"`
	KnownHostsFile string `mapstructure:"known_hosts_file"`
	Dir            string `mapstructure:"dir"`
}

type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type NetworkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type HistoryConfig struct {
	// MaxRecords caps the history table; the oldest rows are evicted first. 0 keeps everything.
	MaxRecords int `mapstructure:"max_records"`
}

type Notifications struct {
	NotifyOn string          `mapstructure:"notify_on"`
	Email    EmailConfig     `mapstructure:"email"`
	WhatsApp WhatsAppConfig  `mapstructure:"whatsapp"`
	Slack    SlackConfig     `mapstructure:"slack"`
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	User       string   `mapstructure:"user"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	StartTLS   bool     `mapstructure:"starttls"`
	Recipients []string `mapstructure:"recipients"`
}

type WhatsAppConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	GatewayURL string   `mapstructure:"gateway_url"`
	Token      string   `mapstructure:"token"`
	Recipients []string `mapstructure:"recipients"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Template   string `mapstructure:"template"`
}

type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Template string            `mapstructure:"template"`
	Headers  map[string]string `mapstructure:"headers"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("client_name", "sqlbackup")
	v.SetDefault("work_dir", "./backups")
	v.SetDefault("compression", "7z")
	v.SetDefault("sevenzip_path", "7z")
	v.SetDefault("log_level", "info")
	v.SetDefault("sqlserver.host", "localhost")
	v.SetDefault("sqlserver.port", 1433)
	v.SetDefault("sqlserver.timeout", "0s")
	v.SetDefault("sqlserver.sqlcmd_path", "sqlcmd")
	v.SetDefault("retention.mode", ModeClassic)
	v.SetDefault("retention.local_days", 7)
	v.SetDefault("retention.remote_days", 30)
	v.SetDefault("targets.ftp.port", 21)
	v.SetDefault("targets.ftp.timeout", "30s")
	v.SetDefault("targets.sftp.port", 22)
	v.SetDefault("notifications.notify_on", NotifyAlways)
	v.SetDefault("notifications.email.port", 587)
}

func Initialize(configPath string) error {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sqlbackup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".sqlbackup"))
		}
	}

	v.SetEnvPrefix("SQLBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	set(cfg)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				return
			}
			next.normalize()
			set(next)
		})
		v.WatchConfig()
	}

	return nil
}

func set(cfg *Config) {
	mu.Lock()
	globalConfig = cfg
	mu.Unlock()
}

// GetConfig returns the live configuration. Callers that run a backup must use Snapshot instead.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if globalConfig == nil {
		return Default()
	}
	return globalConfig
}

// Snapshot returns a deep copy of the live configuration, so a reload cannot change an in-flight run.
func Snapshot() Config {
	return GetConfig().Clone()
}

func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	c.Retention.Mode = strings.ToLower(strings.TrimSpace(c.Retention.Mode))
	if c.Retention.Mode == "" {
		c.Retention.Mode = ModeClassic
	}
	c.Notifications.NotifyOn = strings.ToLower(strings.TrimSpace(c.Notifications.NotifyOn))
	if c.Notifications.NotifyOn == "" {
		c.Notifications.NotifyOn = NotifyAlways
	}
	c.Compression = strings.ToLower(strings.TrimSpace(c.Compression))
	if c.DataDir == "" {
		c.DataDir = c.WorkDir
	}
}

func (c Config) Clone() Config {
	out := c
	out.Databases = append([]string(nil), c.Databases...)
	out.Schedule.Times = append([]string(nil), c.Schedule.Times...)
	out.Schedule.Cron = append([]string(nil), c.Schedule.Cron...)
	out.Notifications.Email.Recipients = append([]string(nil), c.Notifications.Email.Recipients...)
	out.Notifications.WhatsApp.Recipients = append([]string(nil), c.Notifications.WhatsApp.Recipients...)
	if c.Notifications.Webhooks != nil {
		out.Notifications.Webhooks = make([]WebhookConfig, len(c.Notifications.Webhooks))
		for i, w := range c.Notifications.Webhooks {
			cw := w
			if w.Headers != nil {
				cw.Headers = make(map[string]string, len(w.Headers))
				for k, v := range w.Headers {
					cw.Headers[k] = v
				}
			}
			out.Notifications.Webhooks[i] = cw
		}
	}
	return out
}

// RetentionActive reports whether runs use timestamped names and age-based pruning.
func (c Config) RetentionActive() bool {
	return c.Retention.Enabled && c.Retention.Mode == ModeRetention
}

func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ClientName) == "" {
		problems = append(problems, "client_name is required")
	}
	if strings.ContainsAny(c.ClientName, `/\`) {
		problems = append(problems, "client_name must not contain path separators")
	}
	if c.WorkDir == "" {
		problems = append(problems, "work_dir is required")
	}
	for _, db := range c.Databases {
		if strings.TrimSpace(db) == "" {
			problems = append(problems, "databases must not contain empty names")
			break
		}
	}

	switch c.Retention.Mode {
	case ModeClassic, ModeRetention:
	default:
		problems = append(problems, fmt.Sprintf("retention.mode %q must be %q or %q", c.Retention.Mode, ModeClassic, ModeRetention))
	}
	if c.Retention.Enabled {
		if c.Retention.LocalDays < 1 {
			problems = append(problems, "retention.local_days must be >= 1")
		}
		if c.Retention.RemoteDays < 1 {
			problems = append(problems, "retention.remote_days must be >= 1")
		}
	}

	t := c.Targets
	if t.FTP.Enabled && t.FTP.Host == "" {
		problems = append(problems, "targets.ftp.host is required when ftp is enabled")
	}
	if t.SFTP.Enabled && t.SFTP.Host == "" {
		problems = append(problems, "targets.sftp.host is required when sftp is enabled")
	}
	if t.S3.Enabled && (t.S3.Endpoint == "" || t.S3.Bucket == "") {
		problems = append(problems, "targets.s3.endpoint and targets.s3.bucket are required when s3 is enabled")
	}
	if t.Network.Enabled && t.Network.Path == "" {
		problems = append(problems, "targets.network.path is required when network copy is enabled")
	}

	for _, hhmm := range c.Schedule.Times {
		if _, _, err := ParseClock(hhmm); err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch c.Notifications.NotifyOn {
	case NotifyAlways, NotifyFailure:
	default:
		problems = append(problems, fmt.Sprintf("notifications.notify_on %q must be %q or %q", c.Notifications.NotifyOn, NotifyAlways, NotifyFailure))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("schedule time %q must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
