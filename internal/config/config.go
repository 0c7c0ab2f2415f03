package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "WAYPOINT"
	defaultHTTPAddress         = "127.0.0.1:8080"
	defaultDatabasePath        = "waypoint.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultCookieName          = "app_session"
	defaultIssuer              = "waypoint-auth"
	defaultMinIntervalMillis   = 10000
	defaultMinDisplacementM    = 10.0
	defaultHysteresisMarginM   = 50.0
	defaultDedupeWindow        = 2 * time.Minute
	defaultDarkBelowLux        = 20.0
	defaultSweepInterval       = time.Minute
	defaultMailTimeout         = 10 * time.Second
	defaultPrimaryMailURL      = "https://api.emailjs.com/api/v1.0/email/send"
	defaultResetURL            = "https://waypoint.page.link/reset"
	signingSecretKey           = "auth.signing_secret"
	keyringPasswordConfigKey   = "credential.file_password"
	defaultKeyringFilePassword = "waypoint-file-key"
)

// SecretSource supplies secrets that are absent from flags, env and files.
type SecretSource interface {
	Lookup(key string) (string, error)
}

// AppConfig captures runtime configuration for the Waypoint agent.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	SigningSecret string
	Issuer        string
	CookieName    string

	MonitorMinInterval       time.Duration
	MonitorMinDisplacementM  float64
	MonitorHysteresisMarginM float64

	DedupeWindow time.Duration
	RedisAddress string

	Mail MailConfig

	ThemeDarkBelowLux float64
	SweepInterval     time.Duration

	KeyringFilePassword string
}

// MailConfig configures password-reset delivery.
type MailConfig struct {
	PrimaryURL        string
	PrimaryServiceID  string
	PrimaryTemplateID string
	PrimaryPublicKey  string
	SMTPAddress       string
	SMTPUsername      string
	SMTPPassword      string
	From              string
	ResetURL          string
	Timeout           time.Duration
}

// PrimaryConfigured reports whether the HTTP mail API has its identifiers.
func (m MailConfig) PrimaryConfigured() bool {
	return m.PrimaryURL != "" && m.PrimaryServiceID != "" && m.PrimaryTemplateID != "" && m.PrimaryPublicKey != ""
}

// SMTPConfigured reports whether the SMTP fallback can be used.
func (m MailConfig) SMTPConfigured() bool {
	return m.SMTPAddress != "" && m.From != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("monitor.min_interval_ms", defaultMinIntervalMillis)
	configViper.SetDefault("monitor.min_displacement_m", defaultMinDisplacementM)
	configViper.SetDefault("monitor.hysteresis_margin_m", defaultHysteresisMarginM)
	configViper.SetDefault("notify.dedupe_window", defaultDedupeWindow)
	configViper.SetDefault("notify.redis_address", "")
	configViper.SetDefault("mail.primary_url", defaultPrimaryMailURL)
	configViper.SetDefault("mail.reset_url", defaultResetURL)
	configViper.SetDefault("mail.timeout", defaultMailTimeout)
	configViper.SetDefault("theme.dark_below_lux", defaultDarkBelowLux)
	configViper.SetDefault("maintenance.sweep_interval", defaultSweepInterval)
	configViper.SetDefault(keyringPasswordConfigKey, defaultKeyringFilePassword)
}

// Load parses runtime configuration from viper. A missing signing secret is looked up in secrets.
func Load(configViper *viper.Viper, secrets SecretSource) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),

		SigningSecret: configViper.GetString(signingSecretKey),
		Issuer:        configViper.GetString("auth.issuer"),
		CookieName:    configViper.GetString("auth.cookie_name"),

		MonitorMinInterval:       time.Duration(configViper.GetInt64("monitor.min_interval_ms")) * time.Millisecond,
		MonitorMinDisplacementM:  configViper.GetFloat64("monitor.min_displacement_m"),
		MonitorHysteresisMarginM: configViper.GetFloat64("monitor.hysteresis_margin_m"),

		DedupeWindow: configViper.GetDuration("notify.dedupe_window"),
		RedisAddress: strings.TrimSpace(configViper.GetString("notify.redis_address")),

		Mail: MailConfig{
			PrimaryURL:        strings.TrimSpace(configViper.GetString("mail.primary_url")),
			PrimaryServiceID:  strings.TrimSpace(configViper.GetString("mail.primary_service_id")),
			PrimaryTemplateID: strings.TrimSpace(configViper.GetString("mail.primary_template_id")),
			PrimaryPublicKey:  strings.TrimSpace(configViper.GetString("mail.primary_public_key")),
			SMTPAddress:       strings.TrimSpace(configViper.GetString("mail.smtp_address")),
			SMTPUsername:      configViper.GetString("mail.smtp_username"),
			SMTPPassword:      configViper.GetString("mail.smtp_password"),
			From:              strings.TrimSpace(configViper.GetString("mail.from")),
			ResetURL:          strings.TrimSpace(configViper.GetString("mail.reset_url")),
			Timeout:           configViper.GetDuration("mail.timeout"),
		},

		ThemeDarkBelowLux: configViper.GetFloat64("theme.dark_below_lux"),
		SweepInterval:     configViper.GetDuration("maintenance.sweep_interval"),

		KeyringFilePassword: configViper.GetString(keyringPasswordConfigKey),
	}

	if strings.TrimSpace(cfg.SigningSecret) == "" && secrets != nil {
		secret, err := secrets.Lookup(signingSecretKey)
		if err == nil {
			cfg.SigningSecret = secret
		}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	var errs []error
	if strings.TrimSpace(c.SigningSecret) == "" {
		errs = append(errs, fmt.Errorf("%s is required", signingSecretKey))
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if strings.TrimSpace(c.CookieName) == "" {
		errs = append(errs, fmt.Errorf("auth.cookie_name is required"))
	}
	if c.MonitorMinInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.min_interval_ms must be positive"))
	}
	if c.MonitorMinDisplacementM < 0 {
		errs = append(errs, fmt.Errorf("monitor.min_displacement_m must not be negative"))
	}
	if c.MonitorHysteresisMarginM <= 0 {
		errs = append(errs, fmt.Errorf("monitor.hysteresis_margin_m must be positive"))
	}
	if c.DedupeWindow <= 0 {
		errs = append(errs, fmt.Errorf("notify.dedupe_window must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("maintenance.sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}
