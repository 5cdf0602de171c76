package rvg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultConfigPath = "./rvg.yaml"
const ConfigPathEnvName = "RVG_CONFIG"

const SessionCookieEnvName = "RVG_SESSION_COOKIE"
const SessionCookieAWSName = "rvg-session-cookie"
const TelegramTokenEnvName = "RVG_TELEGRAM_TOKEN"
const TelegramTokenAWSName = "rvg-telegram-token"

const DefaultSearchTime = 0.2
const DefaultRequestTimeout = 5.0
const DefaultErrorWarningThreshold = 10
const DefaultDumpDir = "./dump"

type Config struct {
	Debug                 bool              `yaml:"debug"`
	VaccineType           string            `yaml:"vaccine_type"`
	Region                GeoRectangle      `yaml:"region"`
	SearchTime            float64           `yaml:"search_time"`
	RequestTimeout        float64           `yaml:"request_timeout"`
	MaxReservationRetries uint              `yaml:"max_reservation_retries"`
	InsecureSkipVerify    bool              `yaml:"insecure_skip_verify"`
	ProxyUrl              string            `yaml:"proxy_url"`
	SessionCookie         string            `yaml:"session_cookie"`
	SessionCookies        map[string]string `yaml:"session_cookies"`
	EligibilityEndpoint   string            `yaml:"eligibility_endpoint"`
	ReservationEndpoint   string            `yaml:"reservation_endpoint"`
	Telegram              TelegramConfig    `yaml:"telegram"`
	FromEmailAddress      string            `yaml:"from_email_address"`
	SmtpUsername          string            `yaml:"smtp_user"`
	SmtpPassword          string            `yaml:"smtp_pass"`
	SmtpHost              string            `yaml:"smtp_host"`
	SmtpPort              int               `yaml:"smtp_port"`
	NotifyEmailAddrs      []string          `yaml:"notify_email_addrs"`
	ErrorWarningThreshold int               `yaml:"error_warning_threshold"`
	NotifyOnError         bool              `yaml:"notify_on_error"`
	DumpDir               string            `yaml:"dump_dir"`
	DumpOutput            bool              `yaml:"dump_output"`
	DumpOutputS3          bool              `yaml:"dump_output_s3"`
	DumpBucket            string            `yaml:"dump_bucket"`
	Providers             []ProviderConfig  `yaml:"provider_configs"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatId string `yaml:"chat_id"`
}

type ProviderConfig struct {
	Name   string                 `yaml:"name"`
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// ConfigError is any problem with the configuration itself.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// both providers, region query first since its breakdown is authoritative
var defaultProviders = []ProviderConfig{
	{Name: "kakao", Type: ProviderTypeRegionQuery},
	{Name: "naver", Type: ProviderTypePlaceSearch},
}

func NewConfigDefaultPath() (*Config, error) {
	loadDotEnv()

	configPath := os.Getenv(ConfigPathEnvName)
	if len(configPath) == 0 {
		configPath = DefaultConfigPath
	}

	return NewConfig(configPath)
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			Log.Warnf("Could not load .env: %v", err)
		}
		return
	}
	Log.Debug("Loaded environment from .env")
}

func NewConfig(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, &ConfigError{Path: configPath, Err: err}
	}
	defer file.Close()

	config := &Config{}
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, &ConfigError{Path: configPath, Err: err}
	}

	if config.Debug {
		SetDebug(true)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, &ConfigError{Path: configPath, Err: err}
	}

	config.loadSecrets(configPath)

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.SearchTime <= 0 {
		c.SearchTime = DefaultSearchTime
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ErrorWarningThreshold <= 0 {
		c.ErrorWarningThreshold = DefaultErrorWarningThreshold
	}
	if len(c.DumpDir) == 0 {
		c.DumpDir = DefaultDumpDir
	}
	if len(c.VaccineType) == 0 {
		Log.Warnf("vaccine_type not set, defaulting to %s", VaccineCodeAny)
		c.VaccineType = VaccineCodeAny
	}
	if len(c.Providers) == 0 {
		c.Providers = append([]ProviderConfig(nil), defaultProviders...)
	}
	if len(c.SmtpHost) > 0 && c.SmtpPort == 0 {
		c.SmtpPort = 587
	}
}

func (c *Config) Validate() error {
	if err := c.Region.Validate(); err != nil {
		return fmt.Errorf("region: %w", err)
	}

	names := make(map[string]bool)
	for idx, provider := range c.Providers {
		if len(provider.Type) == 0 {
			return fmt.Errorf("provider_configs[%d]: missing type", idx)
		}
		name := provider.Name
		if len(name) == 0 {
			name = provider.Type
		}
		if names[name] {
			return fmt.Errorf("provider_configs[%d]: duplicate provider name %s", idx, name)
		}
		names[name] = true
	}

	if c.DumpOutputS3 && len(c.DumpBucket) == 0 {
		return fmt.Errorf("dump_output_s3 requires dump_bucket")
	}

	return nil
}

// loadSecrets fills in secrets missing from the config file, first from the
// environment, then from AWS parameter store.
func (c *Config) loadSecrets(configPath string) {
	if len(c.SessionCookies) == 0 {
		c.SessionCookie = lookupSecret(c.SessionCookie, configPath, "session cookie", SessionCookieEnvName, SessionCookieAWSName)
	}

	if len(c.Telegram.ChatId) > 0 {
		c.Telegram.Token = lookupSecret(c.Telegram.Token, configPath, "telegram token", TelegramTokenEnvName, TelegramTokenAWSName)
	}
}

func lookupSecret(value string, configPath string, description string, envName string, awsName string) string {
	if len(value) > 0 {
		Log.Debugf("%s found in %s", description, configPath)
		return value
	}

	value = strings.TrimSpace(os.Getenv(envName))
	notFound := ""
	if len(value) == 0 {
		notFound = "NOT "
	}
	Log.Debugf("%s %sfound in environment variable %s", description, notFound, envName)
	if len(value) > 0 {
		return value
	}

	if !HasAWSCredentials() {
		return ""
	}

	value, err := GetAWSEncryptedParameter(awsName)
	if err != nil {
		Log.Debugf("Could not get %s from AWS: %v", description, err)
		return ""
	}

	Log.Debugf("%s found in AWS parameter '%s'", description, awsName)
	return value
}

// Credentials returns the cookie source for user and reservation requests.
func (c *Config) Credentials() (CredentialProvider, error) {
	if len(c.SessionCookies) > 0 {
		return CookieJarCredentials(c.SessionCookies), nil
	}

	if len(c.SessionCookie) == 0 {
		return nil, &ConfigError{Err: fmt.Errorf("Could not find a session cookie in any of these places: session_cookie, session_cookies, $%s, or AWS parameter '%s'", SessionCookieEnvName, SessionCookieAWSName)}
	}

	return StaticCredentials(c.SessionCookie), nil
}

func (c *Config) SearchInterval() time.Duration {
	return secondsToDuration(c.SearchTime)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
