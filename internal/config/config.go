package config

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/matt0x6f/cascade-core/internal/constants"
	"github.com/matt0x6f/cascade-core/internal/irc"
	"github.com/matt0x6f/cascade-core/internal/validation"
)

// Duration is a time.Duration written as "30s" or "2m" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Server is one address of a network
type Server struct {
	Host       string `yaml:"host" toml:"host" json:"host"`
	Port       int    `yaml:"port" toml:"port" json:"port"`
	TLS        bool   `yaml:"tls" toml:"tls" json:"tls"`
	SkipVerify bool   `yaml:"skip_verify" toml:"skip_verify" json:"skip_verify"`
	WebSocket  bool   `yaml:"websocket" toml:"websocket" json:"websocket"`
	Path       string `yaml:"path" toml:"path" json:"path"`
}

// SASL holds account credentials. With Keyring set the password is read from
// the OS keychain.
type SASL struct {
	Mechanism string `yaml:"mechanism" toml:"mechanism" json:"mechanism"`
	Username  string `yaml:"username" toml:"username" json:"username"`
	Password  string `yaml:"password" toml:"password" json:"password"`
	Keyring   bool   `yaml:"keyring" toml:"keyring" json:"keyring"`
}

// Network describes one IRC network. AutoJoin entries are "#channel" or
// "#channel key".
type Network struct {
	Name            string   `yaml:"name" toml:"name" json:"name"`
	Nick            string   `yaml:"nick" toml:"nick" json:"nick"`
	User            string   `yaml:"user" toml:"user" json:"user"`
	RealName        string   `yaml:"realname" toml:"realname" json:"realname"`
	AltNicks        []string `yaml:"alt_nicks" toml:"alt_nicks" json:"alt_nicks"`
	Password        string   `yaml:"password" toml:"password" json:"password"`
	PasswordKeyring bool     `yaml:"password_keyring" toml:"password_keyring" json:"password_keyring"`
	Servers         []Server `yaml:"servers" toml:"servers" json:"servers"`
	SASL            *SASL    `yaml:"sasl" toml:"sasl" json:"sasl"`
	Caps            []string `yaml:"caps" toml:"caps" json:"caps"`
	AutoJoin        []string `yaml:"autojoin" toml:"autojoin" json:"autojoin"`
	AutoConnect     *bool    `yaml:"autoconnect" toml:"autoconnect" json:"autoconnect"`
}

// Config represents the client configuration
type Config struct {
	Log struct {
		Level string `yaml:"level" toml:"level" json:"level" env:"CASCADE_LOG_LEVEL"`
	} `yaml:"log" toml:"log" json:"log"`

	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir" env:"CASCADE_DATA_DIR"`
	Proxy   string `yaml:"proxy" toml:"proxy" json:"proxy" env:"CASCADE_PROXY"`

	Connection struct {
		ConnectTimeout      Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout" env:"CASCADE_CONNECT_TIMEOUT"`
		RegistrationTimeout Duration `yaml:"registration_timeout" toml:"registration_timeout" json:"registration_timeout" env:"CASCADE_REGISTRATION_TIMEOUT"`
		SendRate            float64  `yaml:"send_rate" toml:"send_rate" json:"send_rate" env:"CASCADE_SEND_RATE"`
		SendBurst           int      `yaml:"send_burst" toml:"send_burst" json:"send_burst" env:"CASCADE_SEND_BURST"`
		CTCPVersion         string   `yaml:"ctcp_version" toml:"ctcp_version" json:"ctcp_version" env:"CASCADE_CTCP_VERSION"`
	} `yaml:"connection" toml:"connection" json:"connection"`

	Reconnect struct {
		MaxAttempts  int      `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts" env:"CASCADE_RECONNECT_MAX_ATTEMPTS"`
		InitialDelay Duration `yaml:"initial_delay" toml:"initial_delay" json:"initial_delay" env:"CASCADE_RECONNECT_INITIAL_DELAY"`
		MaxDelay     Duration `yaml:"max_delay" toml:"max_delay" json:"max_delay" env:"CASCADE_RECONNECT_MAX_DELAY"`
	} `yaml:"reconnect" toml:"reconnect" json:"reconnect"`

	History struct {
		Enabled       bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"CASCADE_HISTORY_ENABLED"`
		BufferSize    int      `yaml:"buffer_size" toml:"buffer_size" json:"buffer_size" env:"CASCADE_HISTORY_BUFFER_SIZE"`
		FlushInterval Duration `yaml:"flush_interval" toml:"flush_interval" json:"flush_interval" env:"CASCADE_HISTORY_FLUSH_INTERVAL"`
	} `yaml:"history" toml:"history" json:"history"`

	Metrics struct {
		Listen string `yaml:"listen" toml:"listen" json:"listen" env:"CASCADE_METRICS_LISTEN"`
	} `yaml:"metrics" toml:"metrics" json:"metrics"`

	Notify struct {
		Highlights bool `yaml:"highlights" toml:"highlights" json:"highlights" env:"CASCADE_NOTIFY_HIGHLIGHTS"`
	} `yaml:"notify" toml:"notify" json:"notify"`

	Networks []Network `yaml:"networks" toml:"networks" json:"networks"`

	// Source is the file the configuration was loaded from
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Default returns a configuration with every default applied and no networks.
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.DataDir = defaultDataDir()
	cfg.Connection.ConnectTimeout = Duration(constants.ConnectTimeout)
	cfg.Connection.RegistrationTimeout = Duration(constants.RegistrationTimeout)
	cfg.Connection.SendRate = constants.SendRate
	cfg.Connection.SendBurst = constants.SendBurst
	cfg.Connection.CTCPVersion = irc.DefaultCTCPVersion
	cfg.Reconnect.MaxAttempts = constants.ReconnectMaxAttempts
	cfg.Reconnect.InitialDelay = Duration(constants.ReconnectInitialDelay)
	cfg.Reconnect.MaxDelay = Duration(constants.ReconnectMaxDelay)
	cfg.History.Enabled = true
	cfg.History.BufferSize = constants.HistoryBufferSize
	cfg.History.FlushInterval = Duration(constants.HistoryFlushInterval)
	return cfg
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cascade")
	}
	return ".cascade"
}

// Load reads a YAML, TOML or JSON file chosen by extension, loads a .env file
// from the same directory, applies CASCADE_* overrides and validates.
func Load(source string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromFile(source); err != nil {
		return nil, err
	}

	envFile := filepath.Join(filepath.Dir(source), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	applyEnvOverrides(cfg)

	cfg.applyNetworkDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(source string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".json":
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Source = source
	return nil
}

func (c *Config) applyNetworkDefaults() {
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.User == "" {
			n.User = n.Nick
		}
		if n.RealName == "" {
			n.RealName = n.Nick
		}
		for j := range n.Servers {
			srv := &n.Servers[j]
			if srv.Port == 0 {
				srv.Port = 6667
				if srv.TLS {
					srv.Port = 6697
				}
			}
		}
	}
}

// Validate checks every network and the global settings
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("no networks configured")
	}

	seen := make(map[string]bool)
	for _, n := range c.Networks {
		key := strings.ToLower(n.Name)
		if seen[key] {
			return fmt.Errorf("duplicate network %q", n.Name)
		}
		seen[key] = true

		servers := make([]validation.Server, len(n.Servers))
		for i, srv := range n.Servers {
			servers[i] = validation.Server{Address: srv.Host, Port: srv.Port}
		}
		if err := validation.ValidateNetworkConfig(n.Name, n.Nick, n.User, n.RealName, servers); err != nil {
			return fmt.Errorf("network %q: %w", n.Name, err)
		}
		for _, alt := range n.AltNicks {
			if err := validation.ValidateNickname(alt); err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
		}
		for _, entry := range n.AutoJoin {
			name, _ := splitAutoJoin(entry)
			if err := validation.ValidateChannelName(name); err != nil {
				return fmt.Errorf("network %q: autojoin %q: %w", n.Name, entry, err)
			}
		}
		if n.SASL != nil {
			if err := validation.ValidateSASLMechanism(n.SASL.Mechanism); err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
		}
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.Connection.SendRate <= 0 || c.Connection.SendBurst <= 0 {
		return fmt.Errorf("connection.send_rate and connection.send_burst must be positive")
	}
	return nil
}

// Network returns the network with the given name, compared case-insensitively
func (c *Config) Network(name string) (*Network, bool) {
	for i := range c.Networks {
		if strings.EqualFold(c.Networks[i].Name, name) {
			return &c.Networks[i], true
		}
	}
	return nil, false
}

// SecretStore looks up secrets kept outside the config file.
type SecretStore interface {
	GetPassword(key string) (string, error)
}

// ResolveSecrets fills in passwords flagged as stored in the keychain.
func (c *Config) ResolveSecrets(store SecretStore, passwordKey func(network string) string, saslKey func(network, account string) string) error {
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.PasswordKeyring {
			pw, err := store.GetPassword(passwordKey(n.Name))
			if err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
			n.Password = pw
		}
		if n.SASL != nil && n.SASL.Keyring {
			pw, err := store.GetPassword(saslKey(n.Name, n.SASL.Username))
			if err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
			n.SASL.Password = pw
		}
	}
	return nil
}

// ClientConfig converts a network entry into the engine's connection config
func (c *Config) ClientConfig(n Network) irc.Config {
	cc := irc.Config{
		Network:             n.Name,
		Identity:            irc.Identity{Nick: n.Nick, User: n.User, RealName: n.RealName},
		Password:            n.Password,
		AltNicks:            n.AltNicks,
		Caps:                n.Caps,
		CTCPVersion:         c.Connection.CTCPVersion,
		ConnectTimeout:      time.Duration(c.Connection.ConnectTimeout),
		RegistrationTimeout: time.Duration(c.Connection.RegistrationTimeout),
		SendRate:            c.Connection.SendRate,
		SendBurst:           c.Connection.SendBurst,
		Reconnect: irc.ReconnectPolicy{
			MaxAttempts:  c.Reconnect.MaxAttempts,
			InitialDelay: time.Duration(c.Reconnect.InitialDelay),
			MaxDelay:     time.Duration(c.Reconnect.MaxDelay),
		},
	}
	for _, srv := range n.Servers {
		cc.Servers = append(cc.Servers, irc.Server{
			Host:       srv.Host,
			Port:       srv.Port,
			TLS:        srv.TLS,
			SkipVerify: srv.SkipVerify,
			WebSocket:  srv.WebSocket,
			Path:       srv.Path,
		})
	}
	if n.SASL != nil {
		cc.SASL = &irc.SASLConfig{
			Mechanism: strings.ToUpper(n.SASL.Mechanism),
			Username:  n.SASL.Username,
			Password:  n.SASL.Password,
		}
	}
	for _, entry := range n.AutoJoin {
		name, key := splitAutoJoin(entry)
		cc.AutoJoin = append(cc.AutoJoin, irc.JoinTarget{Name: name, Key: key})
	}
	return cc
}

func splitAutoJoin(entry string) (name, key string) {
	fields := strings.Fields(entry)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], fields[1]
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		if field.PkgPath != "" {
			continue
		}

		if envTag := field.Tag.Get("env"); envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// setFieldFromEnv sets a field's value from an environment variable. Values
// that do not parse are ignored.
func setFieldFromEnv(field reflect.Value, envValue string) {
	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshalerType) {
		_ = field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(envValue))
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(v)
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(v)
		}
	case reflect.Bool:
		field.SetBool(parseBool(envValue))
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(envValue, ",")
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(strings.TrimSpace(v))
			}
			field.Set(slice)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "y"
}
