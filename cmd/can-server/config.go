package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/logging"
)

type appConfig struct {
	configFile      string
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	canIf           string
	fdFrames        bool
	recvOwnMsgs     bool
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		listenAddr:   ":20000",
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    512,
		hubPolicy:    "drop",
		canIf:        "can0",
		fdFrames:     true,
		handshakeTO:  3 * time.Second,
		clientReadTO: 60 * time.Second,
	}
}

// parseFlags builds the configuration. Precedence, lowest first: defaults,
// the -config file, CAN_SERVER_* environment, explicit flags.
func parseFlags() (*appConfig, bool, error) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

func parseArgs(fs *flag.FlagSet, args []string) (*appConfig, bool, error) {
	cfg := defaultConfig()
	fs.StringVar(&cfg.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", cfg.hubBuffer, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", cfg.hubPolicy, "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface")
	fs.BoolVar(&cfg.fdFrames, "fd", cfg.fdFrames, "Enable CAN FD frames on the socket")
	fs.BoolVar(&cfg.recvOwnMsgs, "recv-own-msgs", false, "Echo frames sent by this server back to TCP clients")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", cfg.handshakeTO, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", cfg.clientReadTO, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-server-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence.
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	path := cfg.configFile
	if _, ok := set["config"]; !ok {
		if v, ok := os.LookupEnv("CAN_SERVER_CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		if err := loadConfigFile(path, cfg, set); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, false, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration: %w", err)
	}
	return cfg, false, nil
}

// validate checks values and ranges. It does not open sockets or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	if _, err := hub.ParsePolicy(c.hubPolicy); err != nil {
		return fmt.Errorf("invalid hub-policy: %w", err)
	}
	if c.canIf == "" {
		return errors.New("can-if must not be empty")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// fileConfig mirrors appConfig for YAML. Absent keys leave the value alone.
type fileConfig struct {
	Listen             *string `yaml:"listen"`
	LogFormat          *string `yaml:"log_format"`
	LogLevel           *string `yaml:"log_level"`
	MetricsAddr        *string `yaml:"metrics_addr"`
	HubBuffer          *int    `yaml:"hub_buffer"`
	HubPolicy          *string `yaml:"hub_policy"`
	LogMetricsInterval *string `yaml:"log_metrics_interval"`
	CANIf              *string `yaml:"can_if"`
	FD                 *bool   `yaml:"fd"`
	RecvOwnMsgs        *bool   `yaml:"recv_own_msgs"`
	MaxClients         *int    `yaml:"max_clients"`
	HandshakeTimeout   *string `yaml:"handshake_timeout"`
	ClientReadTimeout  *string `yaml:"client_read_timeout"`
	MDNSEnable         *bool   `yaml:"mdns_enable"`
	MDNSName           *string `yaml:"mdns_name"`
}

func loadConfigFile(path string, c *appConfig, set map[string]struct{}) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(content, &fc); err != nil {
		return fmt.Errorf("unmarshal config yaml %s: %w", path, err)
	}
	return fc.apply(c, set)
}

func (fc *fileConfig) apply(c *appConfig, set map[string]struct{}) error {
	unset := func(name string) bool { _, ok := set[name]; return !ok }
	str := func(name string, v *string, dst *string) {
		if v != nil && unset(name) {
			*dst = *v
		}
	}
	num := func(name string, v *int, dst *int) {
		if v != nil && unset(name) {
			*dst = *v
		}
	}
	flg := func(name string, v *bool, dst *bool) {
		if v != nil && unset(name) {
			*dst = *v
		}
	}
	dur := func(name string, v *string, dst *time.Duration) error {
		if v == nil || !unset(name) {
			return nil
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
		*dst = d
		return nil
	}
	str("listen", fc.Listen, &c.listenAddr)
	str("log-format", fc.LogFormat, &c.logFormat)
	str("log-level", fc.LogLevel, &c.logLevel)
	str("metrics-addr", fc.MetricsAddr, &c.metricsAddr)
	num("hub-buffer", fc.HubBuffer, &c.hubBuffer)
	str("hub-policy", fc.HubPolicy, &c.hubPolicy)
	str("can-if", fc.CANIf, &c.canIf)
	flg("fd", fc.FD, &c.fdFrames)
	flg("recv-own-msgs", fc.RecvOwnMsgs, &c.recvOwnMsgs)
	num("max-clients", fc.MaxClients, &c.maxClients)
	flg("mdns-enable", fc.MDNSEnable, &c.mdnsEnable)
	str("mdns-name", fc.MDNSName, &c.mdnsName)
	return errors.Join(
		dur("log-metrics-interval", fc.LogMetricsInterval, &c.logMetricsEvery),
		dur("handshake-timeout", fc.HandshakeTimeout, &c.handshakeTO),
		dur("client-read-timeout", fc.ClientReadTimeout, &c.clientReadTO),
	)
}

// applyEnvOverrides maps CAN_SERVER_* environment variables to config fields
// unless the corresponding flag was set. Empty values are ignored; the first
// parse error is returned after all variables were looked at.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	lookup := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := lookup(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, dst *int, lo int) {
		if v, ok := lookup(flagName, key); ok {
			n, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fail(key, err)
			case n < lo:
				fail(key, fmt.Errorf("%d below %d", n, lo))
			default:
				*dst = n
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := lookup(flagName, key); ok {
			d, err := time.ParseDuration(v)
			switch {
			case err != nil:
				fail(key, err)
			case d < 0:
				fail(key, fmt.Errorf("negative duration %s", v))
			default:
				*dst = d
			}
		}
	}
	boolean := func(flagName, key string, dst *bool) {
		if v, ok := lookup(flagName, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(key, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("listen", "CAN_SERVER_LISTEN", &c.listenAddr)
	str("log-format", "CAN_SERVER_LOG_FORMAT", &c.logFormat)
	str("log-level", "CAN_SERVER_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// an empty value disables metrics, so it is not skipped
		if v, ok := os.LookupEnv("CAN_SERVER_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	num("hub-buffer", "CAN_SERVER_HUB_BUFFER", &c.hubBuffer, 1)
	str("hub-policy", "CAN_SERVER_HUB_POLICY", &c.hubPolicy)
	str("can-if", "CAN_SERVER_IF", &c.canIf)
	boolean("fd", "CAN_SERVER_FD", &c.fdFrames)
	boolean("recv-own-msgs", "CAN_SERVER_RECV_OWN_MSGS", &c.recvOwnMsgs)
	num("max-clients", "CAN_SERVER_MAX_CLIENTS", &c.maxClients, 0)
	dur("handshake-timeout", "CAN_SERVER_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "CAN_SERVER_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	boolean("mdns-enable", "CAN_SERVER_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "CAN_SERVER_MDNS_NAME", &c.mdnsName)
	dur("log-metrics-interval", "CAN_SERVER_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	return firstErr
}
