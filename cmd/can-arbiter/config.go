package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type appConfig struct {
	configFile      string
	serialDev       string
	baud            int
	listenAddr      string
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	backend         string
	canIf           string
	queueSize       int
	queuePolicy     string
	maxClients      int
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

// fileConfig mirrors appConfig for TOML decoding. All fields are pointers so
// absent keys leave the defaults untouched.
type fileConfig struct {
	Serial             *string `toml:"serial"`
	Baud               *int    `toml:"baud"`
	Listen             *string `toml:"listen"`
	SerialReadTimeout  *string `toml:"serial_read_timeout"`
	LogFormat          *string `toml:"log_format"`
	LogLevel           *string `toml:"log_level"`
	MetricsAddr        *string `toml:"metrics_addr"`
	HubBuffer          *int    `toml:"hub_buffer"`
	HubPolicy          *string `toml:"hub_policy"`
	LogMetricsInterval *string `toml:"log_metrics_interval"`
	Backend            *string `toml:"backend"`
	CANIf              *string `toml:"can_if"`
	QueueSize          *int    `toml:"queue_size"`
	QueuePolicy        *string `toml:"queue_policy"`
	MaxClients         *int    `toml:"max_clients"`
	ClientReadTimeout  *string `toml:"client_read_timeout"`
	MDNSEnable         *bool   `toml:"mdns_enable"`
	MDNSName           *string `toml:"mdns_name"`
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	configFile := flag.String("config", "", "TOML configuration file (flags and env override it)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	listen := flag.String("listen", ":20000", "TCP listen address")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	backend := flag.String("backend", "socketcan", "CAN backend: serial|socketcan (default socketcan)")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	queueSize := flag.Int("queue-size", 1024, "Transmit arbitration queue capacity (frames)")
	queuePolicy := flag.String("queue-policy", "drop-lowest", "Queue overflow policy: drop-lowest|reject")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default can-arbiter-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env
	// and file values.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.configFile = *configFile
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.listenAddr = *listen
	cfg.serialReadTO = *serialReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.queueSize = *queueSize
	cfg.queuePolicy = *queuePolicy
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if cfg.configFile != "" {
		if err := loadConfigFile(cfg, cfg.configFile, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// loadConfigFile merges TOML values into cfg. Explicitly set flags win; env
// overrides are applied after and win over the file too.
func loadConfigFile(c *appConfig, path string, set map[string]struct{}) error {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if un := meta.Undecoded(); len(un) > 0 {
		keys := make([]string, 0, len(un))
		for _, k := range un {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	dur := func(key, v string) (time.Duration, error) {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s in %s: %w", key, path, err)
		}
		return d, nil
	}
	skip := func(flagName string) bool { _, ok := set[flagName]; return ok }

	if fc.Serial != nil && !skip("serial") {
		c.serialDev = *fc.Serial
	}
	if fc.Baud != nil && !skip("baud") {
		c.baud = *fc.Baud
	}
	if fc.Listen != nil && !skip("listen") {
		c.listenAddr = *fc.Listen
	}
	if fc.SerialReadTimeout != nil && !skip("serial-read-timeout") {
		d, err := dur("serial_read_timeout", *fc.SerialReadTimeout)
		if err != nil {
			return err
		}
		c.serialReadTO = d
	}
	if fc.LogFormat != nil && !skip("log-format") {
		c.logFormat = *fc.LogFormat
	}
	if fc.LogLevel != nil && !skip("log-level") {
		c.logLevel = *fc.LogLevel
	}
	if fc.MetricsAddr != nil && !skip("metrics-addr") {
		c.metricsAddr = *fc.MetricsAddr
	}
	if fc.HubBuffer != nil && !skip("hub-buffer") {
		c.hubBuffer = *fc.HubBuffer
	}
	if fc.HubPolicy != nil && !skip("hub-policy") {
		c.hubPolicy = *fc.HubPolicy
	}
	if fc.LogMetricsInterval != nil && !skip("log-metrics-interval") {
		d, err := dur("log_metrics_interval", *fc.LogMetricsInterval)
		if err != nil {
			return err
		}
		c.logMetricsEvery = d
	}
	if fc.Backend != nil && !skip("backend") {
		c.backend = *fc.Backend
	}
	if fc.CANIf != nil && !skip("can-if") {
		c.canIf = *fc.CANIf
	}
	if fc.QueueSize != nil && !skip("queue-size") {
		c.queueSize = *fc.QueueSize
	}
	if fc.QueuePolicy != nil && !skip("queue-policy") {
		c.queuePolicy = *fc.QueuePolicy
	}
	if fc.MaxClients != nil && !skip("max-clients") {
		c.maxClients = *fc.MaxClients
	}
	if fc.ClientReadTimeout != nil && !skip("client-read-timeout") {
		d, err := dur("client_read_timeout", *fc.ClientReadTimeout)
		if err != nil {
			return err
		}
		c.clientReadTO = d
	}
	if fc.MDNSEnable != nil && !skip("mdns-enable") {
		c.mdnsEnable = *fc.MDNSEnable
	}
	if fc.MDNSName != nil && !skip("mdns-name") {
		c.mdnsName = *fc.MDNSName
	}
	return nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	switch c.queuePolicy {
	case "drop-lowest", "reject":
	default:
		return fmt.Errorf("invalid queue-policy: %s", c.queuePolicy)
	}
	if c.queueSize <= 0 {
		return fmt.Errorf("queue-size must be > 0 (got %d)", c.queueSize)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CAN_ARBITER_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is
// lax: empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["serial"]; !ok {
		if v, ok := get("CAN_ARBITER_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("CAN_ARBITER_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("CAN_ARBITER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["serial-read-timeout"]; !ok {
		if v, ok := get("CAN_ARBITER_SERIAL_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.serialReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_SERIAL_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CAN_ARBITER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CAN_ARBITER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CAN_ARBITER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("CAN_ARBITER_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_HUB_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("CAN_ARBITER_HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
		}
	}
	if _, ok := set["backend"]; !ok {
		if v, ok := get("CAN_ARBITER_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CAN_ARBITER_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["queue-size"]; !ok {
		if v, ok := get("CAN_ARBITER_QUEUE_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.queueSize = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_QUEUE_SIZE: %w", err)
			}
		}
	}
	if _, ok := set["queue-policy"]; !ok {
		if v, ok := get("CAN_ARBITER_QUEUE_POLICY"); ok && v != "" {
			c.queuePolicy = v
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("CAN_ARBITER_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("CAN_ARBITER_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CAN_ARBITER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CAN_ARBITER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CAN_ARBITER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_ARBITER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
