package tracker_config

import (
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/trackrelay/helpers"
)

const (
	ModeThread  = "thread"
	ModeProcess = "process"

	SourceMemory = "memory"
	SourceSpool  = "spool"
	SourceMQTT   = "mqtt"

	defaultHost         = "127.0.0.1"
	defaultPort         = 8000
	defaultSourceID     = 1
	defaultRetrySec     = 600
	defaultTickRate     = 20
	defaultReadLimit    = 4096
	defaultPayloadLimit = 1024
	defaultPollMs       = 1
	defaultNetTimeout   = 30
	defaultSpoolPath    = "./tmp-trackrelay-spool"
	defaultMqttBroker   = "tcp://127.0.0.1:1883"
)

type Config struct { //nolint:maligned
	Host              string `hcl:"host"`
	Port              int    `hcl:"port"`
	SourceID          int    `hcl:"source_id"`
	RetrySec          int    `hcl:"retry_sec"`
	TickRate          int    `hcl:"tick_rate"`
	LogDebug          bool   `hcl:"log_debug"`
	Foreground        bool   `hcl:"foreground"`
	Mode              string `hcl:"mode"`
	Source            string `hcl:"source"`
	SpoolPath         string `hcl:"spool_path"`
	ReadLimit         int    `hcl:"read_limit"`
	PayloadLimit      int    `hcl:"payload_limit"`
	PollMs            int    `hcl:"poll_ms"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	MetricsListen     string `hcl:"metrics_listen"`
	Mqtt              struct {
		Broker string `hcl:"broker"`
		Topic  string `hcl:"topic"`
	} `hcl:"mqtt"`
}

func Default() Config {
	c := Config{Foreground: true}
	_ = c.Normalize()
	return c
}

// Normalize fills zero values with defaults, then validates.
func (c *Config) Normalize() error {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.SourceID == 0 {
		c.SourceID = defaultSourceID
	}
	if c.RetrySec == 0 {
		c.RetrySec = defaultRetrySec
	}
	if c.TickRate == 0 {
		c.TickRate = defaultTickRate
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.PayloadLimit == 0 {
		c.PayloadLimit = defaultPayloadLimit
	}
	if c.PollMs == 0 {
		c.PollMs = defaultPollMs
	}
	if c.NetworkTimeoutSec == 0 {
		c.NetworkTimeoutSec = defaultNetTimeout
	}
	c.Mode = strings.ToLower(c.Mode)
	if c.Mode == "" {
		c.Mode = ModeThread
	}
	c.Source = strings.ToLower(c.Source)
	if c.Source == "" {
		c.Source = SourceMemory
	}
	if c.SpoolPath == "" {
		c.SpoolPath = defaultSpoolPath
	}
	if c.Mqtt.Broker == "" {
		c.Mqtt.Broker = defaultMqttBroker
	}
	if c.Mqtt.Topic == "" {
		c.Mqtt.Topic = c.DefaultTopic()
	}
	return c.validate()
}

func (c *Config) validate() error {
	errs := make([]error, 0, 4)
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.NotValidf("tracker.port=%d", c.Port))
	}
	if c.TickRate < 0 {
		errs = append(errs, errors.NotValidf("tracker.tick_rate=%d", c.TickRate))
	}
	if c.RetrySec < 0 {
		errs = append(errs, errors.NotValidf("tracker.retry_sec=%d", c.RetrySec))
	}
	if c.ReadLimit < 2 {
		errs = append(errs, errors.NotValidf("tracker.read_limit=%d", c.ReadLimit))
	}
	if c.PayloadLimit < 0 {
		errs = append(errs, errors.NotValidf("tracker.payload_limit=%d", c.PayloadLimit))
	}
	switch c.Mode {
	case ModeThread, ModeProcess:
	default:
		errs = append(errs, errors.NotValidf("tracker.mode=%s", c.Mode))
	}
	switch c.Source {
	case SourceMemory, SourceSpool, SourceMQTT:
	default:
		errs = append(errs, errors.NotValidf("tracker.source=%s", c.Source))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) DefaultTopic() string {
	return "trackrelay/" + strconv.Itoa(c.SourceID) + "/out"
}

func (c *Config) RetryDelay() time.Duration {
	return helpers.IntSecondDefault(c.RetrySec, 600*time.Second)
}
func (c *Config) PollTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.PollMs, time.Millisecond)
}
func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, 30*time.Second)
}
