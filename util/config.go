package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Name = "tusk"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host         string
		HttpPort     int    `yaml:"httpPort"`
		SslDomain    string `yaml:"sslDomain"`
		WithAp       bool   `yaml:"withAp"`
		WithJournald bool   `yaml:"withJournald"`
		WithPprof    bool   `yaml:"withPprof"`
		WithMetrics  bool   `yaml:"withMetrics"`
		DatabasePath string `yaml:"databasePath"`
	}
	Inbox InboxConfig `yaml:"inbox"`
}

// InboxConfig tunes the inbound activity engine
type InboxConfig struct {
	RealtimeWindow       time.Duration `yaml:"realtimeWindow"`
	DeleteMarkerTTL      time.Duration `yaml:"deleteMarkerTTL"`
	MoveCooldown         time.Duration `yaml:"moveCooldown"`
	MaxMediaAttachments  int           `yaml:"maxMediaAttachments"`
	PollVoteRetries      int           `yaml:"pollVoteRetries"`
	RejectReportsDomains []string      `yaml:"rejectReportsDomains"`
	MarkerBackend        string        `yaml:"markerBackend"` // pebble or memory
	MarkerPath           string        `yaml:"markerPath"`
	MarkerSweepCron      string        `yaml:"markerSweepCron"`
	Workers              int           `yaml:"workers"`
	QueueDepth           int           `yaml:"queueDepth"`
	TaskRetries          int           `yaml:"taskRetries"`
	FetchTimeout         time.Duration `yaml:"fetchTimeout"`
	MediaPath            string        `yaml:"mediaPath"`
	MaxMediaBytes        int64         `yaml:"maxMediaBytes"`
}

// RejectsReportsFrom reports whether Flags from the given domain are dropped
func (c *InboxConfig) RejectsReportsFrom(domain string) bool {
	for _, d := range c.RejectReportsDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// DefaultInboxConfig returns the engine defaults used when a value is unset
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		RealtimeWindow:      24 * time.Hour,
		DeleteMarkerTTL:     6 * time.Hour,
		MoveCooldown:        7 * 24 * time.Hour,
		MaxMediaAttachments: 9,
		PollVoteRetries:     5,
		MarkerBackend:       "pebble",
		MarkerPath:          "markers",
		MarkerSweepCron:     "*/15 * * * *",
		Workers:             4,
		QueueDepth:          1024,
		TaskRetries:         5,
		FetchTimeout:        10 * time.Second,
		MediaPath:           "media",
		MaxMediaBytes:       40 * 1024 * 1024,
	}
}

func (c *InboxConfig) applyDefaults() {
	d := DefaultInboxConfig()
	if c.RealtimeWindow <= 0 {
		c.RealtimeWindow = d.RealtimeWindow
	}
	if c.DeleteMarkerTTL <= 0 {
		c.DeleteMarkerTTL = d.DeleteMarkerTTL
	}
	if c.MoveCooldown <= 0 {
		c.MoveCooldown = d.MoveCooldown
	}
	if c.MaxMediaAttachments <= 0 {
		c.MaxMediaAttachments = d.MaxMediaAttachments
	}
	if c.PollVoteRetries <= 0 {
		c.PollVoteRetries = d.PollVoteRetries
	}
	if c.MarkerBackend == "" {
		c.MarkerBackend = d.MarkerBackend
	}
	if c.MarkerPath == "" {
		c.MarkerPath = d.MarkerPath
	}
	if c.MarkerSweepCron == "" {
		c.MarkerSweepCron = d.MarkerSweepCron
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.TaskRetries <= 0 {
		c.TaskRetries = d.TaskRetries
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.MediaPath == "" {
		c.MediaPath = d.MediaPath
	}
	if c.MaxMediaBytes <= 0 {
		c.MaxMediaBytes = d.MaxMediaBytes
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// A .env file is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.Inbox.applyDefaults()

	return c, nil
}

func (c *AppConfig) applyEnv() error {
	if v := os.Getenv("TUSK_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("TUSK_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TUSK_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}

	if v := os.Getenv("TUSK_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if v := os.Getenv("TUSK_DATABASE_PATH"); v != "" {
		c.Conf.DatabasePath = v
	}

	if os.Getenv("TUSK_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}

	if os.Getenv("TUSK_WITH_JOURNALD") == "true" {
		c.Conf.WithJournald = true
	}

	if os.Getenv("TUSK_WITH_PPROF") == "true" {
		c.Conf.WithPprof = true
	}

	if os.Getenv("TUSK_WITH_METRICS") == "true" {
		c.Conf.WithMetrics = true
	}

	if v := os.Getenv("TUSK_MARKER_BACKEND"); v != "" {
		c.Inbox.MarkerBackend = v
	}

	if v := os.Getenv("TUSK_MARKER_PATH"); v != "" {
		c.Inbox.MarkerPath = v
	}

	if v := os.Getenv("TUSK_MEDIA_PATH"); v != "" {
		c.Inbox.MediaPath = v
	}

	if v := os.Getenv("TUSK_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TUSK_WORKERS: %w", err)
		}
		c.Inbox.Workers = workers
	}

	if v := os.Getenv("TUSK_REALTIME_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TUSK_REALTIME_WINDOW: %w", err)
		}
		c.Inbox.RealtimeWindow = d
	}

	if v := os.Getenv("TUSK_REJECT_REPORTS_DOMAINS"); v != "" {
		c.Inbox.RejectReportsDomains = strings.Split(v, ",")
	}

	return nil
}
