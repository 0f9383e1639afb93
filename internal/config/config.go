// Package config loads the global TOML configuration and environment
// overrides that seed every builder's default option values.
package config

import (
	"time"

	"github.com/pelletier/go-toml"
)

// PubSubDefaults mirrors service.defaults.pubsub in the TOML file.
type PubSubDefaults struct {
	MaxPublishers                int  `toml:"max_publishers"`
	MaxSubscribers               int  `toml:"max_subscribers"`
	SubscriberMaxBufferSize      int  `toml:"subscriber_max_buffer_size"`
	SubscriberMaxBorrowedSamples int  `toml:"subscriber_max_borrowed_samples"`
	HistorySize                  int  `toml:"history_size"`
	EnableSafeOverflow           bool `toml:"enable_safe_overflow"`
	MaxNumberOfSegments          int  `toml:"max_number_of_segments"`
}

// EventDefaults mirrors service.defaults.event in the TOML file.
type EventDefaults struct {
	MaxNotifiers    int `toml:"max_notifiers"`
	MaxListeners    int `toml:"max_listeners"`
	EventIDMaxValue int `toml:"event_id_max_value"`
}

// RequestResponseDefaults mirrors service.defaults.request_response.
type RequestResponseDefaults struct {
	MaxClients                 int `toml:"max_clients"`
	MaxServers                 int `toml:"max_servers"`
	MaxActiveRequestsPerClient int `toml:"max_active_requests_per_client"`
	MaxResponseBufferSize      int `toml:"max_response_buffer_size"`
}

// ServiceConfig mirrors the [service] table.
type ServiceConfig struct {
	CreationTimeout string                  `toml:"creation_timeout"`
	PubSub          PubSubDefaults          `toml:"pubsub"`
	Event           EventDefaults           `toml:"event"`
	RequestResponse RequestResponseDefaults `toml:"request_response"`
}

// GlobalConfig mirrors the [global] table.
type GlobalConfig struct {
	RootPath string `toml:"root_path"`
	Prefix   string `toml:"prefix"`
}

// Config is the top-level TOML document.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Global  GlobalConfig  `toml:"global"`
}

// CreationTimeout parses Service.CreationTimeout, defaulting to 0 (fail
// fast) if unset or unparsable.
func (c *Config) CreationTimeout() time.Duration {
	if c.Service.CreationTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Service.CreationTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Default returns the built-in configuration used when no TOML file is
// supplied.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			CreationTimeout: "0s",
			PubSub: PubSubDefaults{
				MaxPublishers:                8,
				MaxSubscribers:               8,
				SubscriberMaxBufferSize:      8,
				SubscriberMaxBorrowedSamples: 4,
				HistorySize:                  0,
				EnableSafeOverflow:           false,
				MaxNumberOfSegments:          1,
			},
			Event: EventDefaults{
				MaxNotifiers:    8,
				MaxListeners:    8,
				EventIDMaxValue: 255,
			},
			RequestResponse: RequestResponseDefaults{
				MaxClients:                 8,
				MaxServers:                 1,
				MaxActiveRequestsPerClient: 4,
				MaxResponseBufferSize:      4,
			},
		},
		Global: GlobalConfig{
			RootPath: "/dev/shm/iox2",
			Prefix:   "iox2_",
		},
	}
}

// Load reads and parses a TOML file at path, merging it onto Default() so
// any table the file omits keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
