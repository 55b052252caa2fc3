package server

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/kuar-io/kuar/server/protocol"
)

const (
	// DefaultDataDir is the directory holding the users tree if one is not
	// specified.
	DefaultDataDir = "."

	// DefaultMaxPacket is the read size `kuar dial` uses for server packets.
	DefaultMaxPacket = 64 * 1024
)

const (
	defaultCacheSize = 128
)

// knownSettings are the config file keys understood by NewConfig.
var knownSettings = map[string]struct{}{
	"data.dir":                {},
	"log.level":               {},
	"log.silent":              {},
	"protocol.strict.padding": {},
	"protocol.send.delay":     {},
	"protocol.max.packet":     {},
	"store.cache.size":        {},
	"store.encryption":        {},
}

// ProtocolConfig contains settings for the session transport.
type ProtocolConfig struct {
	StrictPadding bool
	SendDelay     time.Duration
	MaxPacket     int
}

// Transport returns the transport settings.
func (p ProtocolConfig) Transport() protocol.Config {
	return protocol.Config{
		StrictPadding: p.StrictPadding,
		SendDelay:     p.SendDelay,
	}
}

// StoreConfig contains settings for the user store.
type StoreConfig struct {
	CacheSize  int
	Encryption bool
}

// Config contains all settings for a kuar server.
type Config struct {
	DataDir   string
	LogLevel  uint32
	LogSilent bool
	Protocol  ProtocolConfig
	Store     StoreConfig
}

// NewDefaultConfig creates a new Config with default settings.
func NewDefaultConfig() *Config {
	config := &Config{DataDir: DefaultDataDir}
	config.LogLevel = uint32(log.InfoLevel)
	config.Protocol.SendDelay = protocol.DefaultSendDelay
	config.Protocol.MaxPacket = DefaultMaxPacket
	config.Store.CacheSize = defaultCacheSize
	return config
}

// String returns a human-readable summary of the settings.
func (c Config) String() string {
	return fmt.Sprintf("[Data: %s, Strict padding: %t, Send delay: %s, Max packet: %s, Cache: %d, Encryption: %t]",
		c.DataDir, c.Protocol.StrictPadding, durafmt.Parse(c.Protocol.SendDelay),
		humanize.IBytes(uint64(c.Protocol.MaxPacket)), c.Store.CacheSize, c.Store.Encryption)
}

// GetLogLevel converts the level string to its corresponding int value. It
// returns an error if the level is invalid.
func GetLogLevel(level string) (uint32, error) {
	var l uint32
	switch strings.ToLower(level) {
	case "debug":
		l = uint32(log.DebugLevel)
	case "info":
		l = uint32(log.InfoLevel)
	case "warn":
		l = uint32(log.WarnLevel)
	case "error":
		l = uint32(log.ErrorLevel)
	default:
		return 0, fmt.Errorf("Invalid log.level setting %q", level)
	}
	return l, nil
}

// NewConfig creates a new Config with default settings and applies any
// settings from the given configuration file. An empty path returns the
// defaults.
func NewConfig(configFile string) (*Config, error) {
	config := NewDefaultConfig()
	if configFile == "" {
		return config, nil
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
	}

	if err := checkSettings(v); err != nil {
		return nil, err
	}

	if v.IsSet("data.dir") {
		config.DataDir = v.GetString("data.dir")
	}

	if v.IsSet("log.level") {
		levelInt, err := GetLogLevel(v.GetString("log.level"))
		if err != nil {
			return nil, err
		}
		config.LogLevel = levelInt
	}

	if v.IsSet("log.silent") {
		config.LogSilent = v.GetBool("log.silent")
	}

	if err := parseProtocolConfig(config, v); err != nil {
		return nil, err
	}

	if err := parseStoreConfig(config, v); err != nil {
		return nil, err
	}

	return config, nil
}

// checkSettings returns an error naming any key NewConfig does not know.
func checkSettings(v *viper.Viper) error {
	var unknown []string
	for _, key := range v.AllKeys() {
		if _, ok := knownSettings[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("Unknown settings %s", strings.Join(unknown, ", "))
	}
	return nil
}

// parseProtocolConfig parses the `protocol` section of a config file and
// populates the given Config.
func parseProtocolConfig(config *Config, v *viper.Viper) error {
	if v.IsSet("protocol.strict.padding") {
		config.Protocol.StrictPadding = v.GetBool("protocol.strict.padding")
	}

	if v.IsSet("protocol.send.delay") {
		dur, err := time.ParseDuration(v.GetString("protocol.send.delay"))
		if err != nil {
			return errors.Wrap(err, "invalid protocol.send.delay")
		}
		if dur < 0 {
			return fmt.Errorf("Invalid protocol.send.delay %s", dur)
		}
		config.Protocol.SendDelay = dur
	}

	if v.IsSet("protocol.max.packet") {
		max := v.GetInt("protocol.max.packet")
		if max < protocol.BlockSize {
			return fmt.Errorf("Invalid protocol.max.packet %d, must be at least %d", max, protocol.BlockSize)
		}
		config.Protocol.MaxPacket = max
	}
	return nil
}

// parseStoreConfig parses the `store` section of a config file and populates
// the given Config.
func parseStoreConfig(config *Config, v *viper.Viper) error {
	if v.IsSet("store.cache.size") {
		size := v.GetInt("store.cache.size")
		if size < 0 {
			return fmt.Errorf("Invalid store.cache.size %d", size)
		}
		config.Store.CacheSize = size
	}

	if v.IsSet("store.encryption") {
		config.Store.Encryption = v.GetBool("store.encryption")
	}
	return nil
}
