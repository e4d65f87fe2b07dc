package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const envPrefix = "SCREENRELAY"

var v *viper.Viper

func init() {
	v = viper.New()

	// Set default values
	v.SetDefault("device.udid", "")

	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 12345)
	v.SetDefault("relay.include_header", false)
	v.SetDefault("relay.no_audio", false)
	v.SetDefault("relay.channel_capacity", 256)
	v.SetDefault("relay.poll_interval", time.Millisecond)

	v.SetDefault("adb.port", 5037)
	v.SetDefault("adb.path", "adb")

	v.SetDefault("scrcpy.server_path", "")
	v.SetDefault("scrcpy.version", "3.3.1")
	v.SetDefault("scrcpy.video_bit_rate", 8000000)
	v.SetDefault("scrcpy.max_size", 0)
	v.SetDefault("scrcpy.accept_timeout", 20*time.Second)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.verbose", false)

	// Environment variables, e.g. SCREENRELAY_RELAY_PORT
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("device.udid", envPrefix+"_UDID", "ANDROID_SERIAL")
	v.BindEnv("adb.path", envPrefix+"_ADB_PATH", "ADB")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "screenrelay"),
		"/etc/screenrelay",
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; ignore error and use defaults
	}
}

// Config is a snapshot of the effective settings.
type Config struct {
	UDID string

	Host            string
	Port            int
	IncludeHeader   bool
	NoAudio         bool
	ChannelCapacity int
	PollInterval    time.Duration

	AdbPort int
	AdbPath string

	ServerPath    string
	ServerVersion string
	VideoBitRate  int
	MaxSize       int
	AcceptTimeout time.Duration

	MetricsAddr string
	Verbose     bool
}

// VideoAddr is the listen address of the video feed.
func (c Config) VideoAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AudioAddr is the listen address of the audio feed, one port above video.
func (c Config) AudioAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port+1)
}

// Load returns the current configuration, including bound flags.
func Load() Config {
	return Config{
		UDID:            v.GetString("device.udid"),
		Host:            v.GetString("relay.host"),
		Port:            v.GetInt("relay.port"),
		IncludeHeader:   v.GetBool("relay.include_header"),
		NoAudio:         v.GetBool("relay.no_audio"),
		ChannelCapacity: v.GetInt("relay.channel_capacity"),
		PollInterval:    v.GetDuration("relay.poll_interval"),
		AdbPort:         v.GetInt("adb.port"),
		AdbPath:         v.GetString("adb.path"),
		ServerPath:      v.GetString("scrcpy.server_path"),
		ServerVersion:   v.GetString("scrcpy.version"),
		VideoBitRate:    v.GetInt("scrcpy.video_bit_rate"),
		MaxSize:         v.GetInt("scrcpy.max_size"),
		AcceptTimeout:   v.GetDuration("scrcpy.accept_timeout"),
		MetricsAddr:     v.GetString("metrics.addr"),
		Verbose:         v.GetBool("log.verbose"),
	}
}

// Viper exposes the underlying instance so commands can bind their flags.
func Viper() *viper.Viper {
	return v
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}
