// Package config loads the engine's tunables from flags, environment
// variables and an optional config file (spec §6), the way the
// teacher's cli/multicluster commands bind cobra/pflag flags — here
// widened to spf13/viper so the *_Per timer tunables can hot-reload
// without a restart.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable spec §6 names.
type Config struct {
	Mode             string        `mapstructure:"mode"`              // RTPS_Mode: "stateless" or "stateful"
	StatelessRetries int           `mapstructure:"stateless-retries"` // RTPS_StatelessRetries
	ResendPeriod     time.Duration `mapstructure:"resend-period"`     // RTPS_ResendPer
	HeartbeatPeriod  time.Duration `mapstructure:"heartbeat-period"`  // RTPS_HeartbeatPer
	NackRespTime     time.Duration `mapstructure:"nack-resp-time"`    // RTPS_NackRespTime
	NackSuppTime     time.Duration `mapstructure:"nack-supp-time"`    // RTPS_NackSuppTime
	LeaseTime        time.Duration `mapstructure:"lease-time"`        // RTPS_LeaseTime
	HeartbeatResp    time.Duration `mapstructure:"heartbeat-resp"`    // RTPS_HeartbeatResp
	HeartbeatSupp    time.Duration `mapstructure:"heartbeat-supp"`    // RTPS_HeartbeatSupp
	MsgSize          int           `mapstructure:"msg-size"`          // RTPS_MsgSize
	FragSize         int           `mapstructure:"frag-size"`         // RTPS_FragSize
	FragBurst        int           `mapstructure:"frag-burst"`        // RTPS_FragBurst
	FragDelay        time.Duration `mapstructure:"frag-delay"`        // RTPS_FragDelay
	IPNoMCast        bool          `mapstructure:"ip-no-mcast"`       // IP_NoMCast
	Forward          string        `mapstructure:"forward"`           // Forward: address of a unicast relay
}

// Default returns the tunables' out-of-the-box values, chosen to match
// spec §6's stated defaults for a conservative LAN deployment.
func Default() Config {
	return Config{
		Mode:             "stateful",
		StatelessRetries: 3,
		ResendPeriod:     2 * time.Second,
		HeartbeatPeriod:  1 * time.Second,
		NackRespTime:     10 * time.Millisecond,
		NackSuppTime:     0,
		LeaseTime:        10 * time.Second,
		HeartbeatResp:    500 * time.Millisecond,
		HeartbeatSupp:    0,
		MsgSize:          1456,
		FragSize:         1344,
		FragBurst:        8,
		FragDelay:        0,
		IPNoMCast:        false,
		Forward:          "",
	}
}

// AddFlags registers every tunable on fs, pre-filled with d's values —
// mirrors the teacher's cmd.Flags().XxxVar(&field, name, default, help)
// convention.
func AddFlags(fs *pflag.FlagSet, d *Config) {
	fs.StringVar(&d.Mode, "mode", d.Mode, "writer/reader state-machine mode: stateless or stateful")
	fs.IntVar(&d.StatelessRetries, "stateless-retries", d.StatelessRetries, "stateless-reliable writer retry budget")
	fs.DurationVar(&d.ResendPeriod, "resend-period", d.ResendPeriod, "stateless-reliable writer full-resend period")
	fs.DurationVar(&d.HeartbeatPeriod, "heartbeat-period", d.HeartbeatPeriod, "stateful-reliable writer periodic heartbeat period")
	fs.DurationVar(&d.NackRespTime, "nack-resp-time", d.NackRespTime, "reader's acknack response delay after a heartbeat")
	fs.DurationVar(&d.NackSuppTime, "nack-supp-time", d.NackSuppTime, "writer's nack suppression window")
	fs.DurationVar(&d.LeaseTime, "lease-time", d.LeaseTime, "SPDP participant lease duration")
	fs.DurationVar(&d.HeartbeatResp, "heartbeat-resp", d.HeartbeatResp, "alias of nack-resp-time for heartbeat-triggered acknacks")
	fs.DurationVar(&d.HeartbeatSupp, "heartbeat-supp", d.HeartbeatSupp, "writer's heartbeat suppression window")
	fs.IntVar(&d.MsgSize, "msg-size", d.MsgSize, "maximum RTPS message size in bytes")
	fs.IntVar(&d.FragSize, "frag-size", d.FragSize, "DATA_FRAG payload size in bytes")
	fs.IntVar(&d.FragBurst, "frag-burst", d.FragBurst, "fragments sent per burst before yielding")
	fs.DurationVar(&d.FragDelay, "frag-delay", d.FragDelay, "delay between fragment bursts")
	fs.BoolVar(&d.IPNoMCast, "ip-no-mcast", d.IPNoMCast, "disable multicast discovery and fall back to unicast-only")
	fs.StringVar(&d.Forward, "forward", d.Forward, "relay address to forward traffic to in addition to matched locators")
}

// Validate reports every independent tunable violation it finds, rather
// than failing fast on the first one, so a misconfigured deployment sees
// the whole list of problems in one pass (SPEC_FULL §2.2).
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Mode != "stateless" && c.Mode != "stateful" {
		result = multierror.Append(result, fmt.Errorf("mode: must be %q or %q, got %q", "stateless", "stateful", c.Mode))
	}
	if c.StatelessRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("stateless-retries: must be >= 0, got %d", c.StatelessRetries))
	}
	if c.MsgSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("msg-size: must be > 0, got %d", c.MsgSize))
	}
	if c.FragSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("frag-size: must be > 0, got %d", c.FragSize))
	}
	if c.FragSize > c.MsgSize {
		result = multierror.Append(result, fmt.Errorf("frag-size (%d) must not exceed msg-size (%d)", c.FragSize, c.MsgSize))
	}
	if c.FragBurst <= 0 {
		result = multierror.Append(result, fmt.Errorf("frag-burst: must be > 0, got %d", c.FragBurst))
	}
	if c.LeaseTime <= 0 {
		result = multierror.Append(result, fmt.Errorf("lease-time: must be > 0, got %s", c.LeaseTime))
	}
	return result.ErrorOrNil()
}

// Load reads flags already parsed into fs, overlays any config file and
// RTPS_-prefixed environment variables via viper, and returns the
// resolved Config along with the viper instance that produced it (pass
// it to WatchReload to enable hot-reload). configFile may be empty.
func Load(fs *pflag.FlagSet, configFile string) (Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("RTPS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// WatchReload installs a viper file watcher (backed by fsnotify) that
// invokes onChange with the freshly reloaded Config whenever configFile
// changes on disk, letting the *_Per timer tunables hot-reload without
// restarting the engine (SPEC_FULL §2.3).
func WatchReload(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		log.WithField("file", e.Name).Info("config: file changed, reloading")
		cfg := Default()
		if err := v.Unmarshal(&cfg); err != nil {
			log.WithError(err).Error("config: failed to unmarshal reloaded config, keeping previous values")
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
