package types

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/containers/ipmutex/pkg/interprocess"
	"github.com/sirupsen/logrus"
)

const (
	// defaultConfigFile is the system-wide configuration file.
	defaultConfigFile = "/etc/ipmutex.conf"
	// configFileEnv overrides defaultConfigFile.
	configFileEnv = "IPMUTEX_CONF"

	// DefaultSysRoot is the root the common lock lives under.
	DefaultSysRoot = "/"
	// DefaultFallbackDir holds per-user lock directories for users who may
	// not write the system-wide lock file.
	DefaultFallbackDir = "/var/tmp"
	// DefaultTimeout is how long command-line users wait for the lock.
	DefaultTimeout = 5 * time.Second
	// DefaultPollInterval is how often timed lock requests retry.
	DefaultPollInterval = interprocess.DefaultPollInterval
)

// LockOptions configure where the common lock lives and how long to wait
// for it.
type LockOptions struct {
	// SysRoot is the root of the system whose lock is used.
	SysRoot string `json:"sysroot,omitempty"`
	// LockFile, when set, is used instead of the path derived from SysRoot.
	LockFile string `json:"lock_file,omitempty"`
	// FallbackDir is where per-user lock directories are created.
	FallbackDir string `json:"fallback_dir,omitempty"`
	// Timeout bounds waiting for the lock; zero waits forever.
	Timeout time.Duration `json:"timeout,omitempty"`
	// PollInterval is how often a waiting request retries.
	PollInterval time.Duration `json:"poll_interval,omitempty"`
}

type tomlLockConfig struct {
	SysRoot      string `toml:"sysroot,omitempty"`
	LockFile     string `toml:"lock_file,omitempty"`
	FallbackDir  string `toml:"fallback_dir,omitempty"`
	Timeout      string `toml:"timeout,omitempty"`
	PollInterval string `toml:"poll_interval,omitempty"`
}

type tomlConfig struct {
	Lock tomlLockConfig `toml:"lock"`
}

// DefaultConfigFile returns the path to the configuration file, honouring
// $IPMUTEX_CONF.
func DefaultConfigFile() string {
	if path, ok := os.LookupEnv(configFileEnv); ok {
		return path
	}
	return defaultConfigFile
}

// DefaultLockOptions returns the built-in defaults, updated from the
// configuration file if there is one.
func DefaultLockOptions() (LockOptions, error) {
	opts := LockOptions{
		SysRoot:      DefaultSysRoot,
		FallbackDir:  DefaultFallbackDir,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
	path := DefaultConfigFile()
	if err := ReloadConfigurationFile(path, &opts); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.Debugf("no configuration file %q, using defaults", path)
			return opts, nil
		}
		return opts, err
	}
	return opts, nil
}

// ReloadConfigurationFile updates opts with the settings found in
// configFile.  Settings the file does not mention are left alone; unknown
// keys are logged and ignored.
func ReloadConfigurationFile(configFile string, opts *LockOptions) error {
	config := new(tomlConfig)

	meta, err := toml.DecodeFile(configFile, config)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("decoding configuration file %q: %w", configFile, err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		logrus.Warningf("Failed to decode the keys %q from %q", keys, configFile)
	}

	if config.Lock.SysRoot != "" {
		opts.SysRoot = config.Lock.SysRoot
	}
	if config.Lock.LockFile != "" {
		opts.LockFile = config.Lock.LockFile
	}
	if config.Lock.FallbackDir != "" {
		opts.FallbackDir = config.Lock.FallbackDir
	}
	if config.Lock.Timeout != "" {
		d, err := parseDuration("lock.timeout", config.Lock.Timeout, configFile)
		if err != nil {
			return err
		}
		opts.Timeout = d
	}
	if config.Lock.PollInterval != "" {
		d, err := parseDuration("lock.poll_interval", config.Lock.PollInterval, configFile)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("%s in %q must be positive, got %q", "lock.poll_interval", configFile, config.Lock.PollInterval)
		}
		opts.PollInterval = d
	}
	return nil
}

func parseDuration(key, value, configFile string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s in %q: %w", key, configFile, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s in %q must not be negative, got %q", key, configFile, value)
	}
	return d, nil
}
