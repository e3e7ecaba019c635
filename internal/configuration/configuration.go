// Package configuration implements the application settings, read from an
// optional dotenv-style file and overridden by command-line flags.
package configuration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Keys of the configuration file.
const (
	KeySource            = "MIRRORD_SOURCE"
	KeyReplica           = "MIRRORD_REPLICA"
	KeyInterval          = "MIRRORD_INTERVAL"
	KeyLogFile           = "MIRRORD_LOG_FILE"
	KeyThreshold         = "MIRRORD_THRESHOLD"
	KeyExclude           = "MIRRORD_EXCLUDE"
	KeyJournalDir        = "MIRRORD_JOURNAL_DIR"
	KeyLockDir           = "MIRRORD_LOCK_DIR"
	KeyModifyWindow      = "MIRRORD_MODIFY_WINDOW"
	KeySpaceFloor        = "MIRRORD_SPACE_FLOOR"
	KeySkipInUse         = "MIRRORD_SKIP_IN_USE"
	KeyPreserveOwnership = "MIRRORD_PRESERVE_OWNERSHIP"
)

const (
	// DefaultIntervalMinutes is the default amount of minutes between passes.
	DefaultIntervalMinutes = 1

	// DefaultThreshold is the default amount of failed operations a pass
	// tolerates before it is rolled back.
	DefaultThreshold = 10
)

type genericConfigProvider interface {
	Read(filenames ...string) (envMap map[string]string, err error)
}

// Config is the principal structure holding the application configuration.
type Config struct {
	Source            string
	Replica           string
	IntervalMinutes   int
	LogFile           string
	Threshold         int
	Excludes          []string
	JournalDir        string
	LockDir           string
	ModifyWindow      time.Duration
	SpaceFloor        uint64
	SkipInUse         bool
	PreserveOwnership bool
}

// NewConfig returns a pointer to a new [Config] holding the defaults.
func NewConfig() *Config {
	return &Config{
		IntervalMinutes: DefaultIntervalMinutes,
		Threshold:       DefaultThreshold,
	}
}

// Interval returns the interval as a [time.Duration].
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Validate checks the [Config] for values the application cannot run with.
func (c *Config) Validate() error {
	if c.Source == "" || c.Replica == "" {
		return fmt.Errorf("(config) %w", ErrMissingPaths)
	}

	if c.IntervalMinutes < 1 {
		return fmt.Errorf("(config) %w: %d", ErrInvalidInterval, c.IntervalMinutes)
	}

	if c.Threshold < 0 {
		return fmt.Errorf("(config) %w: %d", ErrInvalidThreshold, c.Threshold)
	}

	if c.ModifyWindow < 0 {
		return fmt.Errorf("(config) %w: %v", ErrInvalidWindow, c.ModifyWindow)
	}

	return nil
}

// Handler is the principal implementation for the configuration services.
type Handler struct {
	genericHandler genericConfigProvider
}

// NewHandler returns a pointer to a new [Handler].
func NewHandler(genericHandler genericConfigProvider) *Handler {
	return &Handler{
		genericHandler: genericHandler,
	}
}

// Load reads the configuration files into a [Config], only overwriting the
// settings that are present in the files.
func (c *Handler) Load(cfg *Config, filenames ...string) error {
	envMap, err := c.genericHandler.Read(filenames...)
	if err != nil {
		return fmt.Errorf("(config) failed to read: %w", err)
	}

	return c.apply(cfg, envMap)
}

//nolint:cyclop
func (c *Handler) apply(cfg *Config, envMap map[string]string) error {
	var err error

	if value, ok := MapKeyToString(envMap, KeySource); ok {
		cfg.Source = value
	}

	if value, ok := MapKeyToString(envMap, KeyReplica); ok {
		cfg.Replica = value
	}

	if value, ok := MapKeyToString(envMap, KeyLogFile); ok {
		cfg.LogFile = value
	}

	if value, ok := MapKeyToString(envMap, KeyJournalDir); ok {
		cfg.JournalDir = value
	}

	if value, ok := MapKeyToString(envMap, KeyLockDir); ok {
		cfg.LockDir = value
	}

	if value, ok := MapKeyToString(envMap, KeyExclude); ok {
		cfg.Excludes = SplitList(value)
	}

	if cfg.IntervalMinutes, err = mapKeyToInt(envMap, KeyInterval, cfg.IntervalMinutes); err != nil {
		return err
	}

	if cfg.Threshold, err = mapKeyToInt(envMap, KeyThreshold, cfg.Threshold); err != nil {
		return err
	}

	if value, ok := MapKeyToString(envMap, KeyModifyWindow); ok {
		window, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("(config) %w: %s: %w", ErrInvalidValue, KeyModifyWindow, err)
		}
		cfg.ModifyWindow = window
	}

	if value, ok := MapKeyToString(envMap, KeySpaceFloor); ok {
		floor, err := humanize.ParseBytes(value)
		if err != nil {
			return fmt.Errorf("(config) %w: %s: %w", ErrInvalidValue, KeySpaceFloor, err)
		}
		cfg.SpaceFloor = floor
	}

	if cfg.SkipInUse, err = mapKeyToBool(envMap, KeySkipInUse, cfg.SkipInUse); err != nil {
		return err
	}

	if cfg.PreserveOwnership, err = mapKeyToBool(envMap, KeyPreserveOwnership, cfg.PreserveOwnership); err != nil {
		return err
	}

	return nil
}

// MapKeyToString returns the trimmed value of a key, and if it was set to a
// non-empty value.
func MapKeyToString(envMap map[string]string, key string) (string, bool) {
	value, exists := envMap[key]
	if !exists {
		return "", false
	}

	value = strings.TrimSpace(value)

	return value, value != ""
}

func mapKeyToInt(envMap map[string]string, key string, fallback int) (int, error) {
	value, ok := MapKeyToString(envMap, key)
	if !ok {
		return fallback, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("(config) %w: %s: %w", ErrInvalidValue, key, err)
	}

	return intValue, nil
}

func mapKeyToBool(envMap map[string]string, key string, fallback bool) (bool, error) {
	value, ok := MapKeyToString(envMap, key)
	if !ok {
		return fallback, nil
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("(config) %w: %s: %w", ErrInvalidValue, key, err)
	}

	return boolValue, nil
}

// SplitList splits a comma separated list, dropping empty elements.
func SplitList(value string) []string {
	var list []string

	for _, element := range strings.Split(value, ",") {
		if element = strings.TrimSpace(element); element != "" {
			list = append(list, element)
		}
	}

	return list
}
