package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// binding ties one environment variable, named without the prefix, to the
// field it overrides.
type binding struct {
	name string
	set  func(raw string) error
}

func stringVar(name string, dst *string) binding {
	return binding{name: name, set: func(raw string) error {
		*dst = raw
		return nil
	}}
}

func durationVar(name string, dst *time.Duration) binding {
	return binding{name: name, set: func(raw string) error {
		value, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}}
}

func boolVar(name string, dst *bool) binding {
	return binding{name: name, set: func(raw string) error {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}}
}

func intVar(name string, dst *int) binding {
	return binding{name: name, set: func(raw string) error {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}}
}

func byteSizeVar(name string, dst *int64) binding {
	return binding{name: name, set: func(raw string) error {
		value, err := ParseByteSize(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}}
}

func logLevelVar(name string, dst *slog.Level) binding {
	return binding{name: name, set: func(raw string) error {
		switch strings.ToLower(raw) {
		case "debug":
			*dst = slog.LevelDebug
		case "info":
			*dst = slog.LevelInfo
		case "warn", "warning":
			*dst = slog.LevelWarn
		case "error":
			*dst = slog.LevelError
		default:
			return fmt.Errorf("unknown level %q", raw)
		}
		return nil
	}}
}

var byteUnits = []struct {
	suffix string
	factor int64
}{
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"GiB", 1 << 30},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"B", 1},
}

// ParseByteSize accepts a plain byte count or a count with a binary (KiB,
// MiB, GiB) or decimal (KB, MB, GB) suffix.
func ParseByteSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	factor := int64(1)
	for _, unit := range byteUnits {
		if strings.HasSuffix(raw, unit.suffix) {
			raw = strings.TrimSpace(strings.TrimSuffix(raw, unit.suffix))
			factor = unit.factor
			break
		}
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %w", err)
	}
	if value > 0 && value > (1<<63-1)/factor {
		return 0, fmt.Errorf("byte size overflows int64")
	}
	return value * factor, nil
}
