// Package config resolves the session-invariant guard and buffering
// options a Stream is constructed with from a plain map[string]string
// option bag, plus an optional YAML file for batch/demo tooling. The
// wire protocol itself never sees YAML or viper; this package only
// produces the pgproto.Option values NewStream consumes.
package config

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/viper"

	"github.com/pgexec/pgproto"
)

// Options is the resolved, typed form of the option bag. Zero value is
// the same default a bare pgproto.NewStream would use.
type Options struct {
	AllowEncodingChanges bool
	BufferSize           int
	LogLevel             slog.Level
}

// Resolve reads the recognised keys out of raw, applying pgproto's
// defaults for anything absent; a value that does not parse is
// returned as an error. Recognised keys:
// "allow_encoding_changes", "buffer_size", "log_level".
func Resolve(raw map[string]string) (Options, error) {
	var opts Options

	if v, ok := raw["allow_encoding_changes"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("config: allow_encoding_changes: %w", err)
		}

		opts.AllowEncodingChanges = b
	}

	if v, ok := raw["buffer_size"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("config: buffer_size: %w", err)
		}

		opts.BufferSize = n
	}

	opts.LogLevel = slog.LevelInfo
	if v, ok := raw["log_level"]; ok {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err != nil {
			return Options{}, fmt.Errorf("config: log_level: %w", err)
		}

		opts.LogLevel = lvl
	}

	return opts, nil
}

// LoadYAML reads path (and any PGEXEC_-prefixed environment overrides,
// via viper, the same way riftdata-rift's own internal/config resolves
// settings) into a map[string]string suitable for Resolve.
func LoadYAML(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("pgexec")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	raw := map[string]string{}
	for _, key := range v.AllKeys() {
		raw[key] = v.GetString(key)
	}

	return raw, nil
}

// StreamOptions turns a resolved Options into pgproto.Option values
// ready to pass to pgproto.NewStream.
func (o Options) StreamOptions(logger *slog.Logger) []pgproto.Option {
	opts := []pgproto.Option{
		pgproto.WithAllowEncodingChanges(o.AllowEncodingChanges),
	}

	if o.BufferSize > 0 {
		opts = append(opts, pgproto.WithBufferSize(o.BufferSize))
	}

	if logger != nil {
		opts = append(opts, pgproto.WithLogger(logger))
	}

	return opts
}
