// Package config loads framer limits from the environment. Every field is
// nullable so that unset values fall back to the defaults while malformed
// values fail loading.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/form"
	"github.com/yourusername/framer/pkg/framer/http11"
	"github.com/yourusername/framer/pkg/framer/multipart"
	"github.com/yourusername/framer/pkg/framer/spool"
)

// NullDuration is a nullable time.Duration in the style of null.v3.
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// NewNullDuration is a simple helper constructor function
func NewNullDuration(d time.Duration, valid bool) NullDuration {
	return NullDuration{Duration: d, Valid: valid}
}

// NullDurationFrom returns a valid NullDuration.
func NullDurationFrom(d time.Duration) NullDuration {
	return NullDuration{Duration: d, Valid: true}
}

// UnmarshalText parses a Go duration string. Empty text is null.
func (d *NullDuration) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = NullDuration{}
		return nil
	}
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("'%s' is not a valid duration value", string(data))
	}
	*d = NullDurationFrom(v)
	return nil
}

// UnmarshalJSON accepts a duration string or null.
func (d *NullDuration) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(`null`)) {
		d.Valid = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON returns the JSON representation of d
func (d NullDuration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte(`null`), nil
	}
	return json.Marshal(d.Duration.String())
}

// Config holds every tunable limit.
type Config struct {
	// Request framing.
	MaxRequestLineSize         null.Int `json:"maxRequestLineSize" envconfig:"FRAMER_MAX_REQUEST_LINE_SIZE"`
	MaxRequestHeadersTotalSize null.Int `json:"maxRequestHeadersTotalSize" envconfig:"FRAMER_MAX_REQUEST_HEADERS_TOTAL_SIZE"`
	MaxRequestHeaderCount      null.Int `json:"maxRequestHeaderCount" envconfig:"FRAMER_MAX_REQUEST_HEADER_COUNT"`
	MaxChunkSizeLineLength     null.Int `json:"maxChunkSizeLineLength" envconfig:"FRAMER_MAX_CHUNK_SIZE_LINE_LENGTH"`
	MaxChunkSize               null.Int `json:"maxChunkSize" envconfig:"FRAMER_MAX_CHUNK_SIZE"`

	// Multipart.
	MultipartHeadersCountLimit  null.Int `json:"multipartHeadersCountLimit" envconfig:"FRAMER_MULTIPART_HEADERS_COUNT_LIMIT"`
	MultipartHeadersLengthLimit null.Int `json:"multipartHeadersLengthLimit" envconfig:"FRAMER_MULTIPART_HEADERS_LENGTH_LIMIT"`
	MultipartBodyLengthLimit    null.Int `json:"multipartBodyLengthLimit" envconfig:"FRAMER_MULTIPART_BODY_LENGTH_LIMIT"`

	// Forms.
	FormValueCountLimit  null.Int `json:"formValueCountLimit" envconfig:"FRAMER_FORM_VALUE_COUNT_LIMIT"`
	FormKeyLengthLimit   null.Int `json:"formKeyLengthLimit" envconfig:"FRAMER_FORM_KEY_LENGTH_LIMIT"`
	FormValueLengthLimit null.Int `json:"formValueLengthLimit" envconfig:"FRAMER_FORM_VALUE_LENGTH_LIMIT"`

	// Body spooling.
	MemoryThreshold null.Int    `json:"memoryThreshold" envconfig:"FRAMER_MEMORY_THRESHOLD"`
	BufferLimit     null.Int    `json:"bufferLimit" envconfig:"FRAMER_BUFFER_LIMIT"`
	TempDir         null.String `json:"tempDir" envconfig:"FRAMER_TEMP_DIR"`

	// Connections.
	ReadTimeout      NullDuration `json:"readTimeout" envconfig:"FRAMER_READ_TIMEOUT"`
	KeepAliveTimeout NullDuration `json:"keepAliveTimeout" envconfig:"FRAMER_KEEP_ALIVE_TIMEOUT"`
	MaxRequests      null.Int     `json:"maxRequests" envconfig:"FRAMER_MAX_REQUESTS"`
}

// NewConfig returns the defaults. Default fields are not Valid, so Apply
// lets any explicitly set value win.
func NewConfig() Config {
	return Config{
		MaxRequestLineSize:         null.NewInt(http11.DefaultMaxRequestLineSize, false),
		MaxRequestHeadersTotalSize: null.NewInt(http11.DefaultMaxRequestHeadersTotalSize, false),
		MaxRequestHeaderCount:      null.NewInt(http11.DefaultMaxRequestHeaderCount, false),
		MaxChunkSizeLineLength:     null.NewInt(http11.DefaultMaxChunkSizeLineLength, false),
		MaxChunkSize:               null.NewInt(http11.DefaultMaxChunkSize, false),

		MultipartHeadersCountLimit:  null.NewInt(multipart.DefaultHeadersCountLimit, false),
		MultipartHeadersLengthLimit: null.NewInt(multipart.DefaultHeadersLengthLimit, false),

		FormValueCountLimit:  null.NewInt(form.DefaultValueCountLimit, false),
		FormKeyLengthLimit:   null.NewInt(form.DefaultKeyLengthLimit, false),
		FormValueLengthLimit: null.NewInt(form.DefaultValueLengthLimit, false),

		MemoryThreshold: null.NewInt(spool.DefaultMemoryThreshold, false),
		TempDir:         null.NewString(os.TempDir(), false),

		ReadTimeout:      NewNullDuration(30*time.Second, false),
		KeepAliveTimeout: NewNullDuration(60*time.Second, false),
		MaxRequests:      null.NewInt(0, false),
	}
}

// Apply returns c with every Valid field of cfg copied over.
func (c Config) Apply(cfg Config) Config {
	applyInt := func(dst *null.Int, src null.Int) {
		if src.Valid {
			*dst = src
		}
	}
	applyInt(&c.MaxRequestLineSize, cfg.MaxRequestLineSize)
	applyInt(&c.MaxRequestHeadersTotalSize, cfg.MaxRequestHeadersTotalSize)
	applyInt(&c.MaxRequestHeaderCount, cfg.MaxRequestHeaderCount)
	applyInt(&c.MaxChunkSizeLineLength, cfg.MaxChunkSizeLineLength)
	applyInt(&c.MaxChunkSize, cfg.MaxChunkSize)
	applyInt(&c.MultipartHeadersCountLimit, cfg.MultipartHeadersCountLimit)
	applyInt(&c.MultipartHeadersLengthLimit, cfg.MultipartHeadersLengthLimit)
	applyInt(&c.MultipartBodyLengthLimit, cfg.MultipartBodyLengthLimit)
	applyInt(&c.FormValueCountLimit, cfg.FormValueCountLimit)
	applyInt(&c.FormKeyLengthLimit, cfg.FormKeyLengthLimit)
	applyInt(&c.FormValueLengthLimit, cfg.FormValueLengthLimit)
	applyInt(&c.MemoryThreshold, cfg.MemoryThreshold)
	applyInt(&c.BufferLimit, cfg.BufferLimit)
	applyInt(&c.MaxRequests, cfg.MaxRequests)
	if cfg.TempDir.Valid {
		c.TempDir = cfg.TempDir
	}
	if cfg.ReadTimeout.Valid {
		c.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.KeepAliveTimeout.Valid {
		c.KeepAliveTimeout = cfg.KeepAliveTimeout
	}
	return c
}

// FromEnv reads the FRAMER_* variables through lookup. Nil means
// os.LookupEnv. A value that does not parse is an error naming the variable.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var envConfig Config
	if err := envconfig.Process("", &envConfig, lookup); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return envConfig, nil
}

// Load returns the defaults overridden by env, validated.
func Load(env map[string]string) (Config, error) {
	envConfig, err := FromEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		return Config{}, err
	}
	result := NewConfig().Apply(envConfig)
	if err := result.Validate(); err != nil {
		return Config{}, err
	}
	return result, nil
}

// Validate reports every out-of-range value.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v null.Int) {
		if v.Valid && v.Int64 <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive, got %d", name, v.Int64))
		}
	}
	positive("MaxRequestLineSize", c.MaxRequestLineSize)
	positive("MaxRequestHeadersTotalSize", c.MaxRequestHeadersTotalSize)
	positive("MaxRequestHeaderCount", c.MaxRequestHeaderCount)
	positive("MaxChunkSizeLineLength", c.MaxChunkSizeLineLength)
	positive("MaxChunkSize", c.MaxChunkSize)
	positive("MultipartHeadersCountLimit", c.MultipartHeadersCountLimit)
	positive("MultipartHeadersLengthLimit", c.MultipartHeadersLengthLimit)
	positive("MultipartBodyLengthLimit", c.MultipartBodyLengthLimit)
	positive("FormValueCountLimit", c.FormValueCountLimit)
	positive("FormKeyLengthLimit", c.FormKeyLengthLimit)
	positive("FormValueLengthLimit", c.FormValueLengthLimit)
	positive("MemoryThreshold", c.MemoryThreshold)
	positive("BufferLimit", c.BufferLimit)

	if c.MaxRequests.Int64 < 0 {
		errs = append(errs, fmt.Errorf("config: MaxRequests must not be negative, got %d", c.MaxRequests.Int64))
	}
	if c.BufferLimit.Valid && c.BufferLimit.Int64 < c.MemoryThreshold.Int64 {
		errs = append(errs, fmt.Errorf("config: BufferLimit %d is below MemoryThreshold %d",
			c.BufferLimit.Int64, c.MemoryThreshold.Int64))
	}
	if c.ReadTimeout.Duration <= 0 {
		errs = append(errs, errors.New("config: ReadTimeout must be positive"))
	}
	if c.KeepAliveTimeout.Duration <= 0 {
		errs = append(errs, errors.New("config: KeepAliveTimeout must be positive"))
	}
	if c.TempDir.String == "" {
		errs = append(errs, errors.New("config: TempDir must not be empty"))
	}
	return errors.Join(errs...)
}

// Limits returns the request framing limits.
func (c Config) Limits() http11.Limits {
	return http11.Limits{
		MaxRequestLineSize:         int(c.MaxRequestLineSize.Int64),
		MaxRequestHeadersTotalSize: int(c.MaxRequestHeadersTotalSize.Int64),
		MaxRequestHeaderCount:      int(c.MaxRequestHeaderCount.Int64),
		MaxChunkSizeLineLength:     int(c.MaxChunkSizeLineLength.Int64),
		MaxChunkSize:               c.MaxChunkSize.Int64,
	}
}

// ConnectionConfig returns the per-connection settings.
func (c Config) ConnectionConfig(logger logrus.FieldLogger, pool *framer.BufferPool) http11.ConnectionConfig {
	cc := http11.DefaultConnectionConfig()
	cc.Limits = c.Limits()
	cc.ReadTimeout = c.ReadTimeout.Duration
	cc.KeepAliveTimeout = c.KeepAliveTimeout.Duration
	cc.MaxRequests = int(c.MaxRequests.Int64)
	cc.Logger = logger
	cc.Pool = pool
	return cc
}

// MultipartOptions returns the multipart reader limits.
func (c Config) MultipartOptions(pool *framer.BufferPool) multipart.Options {
	return multipart.Options{
		HeadersCountLimit:  int(c.MultipartHeadersCountLimit.Int64),
		HeadersLengthLimit: int(c.MultipartHeadersLengthLimit.Int64),
		BodyLengthLimit:    c.MultipartBodyLengthLimit.ValueOrZero(),
		Pool:               pool,
	}
}

// FormOptions returns the urlencoded form limits.
func (c Config) FormOptions(pool *framer.BufferPool) form.Options {
	return form.Options{
		ValueCountLimit:  int(c.FormValueCountLimit.Int64),
		KeyLengthLimit:   int(c.FormKeyLengthLimit.Int64),
		ValueLengthLimit: int(c.FormValueLengthLimit.Int64),
		Pool:             pool,
	}
}

// SpoolOptions returns the body spool settings. The temp directory is
// resolved when a spool first moves to disk.
func (c Config) SpoolOptions(fs afero.Fs, logger logrus.FieldLogger, pool *framer.BufferPool) spool.Options {
	dir := c.TempDir.String
	return spool.Options{
		MemoryThreshold: int(c.MemoryThreshold.Int64),
		BufferLimit:     c.BufferLimit.ValueOrZero(),
		TempDir:         func() string { return dir },
		Fs:              fs,
		Pool:            pool,
		Logger:          logger,
	}
}
