package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/config"
)

// rootCommand keeps the state shared by every subcommand.
type rootCommand struct {
	ctx    context.Context
	logger *logrus.Logger
	fs     afero.Fs
	env    map[string]string
	pool   *framer.BufferPool

	cmd       *cobra.Command
	cfg       config.Config
	verbose   bool
	logFormat string
}

func newRootCommand(ctx context.Context, logger *logrus.Logger, fs afero.Fs, env map[string]string) *rootCommand {
	c := &rootCommand{
		ctx:    ctx,
		logger: logger,
		fs:     fs,
		env:    env,
		pool:   framer.DefaultPool(),
	}
	c.cmd = &cobra.Command{
		Use:               "framer",
		Short:             "HTTP/1.x message framing and decoding",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.PersistentFlags().AddFlagSet(c.rootCmdPersistentFlagSet())
	c.cmd.AddCommand(newParseCommand(c), newServeCommand(c))
	return c
}

func (c *rootCommand) rootCmdPersistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&c.logFormat, "log-format", "text", "log format: text or json")

	flags.Int64("max-request-line-size", 0, "request line limit in bytes, CRLF included")
	flags.Int64("max-request-headers-total-size", 0, "header block limit in bytes")
	flags.Int64("max-request-header-count", 0, "maximum number of header lines")
	flags.Int64("memory-threshold", 0, "bytes kept in memory before a body is spooled to disk")
	flags.Int64("buffer-limit", 0, "maximum spooled body size")
	flags.String("temp-dir", "", "directory for spooled bodies")
	flags.Duration("read-timeout", 0, "time allowed to receive a request")
	flags.Duration("keep-alive-timeout", 0, "idle time allowed between requests")
	flags.Int64("max-requests", 0, "requests per connection, 0 for unlimited")
	return flags
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	if c.verbose {
		c.logger.SetLevel(logrus.DebugLevel)
	}
	switch c.logFormat {
	case "text":
	case "json":
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", c.logFormat)
	}

	cfg, err := config.Load(c.env)
	if err != nil {
		return err
	}
	cfg = cfg.Apply(configFromFlags(cmd.Flags()))
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger.WithField("limits", fmt.Sprintf("%+v", cfg.Limits())).Debug("Configuration loaded")
	return nil
}

// configFromFlags returns a Config in which only changed flags are Valid.
func configFromFlags(flags *pflag.FlagSet) config.Config {
	return config.Config{
		MaxRequestLineSize:         getNullInt64(flags, "max-request-line-size"),
		MaxRequestHeadersTotalSize: getNullInt64(flags, "max-request-headers-total-size"),
		MaxRequestHeaderCount:      getNullInt64(flags, "max-request-header-count"),
		MemoryThreshold:            getNullInt64(flags, "memory-threshold"),
		BufferLimit:                getNullInt64(flags, "buffer-limit"),
		TempDir:                    getNullString(flags, "temp-dir"),
		ReadTimeout:                getNullDuration(flags, "read-timeout"),
		KeepAliveTimeout:           getNullDuration(flags, "keep-alive-timeout"),
		MaxRequests:                getNullInt64(flags, "max-requests"),
	}
}

func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

func getNullDuration(flags *pflag.FlagSet, key string) config.NullDuration {
	v, err := flags.GetDuration(key)
	if err != nil {
		panic(err)
	}
	return config.NewNullDuration(v, flags.Changed(key))
}

func (c *rootCommand) inspector() *inspector {
	return &inspector{cfg: c.cfg, fs: c.fs, pool: c.pool, logger: c.logger}
}
