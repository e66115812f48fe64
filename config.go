package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind      string
	jwtSecret string
	logFile   string
	port      int
	prefix    string
	profile   bool
	sendQueue int
	tlsCert   string
	tlsKey    string
	tokenTTL  time.Duration
	verbose   bool
	version   bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.jwtSecret == "" {
		return errors.New("--jwt-secret must not be empty (env: MURMLE_JWT_SECRET)")
	}
	if c.sendQueue < 1 {
		return fmt.Errorf("invalid send queue size (must be at least 1): %d", c.sendQueue)
	}
	if c.tokenTTL <= 0 {
		return fmt.Errorf("invalid token ttl: %s", c.tokenTTL)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MURMLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "murmle",
		Short:         "A shared virtual-space server: grid spaces, avatars, and realtime movement sync over WebSockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MURMLE_BIND)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "HMAC secret used to sign and verify session tokens (env: MURMLE_JWT_SECRET)")
	fs.StringVar(&cfg.logFile, "log-file", "murmle.log", "rolling log file path, empty to log to stderr only (env: MURMLE_LOG_FILE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MURMLE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MURMLE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MURMLE_PROFILE)")
	fs.IntVar(&cfg.sendQueue, "send-queue", 32, "outbound message buffer per connection; overflow disconnects the laggard (env: MURMLE_SEND_QUEUE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MURMLE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MURMLE_TLS_KEY)")
	fs.DurationVar(&cfg.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of issued session tokens (env: MURMLE_TOKEN_TTL)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MURMLE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MURMLE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("murmle v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
