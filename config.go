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
	bind              string
	chatMaxLength     int
	dbPath            string
	port              int
	prefix            string
	profile           bool
	releaseCharacters bool
	sessionTimeout    time.Duration
	storiesDir        string
	tlsCert           string
	tlsKey            string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.chatMaxLength < 1 {
		return fmt.Errorf("invalid chat max length: %d", c.chatMaxLength)
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
	v.SetEnvPrefix("MYSTERYBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "mysterybox",
		Short:         "A real-time murder-mystery game server: shared sessions, exclusive characters, clues, and chat.",
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

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MYSTERYBOX_BIND)")
	fs.IntVar(&cfg.chatMaxLength, "chat-max-length", 500, "maximum chat message length in characters (env: MYSTERYBOX_CHAT_MAX_LENGTH)")
	fs.StringVar(&cfg.dbPath, "db", "", "path to sqlite file for best-effort session records, empty to disable (env: MYSTERYBOX_DB)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MYSTERYBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MYSTERYBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MYSTERYBOX_PROFILE)")
	fs.BoolVar(&cfg.releaseCharacters, "release-characters", false, "free a disconnected player's character while the session is waiting (env: MYSTERYBOX_RELEASE_CHARACTERS)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: MYSTERYBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.storiesDir, "stories", "", "directory of additional story definitions (env: MYSTERYBOX_STORIES)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MYSTERYBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MYSTERYBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MYSTERYBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MYSTERYBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mysterybox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
