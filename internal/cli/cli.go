package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vk/litweave/internal/app"
	"github.com/vk/litweave/internal/cache"
	lperrors "github.com/vk/litweave/internal/errors"
)

// Version is the release version, set at link time.
var Version = "dev"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Configuration keys, shared by flags, environment and config file.
const (
	keyConfig         = "config"
	keyLogLevel       = "log-level"
	keyLogFormat      = "log-format"
	keyCacheDir       = "cache-dir"
	keyNoCache        = "no-cache"
	keyCompression    = "compression"
	keyExtensions     = "extensions"
	keyMetricsPort    = "metrics-port"
	keySessionTimeout = "session-timeout"
	keyInputDelay     = "input-delay"
	keyWatchInterval  = "watch-interval"
)

// Run executes the command line args, writing results to outW and logs to
// errW. Failures are returned as *ExitError.
func Run(ctx context.Context, args []string, outW, errW io.Writer) error {
	root := NewRootCommand(outW, errW)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return toExitError(err)
	}
	return nil
}

// toExitError maps coded errors to their exit code. Anything else comes
// from argument parsing and is a usage error.
func toExitError(err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if _, ok := lperrors.As(err); ok {
		return &ExitError{Code: lperrors.ExitCode(err), Message: err.Error()}
	}
	return &ExitError{Code: 2, Message: err.Error()}
}

// NewRootCommand builds the command tree. Each call gets its own viper
// instance, so commands never share configuration state.
func NewRootCommand(outW, errW io.Writer) *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "litweave",
		Short: "Build artifacts and session transcripts from literate documents",
		Long: `litweave reads Markdown documents, runs their fenced blocks as raw text,
output files or interactive sessions, and writes the declared artifacts.
Session results are cached per project so unchanged documents rebuild
without running anything.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cmd)
		},
	}
	root.SetOut(outW)
	root.SetErr(errW)

	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "config file (default is ./.litweave.yaml)")
	flags.String(keyLogLevel, "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flags.String(keyLogFormat, "text", "Log output format. Options: 'text' or 'json'.")
	flags.String(keyCacheDir, "", "Cache root directory (default is the user cache directory).")
	flags.Bool(keyNoCache, false, "Run every session, neither reading nor writing the cache.")
	flags.String(keyCompression, cache.CodecZstd, "Blob compression. Options: 'zstd', 'snappy', 'none'.")
	flags.StringSlice(keyExtensions, []string{".md", ".markdown"}, "Document extensions searched in directories.")
	flags.Int(keyMetricsPort, 0, "Port for the /health and /metrics server. 0 is disabled.")
	flags.Duration(keySessionTimeout, 9*time.Second, "Default session timeout.")
	flags.Duration(keyInputDelay, 10*time.Millisecond, "Default delay between session input lines.")
	flags.Duration(keyWatchInterval, app.DefaultWatchInterval, "Polling interval of watch mode.")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: 2, Message: err.Error()}
	})

	root.AddCommand(
		newBuildCommand(v, outW, errW),
		newWatchCommand(v, errW),
		newManifestCommand(v, outW, errW),
		newVersionCommand(outW),
	)
	return root
}

// initConfig binds flags, LITWEAVE_* environment variables and the config
// file into v.
func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("litweave")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString(keyConfig); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".litweave")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// A missing default config file is fine; a broken or missing explicit one is not.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return lperrors.Wrap(lperrors.EUsage, "failed to read configuration", err)
		}
	}
	return nil
}

// newApp validates the configuration held by v and creates the app.
func newApp(v *viper.Viper, args []string, errW io.Writer) (*app.App, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	cfg, err := app.NewConfig(app.Config{
		Paths:          args,
		LogLevel:       v.GetString(keyLogLevel),
		LogFormat:      v.GetString(keyLogFormat),
		CacheDir:       v.GetString(keyCacheDir),
		NoCache:        v.GetBool(keyNoCache),
		Compression:    v.GetString(keyCompression),
		Extensions:     v.GetStringSlice(keyExtensions),
		MetricsPort:    v.GetInt(keyMetricsPort),
		SessionTimeout: v.GetDuration(keySessionTimeout),
		InputDelay:     v.GetDuration(keyInputDelay),
		WatchInterval:  v.GetDuration(keyWatchInterval),
	})
	if err != nil {
		return nil, err
	}
	return app.NewApp(errW, cfg, app.WithErrorWriter(errW)), nil
}

func newBuildCommand(v *viper.Viper, outW, errW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "build [paths...]",
		Short: "Build every identifier of the documents once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, args, errW)
			if err != nil {
				return err
			}
			a.Start()
			defer a.Close()

			summary, err := a.Build(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(outW, "Built %d identifier(s) from %d document(s) in %d pass(es), %d session(s) run, %s.\n",
				summary.Identifiers, summary.Documents, summary.Passes, summary.SessionsRun,
				summary.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newWatchCommand(v *viper.Viper, errW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Rebuild whenever a document changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, args, errW)
			if err != nil {
				return err
			}
			a.Start()
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Watch(ctx)
		},
	}
}

func newManifestCommand(v *viper.Viper, outW, errW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest [paths...]",
		Short: "List the cached session results of the documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, args, errW)
			if err != nil {
				return err
			}
			dir, err := a.CacheDir(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := cache.ReadManifest(dir)
			if err != nil {
				return lperrors.Wrap(lperrors.ECacheCorrupt, "failed to read cache manifest", err)
			}
			return printManifest(outW, dir, entries, time.Now())
		},
	}
}

// printManifest writes entries as an aligned table, newest first.
func printManifest(w io.Writer, dir string, entries []cache.Entry, now time.Time) error {
	fmt.Fprintf(w, "Cache: %s (%d entries)\n", dir, len(entries))
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tRUNTIME\tSIZE\tDIGEST\tDOCUMENT\tDESCRIPTION")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		created := e.Created
		if t, err := time.ParseInLocation(cache.TimeLayout, e.Created, time.UTC); err == nil {
			created = humanize.RelTime(t, now, "ago", "from now")
		}
		doc, err := url.PathUnescape(e.DocPath)
		if err != nil {
			doc = e.DocPath
		}
		digest := e.CaptureDigest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			created,
			time.Duration(e.RuntimeMS)*time.Millisecond,
			humanize.Bytes(uint64(e.CaptureSize)),
			digest, doc, e.Description)
	}
	return tw.Flush()
}

func newVersionCommand(outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(outW, "litweave %s\n", Version)
		},
	}
}
