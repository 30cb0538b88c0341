package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/app"
	"github.com/yegors/diarscribe/internal/config"
	"github.com/yegors/diarscribe/internal/version"
	"github.com/yegors/diarscribe/pkg/logger"
)

// Dependencies is shared by every command. Config and App are filled in before a
// command runs.
type Dependencies struct {
	ConfigPath string
	LogLevel   string

	Config *config.Config
	Logger *logger.Logger
	App    *app.App

	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer

	// NewApp builds the application; tests replace it
	NewApp func(cfg *config.Config, log *logger.Logger) (*app.App, error)
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.ErrOut == nil {
		deps.ErrOut = os.Stderr
	}
	if deps.NewApp == nil {
		deps.NewApp = app.New
	}

	rootCmd := &cobra.Command{
		Use:   "diarscribe",
		Short: "Transcribe recordings with speaker labels",
		Long: "A CLI tool that splits a recording into speaker turns, transcribes every turn " +
			"and writes a plain-text transcript with named speakers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return deps.Close()
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.SetIn(deps.In)
	rootCmd.SetOut(deps.Out)
	rootCmd.SetErr(deps.ErrOut)

	rootCmd.PersistentFlags().StringVar(&deps.ConfigPath, "config", "", "Config file (default $XDG_CONFIG_HOME/diarscribe/config.toml)")
	rootCmd.PersistentFlags().StringVar(&deps.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(NewTranscribeCmd(deps))
	rootCmd.AddCommand(NewTranscribeAllCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewDescribeCmd(deps))
	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewShowCmd(deps))
	rootCmd.AddCommand(NewRenameCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}

func (d *Dependencies) load() error {
	if d.Config == nil {
		cfg, err := config.Load(d.ConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		d.Config = cfg
	}
	if d.LogLevel != "" {
		d.Config.Logging.Level = d.LogLevel
	}

	if d.Logger == nil {
		log, err := logger.New(logger.Config{
			Level:  d.Config.Logging.Level,
			Format: d.Config.Logging.Format,
			Output: d.ErrOut,
		})
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		d.Logger = log
	}

	if d.App == nil {
		application, err := d.NewApp(d.Config, d.Logger)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		d.App = application
	}
	return nil
}

// Close releases the application. It is safe to call more than once.
func (d *Dependencies) Close() error {
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
	if d.App == nil {
		return nil
	}
	err := d.App.Close()
	d.App = nil
	return err
}
