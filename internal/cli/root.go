package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/factgraph/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// v carries defaults, the config file, FACTGRAPH_* variables and the
	// bound --driver and --dsn flags.
	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the factgraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:   "factgraph",
		Short: "factgraph - content-addressed fact graph",
		Long: `Store immutable, content-addressed facts and watch the results of
queries and specifications change as new facts arrive.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default factgraph.yaml)")
	flags.String("driver", "", "storage driver (memory|sqlite|postgres)")
	flags.String("dsn", "", "storage data source name")
	_ = opts.v.BindPFlag("storage.driver", flags.Lookup("driver"))
	_ = opts.v.BindPFlag("storage.dsn", flags.Lookup("dsn"))

	cmd.AddCommand(NewSaveCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewDescribeCommand(opts))
	cmd.AddCommand(NewInvertCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig resolves the configuration. --verbose lowers the log level to
// debug.
func (o *RootOptions) loadConfig() (config.Config, error) {
	if o.v == nil {
		o.v = config.New()
	}
	cfg, err := config.Load(o.v, o.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
