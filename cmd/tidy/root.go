package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/tidy/pkg/tidy/config"
	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
)

// skipConfig marks commands that must work without a valid config file.
const skipConfig = "skip-config"

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "tidy",
		Short: "Organize documents into categories, with an undoable ledger",
		Long: `Tidy sorts documents into category folders by their names and contents,
handles duplicates, and records every change in a ledger so it can be
inspected and undone.

Examples:
  tidy organize ~/Documents          # Organize a folder
  tidy organize -n ~/Downloads       # Preview without changing anything
  tidy dupes ~/Documents             # List duplicate groups
  tidy categorize report.pdf         # Show how one file would be filed
  tidy history ~/Documents/a.pdf     # Ledger history for a path
  tidy undo                          # Undo the most recent change
  tidy -o json stats                 # Ledger statistics as JSON`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  bootstrap,
		PersistentPostRunE: func(*cobra.Command, []string) error { return logging.Close() },
	}
)

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/tidy/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", fmt.Sprintf("output format (%s)", strings.Join(output.Available(), ", ")))
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "override worker count")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output on stderr")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initViper wires CLI-level settings to TIDY_ environment variables.
func initViper() {
	viper.SetEnvPrefix("TIDY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		return err
	}
	return nil
}

// bootstrap loads configuration and starts logging before any command.
func bootstrap(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}

	loaded, err := config.LoadFile(cfgFile)
	if err != nil {
		return err
	}
	if w := viper.GetInt("workers"); w > 0 {
		loaded.Workers = w
	}
	cfg = loaded

	return initializeLogging(cfg)
}

// openEngine builds an engine from the loaded configuration.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	return engine.New(ctx, cfg)
}

// withEngine runs fn with an engine that is closed afterwards. The context
// is cancelled on SIGINT or SIGTERM.
func withEngine(cmd *cobra.Command, fn func(context.Context, *engine.Engine) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printError("closing engine: %v", err)
		}
	}()

	return fn(ctx, e)
}

// render formats r with the selected formatter and writes it to the
// command's output.
func render(cmd *cobra.Command, r *output.Result) error {
	name := viper.GetString("output")
	formatter, err := output.Get(name)
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", name, output.Available())
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

// printInfo prints a message to stderr unless quiet mode is enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
