// Package cmd builds the cubeb command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/go-cubeb/cmd/duplex"
	"github.com/tphakala/go-cubeb/cmd/tone"
	"github.com/tphakala/go-cubeb/cmd/watch"
	"github.com/tphakala/go-cubeb/internal/app"
	"github.com/tphakala/go-cubeb/internal/buildinfo"
	"github.com/tphakala/go-cubeb/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
		sim        bool
		settings   = conf.Default()
	)

	rootCmd := &cobra.Command{
		Use:           "cubeb",
		Short:         "Audio unit backend test tool",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.yaml (default: ./config.yaml, ~/.config/go-cubeb/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&sim, "sim", false, "Use simulated hardware instead of real devices")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		if err := viper.BindPFlag("debug", cmd.Flags().Lookup("debug")); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
		if sim {
			viper.Set("backend.hardware", conf.HardwareSim)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	open := func() (*app.Session, error) {
		return app.Open(settings, build)
	}

	rootCmd.AddCommand(
		tone.Command(open),
		duplex.Command(open),
		watch.Command(open),
	)
	return rootCmd
}
