package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/solar-hot-water/internal/config"
	"github.com/sweeney/solar-hot-water/internal/logging"
	"github.com/sweeney/solar-hot-water/internal/mqtt"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "solar-hot-water",
	Short:         "Switch a water heater from surplus solar power",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		return run(*cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		out, err := config.Marshal(*cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Read each input once, print the decision a fresh controller would make, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		bus, err := mqtt.Dial(cfg.MQTT, logging.Component(log, "mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer bus.Close()
		return probe(bus, cfg.Controller, probeTimeout, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "how long to wait for each input")
	rootCmd.AddCommand(configCmd, probeCmd)
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}
