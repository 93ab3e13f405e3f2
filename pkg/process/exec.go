// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package process ties together the pieces every forrst binary shares:
// flag-configured logging, viper-backed configuration, and a root context
// that ends on SIGINT/SIGTERM.
package process

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultConfigPath returns the default config file location for a named
// binary: ~/.forrst/<name>.yaml.
func DefaultConfigPath(name string) (string, error) {
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".forrst", fmt.Sprintf("%s.yaml", name)), nil
}

func defaultConfigPath(name string) string {
	path, err := DefaultConfigPath(name)
	if err != nil {
		log.Println(err)
		return filepath.Join(".forrst", fmt.Sprintf("%s.yaml", name))
	}
	return path
}

// Execute runs a *cobra.Command with process-wide configuration: a config
// file, environment variables prefixed FORRST, and the logging flags.
func Execute(cmd *cobra.Command) {
	cfgFile := flag.String("config", defaultConfigPath(cmd.Name()), "config file")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cobra.OnInitialize(func() {
		_ = viper.BindPFlags(cmd.Flags())
		viper.SetEnvPrefix("forrst")
		viper.AutomaticEnv()
		if *cfgFile != "" {
			viper.SetConfigFile(*cfgFile)
			_ = viper.ReadInConfig()
		}
	})

	Must(cmd.Execute())
}

// Ctx returns a context that is cancelled when the process receives
// SIGINT or SIGTERM.
func Ctx(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signals:
			log.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Must is the default fatal error handling for command entry points.
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
