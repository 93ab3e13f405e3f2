// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"forrst.io/forrst/pkg/cancellation"
	"forrst.io/forrst/pkg/extension"
	"forrst.io/forrst/pkg/lock"
	"forrst.io/forrst/pkg/maintenance"
	"forrst.io/forrst/pkg/pipeline"
	"forrst.io/forrst/pkg/process"
	"forrst.io/forrst/pkg/quota"
	"forrst.io/forrst/pkg/ratelimit"
	"forrst.io/forrst/pkg/redact"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/retrypolicy"
	"forrst.io/forrst/pkg/server"
	"forrst.io/forrst/pkg/sysfn"
	"forrst.io/forrst/pkg/tracing"
	"forrst.io/forrst/storage"
	"forrst.io/forrst/storage/boltdb"
	"forrst.io/forrst/storage/redis"
	"forrst.io/forrst/storage/storelogger"
)

var (
	rootCmd = &cobra.Command{
		Use:   "forrst",
		Short: "forrst intra-service RPC server",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "run the forrst server",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "create a config file with the defaults",
		RunE:  cmdSetup,
	}

	runCfg struct {
		Server   server.Config
		Pipeline pipeline.Config
		StoreURL string
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)

	runCmd.Flags().StringVar(&runCfg.Server.Address, "address", ":7834", "address to listen on")
	runCmd.Flags().Int64Var(&runCfg.Server.MaxRequestSize, "max-request-size", 1<<20, "maximum accepted request body size")
	runCmd.Flags().Int64Var(&runCfg.Server.MaxResponseSize, "max-response-size", 10<<20, "maximum emitted response body size")
	runCmd.Flags().DurationVar(&runCfg.Pipeline.Deadline, "deadline", 30*time.Second, "wall-clock budget per request")
	runCmd.Flags().StringVar(&runCfg.Pipeline.ProtocolName, "protocol-name", "forrst", "protocol name emitted in response envelopes")
	runCmd.Flags().StringVar(&runCfg.Pipeline.ProtocolVersion, "protocol-version", "1.0", "protocol version emitted in response envelopes")
	runCmd.Flags().StringVar(&runCfg.StoreURL, "store", "redis://127.0.0.1:6379?db=0", "shared store url (redis:// or a bolt file path)")
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := process.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := process.Ctx(log)
	defer cancel()

	store, err := openStore(log, runCfg.StoreURL)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	functions := registry.NewFunctions()
	extensions := extension.NewRegistry()

	broker := cancellation.NewBroker(store)
	locks := lock.NewManager(store)

	core := []extension.Extension{
		tracing.New(),
		retrypolicy.New(),
		ratelimit.New(log.Named("ratelimit"), nil),
		quota.New(log.Named("quota"), nil),
		redact.New(nil),
		cancellation.NewExtension(broker),
		lock.NewExtension(locks),
	}
	for _, ext := range core {
		if err := extensions.RegisterCore(ext); err != nil {
			return err
		}
	}
	for _, desc := range extensions.Functions() {
		if err := functions.RegisterCore(desc); err != nil {
			return err
		}
	}

	provider := sysfn.New(sysfn.Capabilities{
		ProtocolName:    runCfg.Pipeline.ProtocolName,
		ProtocolVersion: runCfg.Pipeline.ProtocolVersion,
		MaxRequestSize:  int(runCfg.Server.MaxRequestSize),
		MaxResponseSize: int(runCfg.Server.MaxResponseSize),
	}, functions, extensions, map[string]storage.KeyValueStore{"shared": store})
	if err := provider.Register(); err != nil {
		return err
	}

	p, err := pipeline.New(log.Named("pipeline"), runCfg.Pipeline, functions, extensions, pipeline.Options{
		Maintenance:  maintenance.NewStore(),
		Cancellation: broker,
	})
	if err != nil {
		return err
	}

	srv := server.New(log.Named("server"), runCfg.Server, p)
	log.Info("starting server", zap.String("address", srv.Addr()))
	return srv.Run(ctx)
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	path, err := process.DefaultConfigPath("forrst")
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return errs.New("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errs.Wrap(err)
	}

	defaults := fmt.Sprintf(""+
		"address: %q\n"+
		"max-request-size: %d\n"+
		"max-response-size: %d\n"+
		"deadline: %s\n"+
		"protocol-name: %q\n"+
		"protocol-version: %q\n"+
		"store: %q\n",
		runCfg.Server.Address,
		runCfg.Server.MaxRequestSize,
		runCfg.Server.MaxResponseSize,
		runCfg.Pipeline.Deadline,
		runCfg.Pipeline.ProtocolName,
		runCfg.Pipeline.ProtocolVersion,
		runCfg.StoreURL)
	if err := os.WriteFile(path, []byte(defaults), 0o600); err != nil {
		return errs.Wrap(err)
	}
	fmt.Println("wrote", path)
	return nil
}

func openStore(log *zap.Logger, url string) (storage.KeyValueStore, error) {
	var store storage.KeyValueStore
	var err error
	if len(url) >= 8 && url[:8] == "redis://" {
		store, err = redis.NewClientFrom(url)
	} else {
		store, err = boltdb.New(url, "forrst")
	}
	if err != nil {
		return nil, err
	}
	return storelogger.New(log.Named("store"), store), nil
}

func main() {
	process.Execute(rootCmd)
}
