package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
	"github.com/nerrad567/gray-logic-instruments/internal/dispatch/mqttlink"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
	"github.com/nerrad567/gray-logic-instruments/internal/process"
)

// delegateService tags log entries written by worker processes.
const delegateService = "instrument-delegate"

type delegateOptions struct {
	name       string
	configPath string
}

func parseDelegateArgs(args []string, stderr io.Writer) (delegateOptions, error) {
	fs := flag.NewFlagSet("delegate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts delegateOptions
	fs.StringVar(&opts.name, "name", "", "delegate to serve")
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "configuration file")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.name == "" {
		return opts, errors.New("--name is required")
	}
	return opts, nil
}

// loadDelegateConfig loads the configuration and checks that name is a
// process-mode delegate.
func loadDelegateConfig(opts delegateOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	d, ok := cfg.Delegate(opts.name)
	if !ok {
		return nil, fmt.Errorf("delegate %q is not declared in %s", opts.name, opts.configPath)
	}
	if d.Mode != config.DelegateProcess {
		return nil, fmt.Errorf("delegate %q runs in-process, not as a worker", opts.name)
	}
	return cfg, nil
}

// runDelegate serves one delegate to the hub over MQTT until ctx is done.
// Configuration problems exit with process.ExitConfig so the supervisor
// does not restart the worker.
func runDelegate(ctx context.Context, args []string) error {
	opts, err := parseDelegateArgs(args, os.Stderr)
	if err != nil {
		return &exitError{code: process.ExitConfig, err: err}
	}
	cfg, err := loadDelegateConfig(opts)
	if err != nil {
		return &exitError{code: process.ExitConfig, err: err}
	}

	log := logging.NewService(cfg.Logging, delegateService, version, os.Stdout).With("delegate", opts.name)

	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
	client, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithClientID(fmt.Sprintf("%s-%s", cfg.MQTT.Broker.ClientID, opts.name)),
		mqtt.WithStatusTopic(topics.DelegateStatus(opts.name)),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	client.SetLogger(log)

	recorder, closeRecorder, err := newRecorder(cfg, client, log)
	if err != nil {
		return err
	}
	defer closeRecorder()

	d := dispatch.NewDelegate(opts.name, nil)
	d.SetLogger(log)
	d.SetBuilder(instrument.Builder(log.Component("instrument"), recorder))
	if err := d.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting delegate: %w", err)
	}

	srv := mqttlink.NewServer(client, d)
	srv.SetLogger(log)
	if err := srv.Start(); err != nil {
		d.Kill(err)
		return err
	}
	log.Info("delegate worker ready")

	select {
	case <-ctx.Done():
	case <-d.Done():
		log.Warn("delegate stopped unexpectedly")
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(sctx); err != nil {
		return fmt.Errorf("stopping delegate: %w", err)
	}
	log.Info("delegate worker stopped")
	return nil
}
