// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/spf13/cobra"

	"github.com/ManuGH/ztc/internal/config"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	workspace  string
	socketURL  string
	statusAddr string
	batch      bool
	yolo       bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ztc",
		Short:         "Terminal client for the coding agent backend",
		Long:          "ztc connects to the agent backend, streams its output and asks before anything touches your workspace.",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd, opts)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to config file (.yaml, .toml or .json)")
	f.StringVarP(&opts.workspace, "workspace", "w", "", "workspace directory of the initial session")
	f.StringVarP(&opts.socketURL, "socket-url", "s", "", "backend WebSocket URL")
	f.StringVar(&opts.statusAddr, "status-addr", "", "serve health, metrics and sessions on this address")
	f.BoolVar(&opts.batch, "batch", false, "auto-approve reviewed changes once a plan is complete")
	f.BoolVar(&opts.yolo, "yolo", false, "auto-approve everything except dangerous actions")
	f.BoolVar(&opts.debug, "debug", false, "debug logging")
	cmd.MarkFlagsMutuallyExclusive("batch", "yolo")

	cmd.AddCommand(newAuditCmd(), newConfigCmd(), newVersionCmd())
	return cmd
}

// loadConfig resolves the configuration and applies explicitly set flags on
// top of it.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, *config.Loader, error) {
	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return cfg, loader, err
	}
	flags := cmd.Flags()
	if flags.Changed("workspace") {
		cfg.Workspace = opts.workspace
	}
	if flags.Changed("socket-url") {
		cfg.SocketURL = opts.socketURL
	}
	if flags.Changed("status-addr") {
		cfg.Status.Addr = opts.statusAddr
	}
	if flags.Changed("batch") {
		cfg.BatchMode = opts.batch
	}
	if flags.Changed("yolo") {
		cfg.YOLOMode = opts.yolo
	}
	if flags.Changed("debug") {
		cfg.DebugMode = opts.debug
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, loader, err
	}
	return cfg, loader, nil
}
