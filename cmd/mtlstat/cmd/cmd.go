/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/OpenVisualCloud/mtl-go/config"
	"github.com/OpenVisualCloud/mtl-go/stats"
)

// RootCmd is mtlstat's entry point, exported so it can be extended
// without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "mtlstat",
	Short: "diagnostic utilities for the media-over-IP transport library",
}

var configPath string
var listenAddr string

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a session/scheduler YAML config")
	RootCmd.AddCommand(configCmd, serveCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the Prometheus stats registry for a running session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c := stats.NewCollector(log.NewEntry(log.StandardLogger()))
		c.DumpPeriod = cfg.DumpPeriod
		c.RegisterHostMetrics()
		c.Start()
		defer c.Stop()
		if listenAddr == "" {
			listenAddr = ":8888"
		}
		if supported, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.WithError(err).Warn("sd_notify failed")
		} else if supported {
			log.Info("successfully sent sd_notify ready event")
		}
		log.Infof("serving stats on %s", listenAddr)
		return c.ServeHTTP(listenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8888", "address to serve /metrics on")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.ReadConfig(configPath)
}
