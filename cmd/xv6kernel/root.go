// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xv6kernel/core/internal/kconfig"
	"github.com/xv6kernel/core/internal/klog"
	"github.com/xv6kernel/core/kernel"
)

var (
	cfgFile string
	bindErr error
	k       *kernel.Kernel
)

var rootCmd = &cobra.Command{
	Use:           "xv6kernel",
	Short:         "Exercise the teaching core's VFS and mount table from the command line.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		}
		viper.AutomaticEnv()

		cfg, err := kconfig.Decode()
		if err != nil {
			return err
		}
		klog.New(klog.Config{
			Format:     cfg.Log.Format,
			Level:      cfg.Log.Level,
			FilePath:   cfg.Log.FilePath,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})

		k = kernel.New(cfg, prometheus.DefaultRegisterer)
		if err := k.Start(nil); err != nil {
			return fmt.Errorf("start kernel: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file.")
	bindErr = kconfig.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(lsCmd, catCmd, writeCmd, rmCmd, mountCmd, umountCmd, pivotRootCmd, unshareCmd)
}
