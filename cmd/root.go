// Copyright 2025 The extentfs Authors. All Rights Reserved.
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

// Package cmd is the extentfs command line: the two server daemons and
// the FUSE mount, sharing one configuration surface.
package cmd

import (
	"fmt"
	"os"

	"github.com/extentfs/extentfs/cfg"
	"github.com/extentfs/extentfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	config = cfg.NewConfig()

	unmarshalErr error
)

var rootCmd = &cobra.Command{
	Use:   "extentfs",
	Short: "A distributed filesystem with caching locks",
	Long: `extentfs stores files as whole extents on an extent server and
coordinates clients through a callback-based lock server. Run one
extent-server, one lock-server, and any number of mounts.`,
	SilenceUsage: true,
}

// Execute runs the selected subcommand.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config-file", "", "Path to the config file")
	pf.String("extent-addr", config.ExtentAddr, "Extent server address")
	pf.String("lock-addr", config.LockAddr, "Lock server address")
	pf.String("log-severity", config.Logging.Severity, "Log severity: trace|debug|info|warning|error|off")
	pf.String("log-file", "", "Log to this file instead of stderr, with rotation")

	must(viper.BindPFlag("extent-addr", pf.Lookup("extent-addr")))
	must(viper.BindPFlag("lock-addr", pf.Lookup("lock-addr")))
	must(viper.BindPFlag("logging.severity", pf.Lookup("log-severity")))
	must(viper.BindPFlag("logging.file-path", pf.Lookup("log-file")))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(config)
}

// setup finishes configuration for a subcommand: config errors are
// surfaced, the config is validated, and the process logger is
// pointed where the config says.
func setup() error {
	if unmarshalErr != nil {
		return unmarshalErr
	}
	if err := cfg.Validate(config); err != nil {
		return err
	}
	return logger.Setup(config.Logging.FilePath, config.Logging.Severity, logger.RotateConfig{
		MaxSizeMb:   config.Logging.LogRotate.MaxSizeMb,
		BackupCount: config.Logging.LogRotate.BackupFileCount,
		Compress:    config.Logging.LogRotate.Compress,
	})
}
