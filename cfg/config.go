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

// Package cfg holds the configuration surface shared by the extentfs
// binaries. Field tags follow the config-file keys; cmd binds the same
// keys to flags through viper.
package cfg

import (
	"fmt"
	"slices"
	"strings"
)

type Config struct {
	// ExtentAddr is the extent server's listen/dial address.
	ExtentAddr string `mapstructure:"extent-addr" yaml:"extent-addr"`

	// LockAddr is the lock server's listen/dial address.
	LockAddr string `mapstructure:"lock-addr" yaml:"lock-addr"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	FileSystem FileSystemConfig `mapstructure:"file-system" yaml:"file-system"`
}

type LoggingConfig struct {
	// FilePath redirects logs from stderr to a rotated file.
	FilePath string `mapstructure:"file-path" yaml:"file-path"`

	// Severity is one of trace, debug, info, warning, error, off.
	Severity string `mapstructure:"severity" yaml:"severity"`

	LogRotate LogRotateConfig `mapstructure:"log-rotate" yaml:"log-rotate"`
}

type LogRotateConfig struct {
	MaxSizeMb       int  `mapstructure:"max-size-mb" yaml:"max-size-mb"`
	BackupFileCount int  `mapstructure:"backup-file-count" yaml:"backup-file-count"`
	Compress        bool `mapstructure:"compress" yaml:"compress"`
}

type FileSystemConfig struct {
	// FsName is the name the mount reports to the kernel.
	FsName string `mapstructure:"fs-name" yaml:"fs-name"`

	// DebugFuse turns on kernel op tracing.
	DebugFuse bool `mapstructure:"debug-fuse" yaml:"debug-fuse"`
}

// NewConfig returns the defaults the binaries start from before config
// file and flags are applied.
func NewConfig() *Config {
	return &Config{
		ExtentAddr: "127.0.0.1:7767",
		LockAddr:   "127.0.0.1:7768",
		Logging: LoggingConfig{
			Severity: "info",
			LogRotate: LogRotateConfig{
				MaxSizeMb:       512,
				BackupFileCount: 10,
				Compress:        true,
			},
		},
		FileSystem: FileSystemConfig{
			FsName: "extentfs",
		},
	}
}

var severities = []string{"trace", "debug", "info", "warning", "error", "off"}

func Validate(c *Config) error {
	if c.ExtentAddr == "" {
		return fmt.Errorf("extent-addr must be set")
	}
	if c.LockAddr == "" {
		return fmt.Errorf("lock-addr must be set")
	}
	sev := strings.ToLower(c.Logging.Severity)
	if !slices.Contains(severities, sev) {
		return fmt.Errorf("invalid logging severity %q; accepted values: %v", c.Logging.Severity, severities)
	}
	if c.Logging.LogRotate.MaxSizeMb <= 0 {
		return fmt.Errorf("logging.log-rotate.max-size-mb must be positive")
	}
	if c.Logging.LogRotate.BackupFileCount < 0 {
		return fmt.Errorf("logging.log-rotate.backup-file-count must not be negative")
	}
	return nil
}
