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

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/extentfs/extentfs/internal/extent"
	"github.com/extentfs/extentfs/internal/fsys"
	"github.com/extentfs/extentfs/internal/fuseserver"
	"github.com/extentfs/extentfs/internal/logger"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var mountCmd = &cobra.Command{
	Use:   "mount mount_point",
	Short: "Mount the filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setup(); err != nil {
			return err
		}
		return mount(cmd.Context(), args[0])
	},
}

func init() {
	mountCmd.Flags().Bool("debug-fuse", false, "Log every kernel op")
	must(viper.BindPFlag("file-system.debug-fuse", mountCmd.Flags().Lookup("debug-fuse")))

	rootCmd.AddCommand(mountCmd)
}

func mount(ctx context.Context, mountPoint string) error {
	store, err := extent.NewClient(config.ExtentAddr)
	if err != nil {
		return fmt.Errorf("connecting to extent server: %w", err)
	}

	fs, err := fsys.New(store, config.LockAddr, timeutil.RealClock())
	if err != nil {
		return fmt.Errorf("connecting to lock server: %w", err)
	}
	defer fs.Destroy()

	mountCfg := &fuse.MountConfig{
		FSName:      config.FileSystem.FsName,
		Subtype:     "extentfs",
		ErrorLogger: log.New(os.Stderr, "fuse: ", 0),

		// Dirty pages must reach WriteFile while this client still
		// holds the inode's lock, not at the kernel's leisure.
		DisableWritebackCaching: true,
	}
	if config.FileSystem.DebugFuse {
		mountCfg.DebugLogger = log.New(os.Stderr, "fuse_debug: ", 0)
	}

	mfs, err := fuse.Mount(mountPoint, fuseserver.New(fs), mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	logger.Infof("mounted %s at %q", config.FileSystem.FsName, mountPoint)

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("waiting for unmount: %w", err)
	}
	logger.Infof("unmounted %q", mountPoint)
	return nil
}
