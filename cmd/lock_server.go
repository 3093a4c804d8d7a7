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
	"github.com/extentfs/extentfs/internal/lockserver"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/spf13/cobra"
)

var lockServerCmd = &cobra.Command{
	Use:   "lock-server",
	Short: "Run the lock server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setup(); err != nil {
			return err
		}

		srv := rpcsvc.NewServer()
		if err := lockserver.NewServer().Register(srv); err != nil {
			return err
		}

		return serveUntilSignal(cmd.Context(), srv, config.LockAddr, "lock server")
	},
}

func init() {
	rootCmd.AddCommand(lockServerCmd)
}
