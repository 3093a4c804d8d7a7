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
	"net"
	"os/signal"
	"syscall"

	"github.com/extentfs/extentfs/internal/extent"
	"github.com/extentfs/extentfs/internal/logger"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var extentServerCmd = &cobra.Command{
	Use:   "extent-server",
	Short: "Run the extent server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setup(); err != nil {
			return err
		}

		server, err := extent.NewServer(timeutil.RealClock())
		if err != nil {
			return fmt.Errorf("initializing extent store: %w", err)
		}

		srv := rpcsvc.NewServer()
		if err := server.Register(srv); err != nil {
			return err
		}

		return serveUntilSignal(cmd.Context(), srv, config.ExtentAddr, "extent server")
	},
}

func init() {
	rootCmd.AddCommand(extentServerCmd)
}

// serveUntilSignal serves srv on addr until SIGINT/SIGTERM closes the
// listener.
func serveUntilSignal(parent context.Context, srv *rpcsvc.Server, addr, name string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logger.Infof("%s listening on %s", name, addr)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(l)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Infof("%s shutting down", name)
		return l.Close()
	})

	// Serve fails with "use of closed network connection" once the
	// listener closes; that is the orderly path.
	g.Wait()
	return nil
}
