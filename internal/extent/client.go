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

package extent

import (
	"github.com/extentfs/extentfs/internal/logger"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
)

// Client is the RPC stub for a remote extent server. Transport
// failures surface as StatusRPCErr; they are not retried here.
type Client struct {
	c *rpcsvc.Client
}

var _ Store = (*Client)(nil)

func NewClient(addr string) (*Client, error) {
	c, err := rpcsvc.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

func (c *Client) Create(typ uint32) (wire.ExtentID, wire.Status) {
	var reply wire.CreateReply
	if err := c.c.Call(ServiceName+".Create", &wire.CreateArgs{Type: typ}, &reply); err != nil {
		logger.Errorf("extent client: create: %v", err)
		return 0, wire.StatusRPCErr
	}
	return reply.ID, reply.Status
}

func (c *Client) Get(id wire.ExtentID) ([]byte, wire.Status) {
	var reply wire.GetReply
	if err := c.c.Call(ServiceName+".Get", &wire.GetArgs{ID: id}, &reply); err != nil {
		logger.Errorf("extent client: get %d: %v", id, err)
		return nil, wire.StatusRPCErr
	}
	return reply.Data, reply.Status
}

func (c *Client) GetAttr(id wire.ExtentID) (wire.Attr, wire.Status) {
	var reply wire.GetAttrReply
	if err := c.c.Call(ServiceName+".GetAttr", &wire.GetAttrArgs{ID: id}, &reply); err != nil {
		logger.Errorf("extent client: getattr %d: %v", id, err)
		return wire.Attr{}, wire.StatusRPCErr
	}
	return reply.Attr, reply.Status
}

func (c *Client) Put(id wire.ExtentID, data []byte) wire.Status {
	var reply wire.PutReply
	if err := c.c.Call(ServiceName+".Put", &wire.PutArgs{ID: id, Data: data}, &reply); err != nil {
		logger.Errorf("extent client: put %d: %v", id, err)
		return wire.StatusRPCErr
	}
	return reply.Status
}

func (c *Client) Remove(id wire.ExtentID) wire.Status {
	var reply wire.RemoveReply
	if err := c.c.Call(ServiceName+".Remove", &wire.RemoveArgs{ID: id}, &reply); err != nil {
		logger.Errorf("extent client: remove %d: %v", id, err)
		return wire.StatusRPCErr
	}
	return reply.Status
}

func (c *Client) Close() error {
	return c.c.Close()
}
