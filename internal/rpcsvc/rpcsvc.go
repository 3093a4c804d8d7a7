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

// Package rpcsvc is the request/response transport the services run on.
// It wraps the net/rpc engine with the small amount of lifecycle the
// system needs: serving a named receiver on a listener, dialing peers,
// and allocating the client callback endpoint.
package rpcsvc

import (
	"fmt"
	"math/rand"
	"net"
	"net/rpc"
	"sync"
	"sync/atomic"
	"time"

	"github.com/extentfs/extentfs/internal/logger"
)

// Server serves registered receivers on one listener.
type Server struct {
	rpcServer *rpc.Server
}

func NewServer() *Server {
	return &Server{rpcServer: rpc.NewServer()}
}

// RegisterName publishes rcvr's exported methods under the given
// service name.
func (s *Server) RegisterName(name string, rcvr any) error {
	return s.rpcServer.RegisterName(name, rcvr)
}

// Serve accepts connections on l until the listener is closed.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.rpcServer.ServeConn(conn)
	}
}

// Client is a connection to one peer.
type Client struct {
	addr string
	rc   *rpc.Client
}

// Dial connects to a peer.
func Dial(addr string) (*Client, error) {
	rc, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{addr: addr, rc: rc}, nil
}

// Call invokes serviceMethod ("Service.Method") synchronously.
func (c *Client) Call(serviceMethod string, args, reply any) error {
	return c.rc.Call(serviceMethod, args, reply)
}

func (c *Client) Close() error {
	return c.rc.Close()
}

// Pool caches one client per peer address, dialing lazily. The lock
// server uses it for callback connections to its clients: a connection
// is dialed on first use, reused afterwards, and dropped on call
// failure so the next use re-dials.
type Pool struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	clients map[string]*Client
}

func NewPool() *Pool {
	return &Pool{clients: make(map[string]*Client)}
}

// Call invokes serviceMethod on the peer at addr through the cached
// connection, dialing if needed.
func (p *Pool) Call(addr, serviceMethod string, args, reply any) error {
	c, err := p.get(addr)
	if err != nil {
		return err
	}

	err = c.Call(serviceMethod, args, reply)
	if err != nil {
		logger.Warnf("rpc: call %s on %s failed: %v", serviceMethod, addr, err)
		p.drop(addr, c)
	}
	return err
}

func (p *Pool) get(addr string) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[addr]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	// Dial outside the mutex; a racing dial for the same peer is
	// harmless: the connection stored first stays in the map and the
	// later one is closed.
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.clients[addr]; ok {
		c.Close()
		return existing, nil
	}
	p.clients[addr] = c
	return c, nil
}

func (p *Pool) drop(addr string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients[addr] == c {
		delete(p.clients, addr)
		c.Close()
	}
}

// endpointCounter salts the port seed so clients created in the same
// nanosecond don't collide.
var endpointCounter atomic.Int64

// NewCallbackEndpoint opens a listener on 127.0.0.1 at a random port in
// [1024, 33024) and returns it together with the "host:port" id other
// parties dial back on.
func NewCallbackEndpoint() (net.Listener, string, error) {
	seed := time.Now().UnixNano() ^ endpointCounter.Add(1)<<32
	rnd := rand.New(rand.NewSource(seed))

	var lastErr error
	for attempt := 0; attempt < 100; attempt++ {
		port := 1024 + rnd.Intn(32000)
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return l, addr, nil
	}
	return nil, "", fmt.Errorf("allocating callback endpoint: %w", lastErr)
}
