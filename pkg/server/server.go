// Package server exposes the dome controller over a line-oriented TCP
// protocol: one whitespace-tokenized request per connection, answered with
// exactly two lines ("<code>\n<message>\n"), then the connection closes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/practicalastronomy/koepelx/pkg/config"
	"github.com/practicalastronomy/koepelx/pkg/dome"
	. "github.com/practicalastronomy/koepelx/pkg/logger"
)

const readTimeout = 10 * time.Second

// Server accepts client connections and feeds them through a bounded queue
// to a fixed pool of workers.
type Server struct {
	store      *config.Store
	dome       *dome.Controller
	configPath string
}

func New(store *config.Store, controller *dome.Controller, configPath string) *Server {
	return &Server{store: store, dome: controller, configPath: configPath}
}

// Run listens on the configured port and serves until ctx is canceled.
// maxConnections is left to the kernel's listen backlog; the in-process
// bound is the accepted-connection queue.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.store.Load()
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ServerPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.ServerPort, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg := s.store.Load()
	queue := make(chan net.Conn, cfg.MaxQueueSize)

	var wg sync.WaitGroup
	for i := 0; i < cfg.ClientThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range queue {
				s.handle(conn)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	Log.Info().Str("addr", ln.Addr().String()).Msg("Command server listening.")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			Log.Error().Err(err).Msg("Accept failed.")
			continue
		}
		queue <- conn
	}

	close(queue)
	wg.Wait()
	return nil
}

// handle serves one request: read at most bufferSize bytes, execute, answer
// two lines, close.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	Log.Info().Str("client", remote).Msg("Connection received.")

	cfg := s.store.Load()
	buf := make([]byte, cfg.BufferSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil {
			Log.Info().Str("client", remote).Err(err).Msg("Connection lost.")
		} else {
			Log.Info().Str("client", remote).Msg("Connection lost.")
		}
		return
	}

	raw := string(buf[:n])
	Log.Info().Str("client", remote).Str("command", raw).Msg("Command given.")

	resp := s.execute(parseRequest(raw))

	conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if _, err := fmt.Fprint(conn, resp.String()); err != nil {
		Log.Error().Str("client", remote).Err(err).Msg("Writing response failed.")
		return
	}
	Log.Info().Str("client", remote).Int64("code", resp.code).Str("message", resp.message).
		Msg("Response returned.")
}
