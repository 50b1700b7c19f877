// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package instrumentation

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// shutdownTimeout bounds how long stop waits for active requests.
	shutdownTimeout = 3 * time.Second
)

// server is a restartable HTTP server with a replaceable mux.
type server struct {
	sync.Mutex
	mux    *http.ServeMux
	srv    *http.Server
	listen net.Listener
}

func newServer() *server {
	return &server{mux: http.NewServeMux()}
}

func (s *server) handle(pattern string, handler http.Handler) {
	s.Lock()
	defer s.Unlock()
	s.mux.Handle(pattern, handler)
}

func (s *server) start(endpoint string) error {
	s.Lock()
	defer s.Unlock()

	if s.srv != nil {
		return errors.New("HTTP server already running")
	}

	l, err := net.Listen("tcp", endpoint)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %q", endpoint)
	}

	s.listen = l
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("HTTP server listening on %s", l.Addr())

	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.srv, l)

	return nil
}

func (s *server) stop() {
	s.Lock()
	defer s.Unlock()

	s.mux = http.NewServeMux()
	if s.srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown failed: %v", err)
	}

	s.srv = nil
	s.listen = nil
}

func (s *server) address() string {
	s.Lock()
	defer s.Unlock()

	if s.listen == nil {
		return ""
	}
	return s.listen.Addr().String()
}
