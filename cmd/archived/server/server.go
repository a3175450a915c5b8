package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Endpoint struct {
	Method  string
	Path    string
	Handler echo.HandlerFunc
}

type server struct {
	silent         bool
	gracefulPeriod time.Duration
	middlewares    []echo.MiddlewareFunc
}

func defaultServerConfig() server {
	return server{
		gracefulPeriod: 30 * time.Second,
	}
}

type Option func(*server) *server

// set graceful period for shutdown.
//
// GracefulPeriod is 30 seconds by deafult.
func WithGracefulPeriod(d time.Duration) Option {
	return func(s *server) *server {
		s.gracefulPeriod = d
		return s
	}
}

func Silent() Option {
	return func(s *server) *server {
		s.silent = true
		return s
	}
}

// WithMiddleware applies m to every endpoint.
func WithMiddleware(m echo.MiddlewareFunc) Option {
	return func(s *server) *server {
		s.middlewares = append(s.middlewares, m)
		return s
	}
}

type Starter func(*echo.Echo) error

// start server on port number to start server.
func OnPort(p int) Starter {
	return func(e *echo.Echo) error {
		return e.Start(fmt.Sprintf(":%d", p))
	}
}

// start server on port number, listening on localhost only.
func OnLocalPort(p int) Starter {
	return func(e *echo.Echo) error {
		return e.Start(fmt.Sprintf("localhost:%d", p))
	}
}

type Server struct {
	Port       int
	ServerStop <-chan error
}

// Start serves the endpoints until ctx is cancelled.
//
// The returned Server reports the bound port (useful with OnPort(0)) and
// closes ServerStop when serving ends.
func Start(ctx context.Context, starter Starter, endpoints []Endpoint, opts ...Option) Server {
	serverConfig := defaultServerConfig()
	for _, opt := range opts {
		serverConfig = *opt(&serverConfig)
	}

	e := echo.New()
	if serverConfig.silent {
		e.HideBanner = true
		e.HidePort = true
	}
	e.Use(serverConfig.middlewares...)

	closeServer := func() func() {
		o := sync.Once{}
		return func() {
			o.Do(func() {
				if 0 < serverConfig.gracefulPeriod {
					_ctx, _cancel := context.WithTimeout(context.Background(), serverConfig.gracefulPeriod)
					defer _cancel()
					e.Shutdown(_ctx) // try to shutdown gracefully
				}
				e.Close() // close forcefully
			})
		}
	}()
	go func() {
		<-ctx.Done()
		closeServer()
	}()

	for _, ep := range endpoints {
		e.Add(ep.Method, ep.Path, ep.Handler)
	}

	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- starter(e)
	}()

	port := 0
	for {
		select {
		case <-ctx.Done():
			return Server{Port: 0, ServerStop: ch}
		case <-time.After(100 * time.Millisecond):
		}
		if e.Listener != nil {
			port = e.Listener.Addr().(*net.TCPAddr).Port
			break
		}
	}

	return Server{Port: port, ServerStop: ch}
}
