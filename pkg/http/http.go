// Package xhttp wraps fasthttp with the small server/router surface the ops
// API needs. The delivery pipeline itself has no HTTP surface; this exists
// for the dispatch trigger, status reads, health, and metrics exposition.
package xhttp

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler
type Router = router.Router

const (
	StatusOK                  = fasthttp.StatusOK
	StatusCreated             = fasthttp.StatusCreated
	StatusAccepted            = fasthttp.StatusAccepted
	StatusBadRequest          = fasthttp.StatusBadRequest
	StatusNotFound            = fasthttp.StatusNotFound
	StatusConflict            = fasthttp.StatusConflict
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusInternalServerError = fasthttp.StatusInternalServerError
)

func StatusText(code int) string {
	return fasthttp.StatusMessage(code)
}

// NewRouter returns a router with redirect fixups and a JSON-less 404.
func NewRouter() *Router {
	r := router.New()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = NotFoundHandler
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	ctx.Error(StatusText(StatusNotFound), StatusNotFound)
}

type ServerOption struct {
	Name               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MaxRequestBodySize int
	Concurrency        int
}

type Server struct {
	Router *Router
	srv    *fasthttp.Server
}

var DefaultServerOption = ServerOption{
	Name:               "announcer",
	ReadTimeout:        time.Millisecond * 2500,
	WriteTimeout:       time.Millisecond * 2500,
	IdleTimeout:        time.Second * 10,
	MaxRequestBodySize: 4 * 1024 * 1024,
	Concurrency:        30_000,
}

func NewServer(opt ServerOption) *Server {
	r := NewRouter()
	return &Server{
		Router: r,
		srv: &fasthttp.Server{
			Name:               opt.Name,
			Handler:            r.Handler,
			ReadTimeout:        opt.ReadTimeout,
			WriteTimeout:       opt.WriteTimeout,
			IdleTimeout:        opt.IdleTimeout,
			MaxRequestBodySize: opt.MaxRequestBodySize,
			Concurrency:        opt.Concurrency,
		},
	}
}

// Use wraps the server's handler chain. Middleware applies to every route,
// including ones registered after the call.
func (s *Server) Use(mw MiddlewareFunc) {
	s.srv.Handler = mw(s.srv.Handler)
}

func (s *Server) ListenAndServe(addr string) error {
	// Handler may have been replaced by middleware wrapping after NewServer.
	if s.srv.Handler == nil {
		s.srv.Handler = s.Router.Handler
	}
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}
