package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

type published struct {
	data    []byte
	fetched chan struct{}
	once    sync.Once
}

func (p *published) markFetched() {
	p.once.Do(func() { close(p.fetched) })
}

// Server serves published files to the device. Entries live only between
// Publish and the matching release.
type Server struct {
	router *gin.Engine

	mu    sync.Mutex
	files map[string]*published

	srv  *http.Server
	addr net.Addr
}

// NewServer creates a relay server with its routes
func NewServer() *Server {
	s := &Server{
		router: gin.New(),
		files:  make(map[string]*published),
	}
	s.router.Use(gin.Recovery())
	s.router.GET("/:handle", s.getFile)
	s.router.PUT("/:handle", s.putFile)
	s.router.DELETE("/:handle", s.deleteFile)
	return s
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

// Publish serves data under handle until release is called. fetched is
// closed once the content has been sent to a client in full.
func (s *Server) Publish(handle string, data []byte) (fetched <-chan struct{}, release func()) {
	p := &published{data: data, fetched: make(chan struct{})}

	s.mu.Lock()
	s.files[handle] = p
	s.mu.Unlock()

	log.WithFields(log.Fields{"handle": handle, "size": len(data)}).Debug("relay: published")
	return p.fetched, func() {
		s.mu.Lock()
		if s.files[handle] == p {
			delete(s.files, handle)
		}
		s.mu.Unlock()
		log.WithField("handle", handle).Debug("relay: released")
	}
}

// Published returns the number of live entries
func (s *Server) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *Server) lookup(handle string) (*published, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.files[handle]
	return p, ok
}

func (s *Server) getFile(c *gin.Context) {
	p, ok := s.lookup(c.Param("handle"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", p.data)
	if c.Writer.Size() == len(p.data) {
		p.markFetched()
	}
}

func (s *Server) putFile(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Publish(c.Param("handle"), data)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) deleteFile(c *gin.Context) {
	handle := c.Param("handle")
	s.mu.Lock()
	_, ok := s.files[handle]
	delete(s.files, handle)
	s.mu.Unlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = ln.Addr()

	log.WithField("addr", s.addr.String()).Debug("relay: starting server")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("relay: server stopped")
		}
	}()
	return s.addr, nil
}

// Stop shuts the server down and drops every published entry
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	clear(s.files)
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown relay server: %w", err)
	}
	return nil
}
