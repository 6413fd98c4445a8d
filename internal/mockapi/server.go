// Package mockapi serves a small paginated JSON API shaped like the public
// sample APIs the caching layer is built against. It is used for local
// development and in tests.
package mockapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Post is one item of the /posts collection.
type Post struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// User is one item of the /users collection.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Config controls the generated data and injected faults.
type Config struct {
	// Posts is the number of posts generated (default: 100)
	Posts int
	// Users is the number of owners posts rotate through (default: 10)
	Users int
	// Latency is added to every collection request
	Latency time.Duration
	// OmitTotal drops the X-Total-Count header
	OmitTotal bool
	// Gzip compresses responses
	Gzip bool
	// LogRequests enables request logging through slog
	LogRequests bool
}

// Server wraps the Echo server
type Server struct {
	echo  *echo.Echo
	posts []Post
	users []User
	cfg   Config

	requests atomic.Int64

	mu         sync.Mutex
	failStatus int
	failCount  int
}

// New creates a new mock API server
func New(cfg Config) *Server {
	if cfg.Posts <= 0 {
		cfg.Posts = 100
	}
	if cfg.Users <= 0 {
		cfg.Users = 10
	}

	s := &Server{cfg: cfg}
	for i := 1; i <= cfg.Users; i++ {
		s.users = append(s.users, User{ID: i, Name: fmt.Sprintf("user %d", i)})
	}
	perUser := (cfg.Posts + cfg.Users - 1) / cfg.Users
	for i := 1; i <= cfg.Posts; i++ {
		s.posts = append(s.posts, Post{
			ID:     i,
			UserID: (i-1)/perUser + 1,
			Title:  fmt.Sprintf("post %d", i),
			Body:   fmt.Sprintf("body of post %d", i),
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	if cfg.LogRequests {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
				return nil
			},
		}))
	}
	if cfg.Gzip {
		e.Use(middleware.Gzip())
	}
	e.Use(s.faults)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/posts", s.listPosts)
	e.GET("/posts/:id", s.getPost)
	e.GET("/users", s.listUsers)

	s.echo = e
	return s
}

// FailNext makes the next n requests answer with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	s.failCount = n
	s.failStatus = status
	s.mu.Unlock()
}

// Requests returns the number of requests served
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) faults(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Path() == "/health" {
			return next(c)
		}
		s.requests.Add(1)

		s.mu.Lock()
		status := 0
		if s.failCount > 0 {
			s.failCount--
			status = s.failStatus
		}
		s.mu.Unlock()
		if status != 0 {
			return c.JSON(status, map[string]any{
				"error": map[string]string{"message": "injected failure"},
			})
		}

		if s.cfg.Latency > 0 {
			select {
			case <-time.After(s.cfg.Latency):
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		return next(c)
	}
}

func (s *Server) listPosts(c echo.Context) error {
	matched := s.posts
	if raw := c.QueryParam("userId"); raw != "" {
		owner, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "userId must be an integer")
		}
		matched = nil
		for _, p := range s.posts {
			if p.UserID == owner {
				matched = append(matched, p)
			}
		}
	}

	if !s.cfg.OmitTotal {
		c.Response().Header().Set("X-Total-Count", strconv.Itoa(len(matched)))
	}
	if matched == nil {
		matched = []Post{}
	}

	page, limit, err := pageParams(c)
	if err != nil {
		return err
	}
	if limit == 0 {
		return c.JSON(http.StatusOK, matched)
	}
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return c.JSON(http.StatusOK, matched[start:end])
}

func (s *Server) getPost(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 || id > len(s.posts) {
		return echo.NewHTTPError(http.StatusNotFound, "post not found")
	}
	return c.JSON(http.StatusOK, s.posts[id-1])
}

func (s *Server) listUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.users)
}

// pageParams reads _page and _limit. A missing _limit means "no paging".
func pageParams(c echo.Context) (int, int, error) {
	page, limit := 1, 0
	if raw := c.QueryParam("_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "_page must be a positive integer")
		}
		page = n
	}
	if raw := c.QueryParam("_limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "_limit must be a positive integer")
		}
		limit = n
	}
	return page, limit, nil
}
