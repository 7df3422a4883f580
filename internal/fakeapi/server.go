// Package fakeapi is an in-memory implementation of the remote REST API.
// It honors the idempotency-key contract and can inject failures, which
// makes it the reference server for gateway and sync tests and for the
// development server binary.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/feedsync/internal/action"
	"github.com/matheus3301/feedsync/internal/gateway"
)

// Route names used for fault injection and request counting. Writes use
// their action type.
const (
	RouteFetchChats    = "fetch_chats"
	RouteFetchMessages = "fetch_messages"
	RouteFetchFeed     = "fetch_feed"
	RouteFetchStories  = "fetch_stories"
	RouteFetchProfiles = "fetch_profiles"
)

type reply struct {
	status int
	body   []byte
}

// Server holds the in-memory remote state.
type Server struct {
	mu       sync.Mutex
	messages map[string]*gateway.RemoteMessage
	posts    map[string]*gateway.RemotePost
	likes    map[string]map[string]bool
	stories  map[string]*gateway.RemoteStory
	profiles map[string]gateway.RemoteProfile
	replies  map[string]reply
	faults   map[string][]int
	drops    map[string]int
	requests map[string]int
	seq      int

	secret []byte
	now    func() time.Time
	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithJWTSecret requires an HS256 bearer token signed with secret on every
// route.
func WithJWTSecret(secret string) Option {
	return func(s *Server) { s.secret = []byte(secret) }
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server with empty state.
func New(opts ...Option) *Server {
	s := &Server{
		messages: make(map[string]*gateway.RemoteMessage),
		posts:    make(map[string]*gateway.RemotePost),
		likes:    make(map[string]map[string]bool),
		stories:  make(map[string]*gateway.RemoteStory),
		profiles: make(map[string]gateway.RemoteProfile),
		replies:  make(map[string]reply),
		faults:   make(map[string][]int),
		drops:    make(map[string]int),
		requests: make(map[string]int),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	if len(s.secret) > 0 {
		v1.Use(s.auth())
	}
	v1.POST("/messages", s.write(string(action.SendMessage), s.sendMessage))
	v1.PATCH("/messages/:id", s.write(string(action.EditMessage), s.editMessage))
	v1.DELETE("/messages/:id", s.write(string(action.DeleteMessage), s.deleteMessage))
	v1.POST("/posts", s.write(string(action.CreatePost), s.createPost))
	v1.PUT("/posts/:id/like", s.write(string(action.ToggleLike), s.toggleLike))
	v1.POST("/posts/:id/comments", s.write(string(action.AddComment), s.addComment))
	v1.POST("/stories", s.write(string(action.UploadStory), s.uploadStory))

	v1.GET("/chats", s.read(RouteFetchChats, s.fetchChats))
	v1.GET("/chats/:chatId/messages", s.read(RouteFetchMessages, s.fetchMessages))
	v1.GET("/feed", s.read(RouteFetchFeed, s.fetchFeed))
	v1.GET("/stories", s.read(RouteFetchStories, s.fetchStories))
	v1.GET("/profiles", s.read(RouteFetchProfiles, s.fetchProfiles))
	return r
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gateway.ErrorBody{Error: "missing token"})
			return
		}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(h, "Bearer "), &gateway.Claims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gateway.ErrorBody{Error: "invalid token"})
			return
		}
		c.Set("userID", token.Claims.(*gateway.Claims).Subject)
		c.Next()
	}
}

type handler func(c *gin.Context) (int, any)

// write serializes a mutation and applies the idempotency contract: a key
// seen before gets the stored reply and changes nothing.
func (s *Server) write(route string, h handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(gateway.HeaderIdempotencyKey)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.requests[route]++
		if status, ok := s.popFault(route); ok {
			c.JSON(status, gateway.ErrorBody{Error: "injected failure"})
			return
		}
		if key == "" {
			c.JSON(http.StatusBadRequest, gateway.ErrorBody{Error: "missing " + gateway.HeaderIdempotencyKey})
			return
		}
		if r, ok := s.replies[key]; ok {
			c.Data(r.status, "application/json", r.body)
			return
		}

		status, body := h(c)
		data, err := json.Marshal(body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gateway.ErrorBody{Error: err.Error()})
			return
		}
		if status < 500 {
			s.replies[key] = reply{status: status, body: data}
		}
		if s.drops[route] > 0 {
			s.drops[route]--
			c.JSON(http.StatusGatewayTimeout, gateway.ErrorBody{Error: "response lost"})
			return
		}
		c.Data(status, "application/json", data)
	}
}

func (s *Server) read(route string, h handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.requests[route]++
		if status, ok := s.popFault(route); ok {
			c.JSON(status, gateway.ErrorBody{Error: "injected failure"})
			return
		}
		status, body := h(c)
		c.JSON(status, body)
	}
}

func (s *Server) popFault(route string) (int, bool) {
	q := s.faults[route]
	if len(q) == 0 {
		return 0, false
	}
	s.faults[route] = q[1:]
	return q[0], true
}

// FailNext makes the next n requests to route fail with status before any
// state is touched.
func (s *Server) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.faults[route] = append(s.faults[route], status)
	}
}

// DropResponse makes the next n writes to route commit but answer 504, as
// if the response was lost on the way back.
func (s *Server) DropResponse(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[route] += n
}

// Requests returns how many requests route has received.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *Server) nowMs() int64 {
	return s.now().UnixMilli()
}

func userID(c *gin.Context) string {
	return c.GetString("userID")
}

func badRequest(err error) (int, any) {
	return http.StatusBadRequest, gateway.ErrorBody{Error: err.Error()}
}

func notFound(what string) (int, any) {
	return http.StatusNotFound, gateway.ErrorBody{Error: what + " not found"}
}

func sortedMessages(in map[string]*gateway.RemoteMessage, keep func(*gateway.RemoteMessage) bool) []gateway.RemoteMessage {
	out := []gateway.RemoteMessage{}
	for _, m := range in {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}
