package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mttgvnrd/Transcendence/internal/game"
	"github.com/mttgvnrd/Transcendence/internal/presence"
)

// Server wires the HTTP surface: game websockets, the presence channel and
// a couple of JSON endpoints for the frontend.
type Server struct {
	port int

	registry *game.Registry
	gateway  *game.Gateway
	presence *presence.Service
}

func NewServer(port int, registry *game.Registry, gateway *game.Gateway, pres *presence.Service) *http.Server {
	s := &Server{
		port:     port,
		registry: registry,
		gateway:  gateway,
		presence: pres,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Response is the envelope for JSON endpoints, with server-side timing so
// the frontend can surface latency.
type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}
