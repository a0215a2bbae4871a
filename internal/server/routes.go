package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HealthHandler)

	r.HandleFunc("/rooms/{roomId}/exists", s.RoomExistsHandler).Methods(http.MethodGet, http.MethodOptions)

	// /ws/status must be registered before the parameterized game route or
	// mux would capture "status" as a room id.
	r.HandleFunc("/ws/status", s.presence.HandleWebSocket)
	r.HandleFunc("/ws", s.gateway.HandleWebSocket)
	r.HandleFunc("/ws/{roomId}", s.gateway.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":       "ok",
		"active_rooms": s.registry.Count(),
		"online_users": s.presence.OnlineCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// RoomExistsHandler lets the frontend check a room id before opening the
// websocket, so a stale invite link fails fast.
func (s *Server) RoomExistsHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	roomID := mux.Vars(r)["roomId"]

	var resp Response
	if s.registry.Exists(roomID) {
		resp = Response{
			StatusCode:    http.StatusOK,
			RespStartTime: startTime,
			Data:          roomID,
		}
	} else {
		resp = Response{
			StatusCode:    http.StatusNotFound,
			RespStartTime: startTime,
			Data:          "Room not found",
		}
	}

	endTime := time.Now().UnixMilli()
	resp.RespEndTime = endTime
	resp.NetRespTime = endTime - startTime

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
