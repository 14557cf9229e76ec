package feed

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// The extension connects from a chrome-extension:// origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts extension connections and forwards every text frame to the
// ingestor.
type Server struct {
	ingestor    *Ingestor
	readTimeout time.Duration
	clients     atomic.Int64
}

// NewServer creates the inbound WebSocket handler.
func NewServer(ingestor *Ingestor, config Config) *Server {
	timeout := time.Duration(config.ReadTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{ingestor: ingestor, readTimeout: timeout}
}

// Clients returns the number of connected feed clients.
func (s *Server) Clients() int64 { return s.clients.Load() }

// ServeHTTP upgrades the request and reads until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("feed: upgrade failed")
		return
	}
	defer conn.Close()

	s.clients.Add(1)
	defer s.clients.Add(-1)
	log.Info().Str("remote", r.RemoteAddr).Msg("feed: client connected")

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("remote", r.RemoteAddr).Msg("feed: client disconnected")
			} else {
				log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("feed: client read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.ingestor.Submit(data); err != nil {
			log.Warn().Err(err).Msg("feed: client message dropped")
		}
	}
}
