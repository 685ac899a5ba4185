package stream

import (
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = time.Second

// WSServer pushes every frame as one binary message to each connected
// WebSocket client. A client that cannot keep up is disconnected.
type WSServer struct {
	addr     string
	path     string
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewWSServer(addr, path string) *WSServer {
	return &WSServer{
		addr: addr,
		path: path,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.serveWS)
	return mux
}

func (s *WSServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpSrv = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("[WS] server stopped:", err)
		}
	}()
	log.Println("[WS] ready on", ln.Addr().String()+s.path)
	return nil
}

func (s *WSServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[WS] upgrade failed:", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	log.Println("[WS] client connected from", conn.RemoteAddr(), "clients:", n)

	// Drain control frames until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(conn)
}

func (s *WSServer) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		conn.Close()
		log.Println("[WS] client disconnected:", conn.RemoteAddr())
	}
}

func (s *WSServer) Send(data []byte) error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.WriteMessage(websocket.BinaryMessage, data); err != nil {
			log.Println("[WS] write failed, dropping client:", err)
			s.drop(c)
		}
	}
	return nil
}

func (s *WSServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *WSServer) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
		delete(s.clients, c)
	}
	s.mu.Unlock()
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}
