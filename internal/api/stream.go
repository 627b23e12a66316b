package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/metrics"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamBuffer     = 128
)

// logStreamer pushes log entries to WebSocket clients. A client may pass
// ?since=<seq> to replay entries it missed before live delivery starts.
type logStreamer struct {
	log      LogSource
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]func()
}

func newLogStreamer(log LogSource) *logStreamer {
	return &logStreamer{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]func()),
	}
}

func (ls *logStreamer) handle(w http.ResponseWriter, r *http.Request) {
	replay := false
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		replay, since = true, n
	}

	conn, err := ls.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("logStreamer.handle: failed to upgrade WebSocket connection", "error", err)
		return
	}

	// Subscribe before replaying so nothing falls between the two.
	live, cancel := ls.log.Subscribe(streamBuffer)
	var backlog []models.LogEntry
	if replay {
		backlog = ls.log.Since(since)
	}

	ls.mu.Lock()
	ls.clients[conn] = cancel
	ls.mu.Unlock()
	metrics.StreamClientConnected()
	slog.Info("logStreamer.handle: client connected", "remote_addr", r.RemoteAddr, "replay", len(backlog))

	done := make(chan struct{})
	go ls.readPump(conn, done)
	go ls.writePump(conn, backlog, live, done)
}

// readPump discards client messages and detects disconnects.
func (ls *logStreamer) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("logStreamer.readPump: read error", "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on conn.
func (ls *logStreamer) writePump(conn *websocket.Conn, backlog []models.LogEntry, live <-chan models.LogEntry, done chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		ls.drop(conn)
	}()

	var lastSeq uint64
	send := func(e models.LogEntry) bool {
		if e.Seq <= lastSeq {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			slog.Debug("logStreamer.writePump: write failed", "error", err)
			return false
		}
		lastSeq = e.Seq
		return true
	}

	for _, e := range backlog {
		if !send(e) {
			return
		}
	}
	for {
		select {
		case e, ok := <-live:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			if !send(e) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (ls *logStreamer) drop(conn *websocket.Conn) {
	ls.mu.Lock()
	cancel, ok := ls.clients[conn]
	delete(ls.clients, conn)
	ls.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	conn.Close()
	metrics.StreamClientDisconnected()
}

// closeAll detaches every client; their write pumps send a close frame.
func (ls *logStreamer) closeAll() {
	ls.mu.Lock()
	cancels := make([]func(), 0, len(ls.clients))
	for _, cancel := range ls.clients {
		cancels = append(cancels, cancel)
	}
	ls.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
