package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/privtrain/privtrain/internal/core/config"
	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/monitoring/metrics"
	"github.com/privtrain/privtrain/pkg/logger"
)

// Node serves one shard-holding worker over the websocket protocol. One
// connection handles one driver; requests on it are processed strictly in
// arrival order.
type Node struct {
	local      *LocalWorker
	cfg        config.WorkerConfig
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewNode(local *LocalWorker, cfg config.WorkerConfig) *Node {
	n := &Node{
		local: local,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", n.handleWS)
	router.HandleFunc("/healthz", n.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	n.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return n
}

func (n *Node) Addr() string {
	return n.httpServer.Addr
}

func (n *Node) Start() error {
	log := logger.WithComponent("node").With().Str("worker", n.local.Name()).Logger()
	log.Info().Str("addr", n.httpServer.Addr).Msg("Worker node listening")
	if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("worker node server failed: %w", err)
	}
	return nil
}

func (n *Node) Shutdown(ctx context.Context) error {
	return n.httpServer.Shutdown(ctx)
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"worker": n.local.Name(),
	})
}

func (n *Node) handleWS(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("node").With().Str("worker", n.local.Name()).Logger()

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	if n.cfg.Websocket.MaxMessageSize > 0 {
		conn.SetReadLimit(n.cfg.Websocket.MaxMessageSize)
	}
	if n.cfg.Websocket.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(n.cfg.Websocket.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(n.cfg.Websocket.PongWait))
		})
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}
		// Any traffic proves liveness, not just pongs.
		if n.cfg.Websocket.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(n.cfg.Websocket.PongWait))
		}
		n.handleMessage(conn, msg)
	}
}

func (n *Node) handleMessage(conn *websocket.Conn, msg WSMessage) {
	log := logger.WithComponent("node").With().Str("worker", n.local.Name()).Logger()

	switch msg.Type {
	case MsgBeginEpoch:
		var begin BeginEpochMessage
		if err := json.Unmarshal(msg.Payload, &begin); err != nil {
			n.writeError(conn, fmt.Sprintf("begin_epoch parse failed: %v", err))
			return
		}
		if err := n.local.BeginEpoch(context.Background(), begin.Epoch); err != nil {
			n.writeError(conn, err.Error())
			return
		}
		n.writeJSON(conn, MsgEpochBegun, begin)

	case MsgTrainWindow:
		var task models.RoundTask
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			n.writeError(conn, fmt.Sprintf("train_window parse failed: %v", err))
			return
		}
		update, err := n.local.TrainWindow(context.Background(), &task)
		if err != nil {
			log.Error().Err(err).Msg("Training window failed")
			n.writeError(conn, err.Error())
			return
		}
		n.writeJSON(conn, MsgWindowResult, update)

	default:
		log.Debug().Str("type", msg.Type).Msg("Unknown message type")
		n.writeError(conn, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (n *Node) writeJSON(conn *websocket.Conn, msgType string, payload interface{}) {
	log := logger.WithComponent("node").With().Str("worker", n.local.Name()).Logger()
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("Response marshal failed")
		return
	}
	if n.cfg.Websocket.WriteWait > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.Websocket.WriteWait))
	}
	if err := conn.WriteJSON(WSMessage{Type: msgType, Payload: data}); err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("Response write failed")
	}
}

func (n *Node) writeError(conn *websocket.Conn, message string) {
	n.writeJSON(conn, MsgError, ErrorMessage{Worker: n.local.Name(), Message: message})
}
