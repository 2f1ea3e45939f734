package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/utils/contextutil"
	"github.com/privtrain/privtrain/pkg/logger"
)

// WSWorker is the coordinator-side handle for a networked worker node.
// Dialing retries with bounded exponential backoff; once a connection is
// established, any failure on it is fatal to the run, since re-dialing
// mid-round could double-apply a window.
type WSWorker struct {
	name        string
	url         string
	dialRetries int
	dialBackoff time.Duration
	conn        *websocket.Conn
}

func NewWSWorker(name, url string, dialRetries int, dialBackoff time.Duration) *WSWorker {
	if dialRetries <= 0 {
		dialRetries = 3
	}
	if dialBackoff <= 0 {
		dialBackoff = 2 * time.Second
	}
	return &WSWorker{
		name:        name,
		url:         url,
		dialRetries: dialRetries,
		dialBackoff: dialBackoff,
	}
}

func (w *WSWorker) Name() string {
	return w.name
}

func (w *WSWorker) Connect() error {
	log := logger.WithComponent("ws_worker").With().Str("worker", w.name).Logger()

	backoff := w.dialBackoff
	var lastErr error
	for attempt := 1; attempt <= w.dialRetries; attempt++ {
		conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
		if err == nil {
			log.Debug().Str("url", w.url).Msg("Connected")
			w.conn = conn
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Str("url", w.url).Int("attempt", attempt).Msg("Connection failed")
		if attempt < w.dialRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("worker %s: connection to %s failed after %d attempts: %w", w.name, w.url, w.dialRetries, lastErr)
}

// request performs one synchronous exchange on the connection.
func (w *WSWorker) request(ctx context.Context, msg WSMessage, wantType string) (json.RawMessage, error) {
	if w.conn == nil {
		return nil, fmt.Errorf("worker %s: not connected", w.name)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(contextutil.WindowTimeout)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return nil, fmt.Errorf("worker %s: %w", w.name, err)
	}
	if err := w.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("worker %s: sending %s failed: %w", w.name, msg.Type, err)
	}

	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("worker %s: %w", w.name, err)
	}
	var resp WSMessage
	if err := w.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("worker %s: reading response to %s failed: %w", w.name, msg.Type, err)
	}

	switch resp.Type {
	case wantType:
		return resp.Payload, nil
	case MsgError:
		var remote ErrorMessage
		if err := json.Unmarshal(resp.Payload, &remote); err != nil {
			return nil, fmt.Errorf("worker %s: remote error (unparseable payload)", w.name)
		}
		return nil, fmt.Errorf("worker %s: remote failure during %s: %s", w.name, msg.Type, remote.Message)
	default:
		return nil, fmt.Errorf("worker %s: unexpected message type %s (wanted %s)", w.name, resp.Type, wantType)
	}
}

func (w *WSWorker) BeginEpoch(ctx context.Context, epoch int) error {
	payload, err := json.Marshal(BeginEpochMessage{Epoch: epoch})
	if err != nil {
		return err
	}
	ctx, cancel := contextutil.WithShortTimeout(ctx)
	defer cancel()
	_, err = w.request(ctx, WSMessage{Type: MsgBeginEpoch, Payload: payload}, MsgEpochBegun)
	return err
}

func (w *WSWorker) TrainWindow(ctx context.Context, task *models.RoundTask) (*models.ModelUpdate, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	ctx, cancel := contextutil.WithWindowTimeout(ctx)
	defer cancel()
	resp, err := w.request(ctx, WSMessage{Type: MsgTrainWindow, Payload: payload}, MsgWindowResult)
	if err != nil {
		return nil, err
	}
	var update models.ModelUpdate
	if err := json.Unmarshal(resp, &update); err != nil {
		return nil, fmt.Errorf("worker %s: parsing window result failed: %w", w.name, err)
	}
	return &update, nil
}

func (w *WSWorker) Close() error {
	log := logger.WithComponent("ws_worker").With().Str("worker", w.name).Logger()
	if w.conn == nil {
		return nil
	}
	if err := w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		log.Debug().Err(err).Msg("Close message failed")
	}
	return w.conn.Close()
}
