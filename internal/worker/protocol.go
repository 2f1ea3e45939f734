package worker

import "encoding/json"

// Wire protocol between the driver and a worker node. Every request gets
// exactly one response; the driver never pipelines requests on a
// connection, so operations on a single worker stay strictly ordered.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	MsgBeginEpoch   = "begin_epoch"
	MsgEpochBegun   = "epoch_begun"
	MsgTrainWindow  = "train_window"
	MsgWindowResult = "window_result"
	MsgError        = "error"
)

type BeginEpochMessage struct {
	Epoch int `json:"epoch"`
}

type ErrorMessage struct {
	Worker  string `json:"worker"`
	Message string `json:"message"`
}
