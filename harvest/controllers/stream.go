package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"harvest/harvest/agents/core"
	"harvest/harvest/agents/monitor"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/utils/types"
)

const (
	writeTimeout   = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// Stream runs one extraction over a websocket. The client sends
// {"task": "..."}; every agent step is pushed as a "step" message and the
// run ends with a "result" or an "error" message. Closing the socket cancels
// the run.
func (c *ExtractController) Stream(ctx context.Context, conn *websocket.Conn, p protocols.Protocol) {
	defer conn.Close(websocket.StatusInternalError, "internal error")

	readCtx, cancelRead := context.WithTimeout(ctx, requestTimeout)
	var req types.ExtractRequest
	err := wsjson.Read(readCtx, conn, &req)
	cancelRead()
	if err != nil {
		c.logger.Warn("websocket read error", zap.Error(err))
		return
	}
	if req.Task == "" {
		c.send(ctx, conn, types.StreamMessage{Type: "error", Payload: types.ErrorResponse{Error: "task must not be empty"}})
		conn.Close(websocket.StatusPolicyViolation, "empty task")
		return
	}

	// CloseRead discards further client frames; its context ends when the peer goes away.
	alive := conn.CloseRead(ctx)
	observer := func(ev types.StepEvent) {
		c.send(alive, conn, types.StreamMessage{Type: "step", Payload: ev})
	}

	out, err := c.Execute(ctx, monitor.ContextLiveness{Ctx: alive}, req.Task, p, observer)
	switch {
	case errors.Is(err, core.ErrCancelled):
		c.logger.Info("stream run cancelled", zap.String("protocol", p.ID), zap.Error(err))
		return
	case err != nil:
		c.send(alive, conn, types.StreamMessage{Type: "error", Payload: types.ErrorResponse{Error: err.Error()}})
		conn.Close(websocket.StatusInternalError, "extraction failed")
		return
	}
	c.send(alive, conn, types.StreamMessage{Type: "result", Payload: json.RawMessage(out)})
	conn.Close(websocket.StatusNormalClosure, "")
}

func (c *ExtractController) send(ctx context.Context, conn *websocket.Conn, msg types.StreamMessage) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		c.logger.Debug("websocket write error", zap.String("type", msg.Type), zap.Error(err))
	}
}
