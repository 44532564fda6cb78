// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hashicorp/smartwait/api"
	"github.com/hashicorp/smartwait/ptys"
)

// ptyControl is the text frame an attached client sends for anything that is
// not terminal input.
type ptyControl struct {
	Resize *ptyResize `json:"resize"`
}

type ptyResize struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

var ptyUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *HTTPServer) PtysRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	switch req.Method {
	case http.MethodGet:
		return s.agent.Ptys().List(), nil
	case http.MethodPut, http.MethodPost:
		return s.ptyStart(resp, req)
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) ptyStart(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	var args api.PtyStartRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(400, err.Error())
	}
	if len(args.Command) == 0 {
		return nil, CodedError(400, "Missing command")
	}

	sess, err := s.agent.Ptys().Start(&ptys.StartOptions{
		Command: args.Command,
		Dir:     args.Dir,
		Env:     args.Env,
		Rows:    args.Rows,
		Cols:    args.Cols,
	})
	if err != nil {
		return nil, err
	}
	return sess.Info(), nil
}

func (s *HTTPServer) PtySpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	path := strings.TrimPrefix(req.URL.Path, "/v1/pty/")

	switch {
	case strings.HasSuffix(path, "/tail"):
		return s.ptyTail(resp, req, strings.TrimSuffix(path, "/tail"))
	case strings.HasSuffix(path, "/attach"):
		return s.ptyAttach(resp, req, strings.TrimSuffix(path, "/attach"))
	default:
		return s.ptyCRUD(resp, req, path)
	}
}

func (s *HTTPServer) ptyCRUD(resp http.ResponseWriter, req *http.Request, id string) (interface{}, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, CodedError(400, "Missing pty session id")
	}

	sess, ok := s.agent.Ptys().Get(id)
	if !ok {
		return nil, CodedError(404, fmt.Sprintf("pty session %q not found", id))
	}

	switch req.Method {
	case http.MethodGet:
		return sess.Info(), nil
	case http.MethodDelete:
		if remove := req.URL.Query().Get("remove"); remove == "true" || remove == "1" {
			info := sess.Info()
			if err := s.agent.Ptys().Remove(id, ptyStopGrace); err != nil {
				return nil, err
			}
			return info, nil
		}
		if err := s.agent.Ptys().Stop(id, ptyStopGrace); err != nil {
			return nil, err
		}
		return sess.Info(), nil
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) ptyTail(resp http.ResponseWriter, req *http.Request, id string) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}
	if id == "" || strings.Contains(id, "/") {
		return nil, CodedError(400, "Missing pty session id")
	}

	lines := 0
	if raw := req.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, CodedError(400, fmt.Sprintf("Invalid lines value %q", raw))
		}
		lines = n
	}

	out, ok := s.agent.Ptys().Tail(id, lines)
	if !ok {
		return nil, CodedError(404, fmt.Sprintf("pty session %q not found", id))
	}
	return &api.PtyTail{SessionID: id, Output: out}, nil
}

// ptyAttach upgrades the connection to a websocket and bridges it to the
// session: binary frames carry terminal bytes in both directions, text frames
// carry control messages. The response is fully written by the time this
// returns, so it always reports a nil body.
func (s *HTTPServer) ptyAttach(resp http.ResponseWriter, req *http.Request, id string) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}
	if id == "" || strings.Contains(id, "/") {
		return nil, CodedError(400, "Missing pty session id")
	}

	sess, ok := s.agent.Ptys().Get(id)
	if !ok {
		return nil, CodedError(404, fmt.Sprintf("pty session %q not found", id))
	}

	conn, err := ptyUpgrader.Upgrade(resp, req, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("pty attach upgrade failed", "session_id", id, "error", err)
		return nil, nil
	}
	defer conn.Close()

	outputCh, detach := sess.Attach()
	defer detach()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				if len(data) == 0 {
					continue
				}
				if _, err := sess.Write(data); err != nil {
					return
				}
			case websocket.TextMessage:
				var ctrl ptyControl
				if err := json.Unmarshal(data, &ctrl); err != nil {
					s.logger.Debug("ignoring bad pty control frame", "session_id", id, "error", err)
					continue
				}
				if ctrl.Resize != nil {
					if err := sess.Resize(ctrl.Resize.Rows, ctrl.Resize.Cols); err != nil {
						s.logger.Debug("pty resize failed", "session_id", id, "error", err)
					}
				}
			}
		}
	}()

	for {
		select {
		case data, ok := <-outputCh:
			if !ok {
				// Session exited. Buffered output has drained by now.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil, nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return nil, nil
			}
		case <-readDone:
			return nil, nil
		}
	}
}
