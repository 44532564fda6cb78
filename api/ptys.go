// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PtySession describes one terminal session managed by the agent.
type PtySession struct {
	ID        string     `json:"id"`
	Command   []string   `json:"command"`
	Running   bool       `json:"running"`
	ExitCode  int        `json:"exit_code"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}

// PtyStartRequest starts a command under a new pty session.
type PtyStartRequest struct {
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
}

// PtyTail is the recent output of a session.
type PtyTail struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

// ptyControl is the text frame sent over an attach socket for anything that
// is not terminal input.
type ptyControl struct {
	Resize *ptyResize `json:"resize,omitempty"`
}

type ptyResize struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Ptys is used to access the pty endpoints.
type Ptys struct {
	client *Client
}

// Ptys returns a handle on the pty endpoints.
func (c *Client) Ptys() *Ptys {
	return &Ptys{client: c}
}

// Start launches a command under a new pty session.
func (p *Ptys) Start(ctx context.Context, req *PtyStartRequest) (*PtySession, error) {
	var out PtySession
	if err := p.client.write(ctx, "POST", "/v1/ptys", req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns every session the agent knows about, exited ones included.
func (p *Ptys) List(ctx context.Context) ([]*PtySession, error) {
	var out []*PtySession
	if err := p.client.query(ctx, "/v1/ptys", &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Info returns one session.
func (p *Ptys) Info(ctx context.Context, sessionID string) (*PtySession, error) {
	var out PtySession
	if err := p.client.query(ctx, "/v1/pty/"+url.PathEscape(sessionID), &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tail returns the last lines of a session's output with terminal escapes
// stripped.
func (p *Ptys) Tail(ctx context.Context, sessionID string, lines int) (*PtyTail, error) {
	params := url.Values{}
	if lines > 0 {
		params.Set("lines", fmt.Sprintf("%d", lines))
	}
	var out PtyTail
	if err := p.client.query(ctx, "/v1/pty/"+url.PathEscape(sessionID)+"/tail", &out, params); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop terminates a session's process. The session and its output remain
// listed unless remove is set.
func (p *Ptys) Stop(ctx context.Context, sessionID string, remove bool) error {
	params := url.Values{}
	if remove {
		params.Set("remove", "true")
	}
	return p.client.delete(ctx, "/v1/pty/"+url.PathEscape(sessionID), nil, params)
}

// AttachSession is a live websocket attachment to a pty session. Output
// arrives on Output; the channel closes when the session ends or the
// connection drops, with the cause on Err.
type AttachSession struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	outputCh chan []byte
	errCh    chan error
}

// Attach connects to a session's live output and input.
func (p *Ptys) Attach(ctx context.Context, sessionID string) (*AttachSession, error) {
	u := *p.client.baseURL
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/pty/" + url.PathEscape(sessionID) + "/attach"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			closeResponseBody(resp)
		}
		return nil, fmt.Errorf("failed to attach to pty %s: %v", sessionID, err)
	}

	s := &AttachSession{
		conn:     conn,
		outputCh: make(chan []byte, 32),
		errCh:    make(chan error, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *AttachSession) readLoop() {
	defer close(s.outputCh)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.errCh <- err
			}
			return
		}
		if msgType == websocket.BinaryMessage && len(data) > 0 {
			s.outputCh <- data
		}
	}
}

// Output returns the stream of terminal output chunks.
func (s *AttachSession) Output() <-chan []byte {
	return s.outputCh
}

// Err reports an abnormal end of the attachment, if any.
func (s *AttachSession) Err() <-chan error {
	return s.errCh
}

// SendInput writes keystrokes to the session.
func (s *AttachSession) SendInput(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Resize adjusts the remote terminal size.
func (s *AttachSession) Resize(rows, cols uint16) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(&ptyControl{Resize: &ptyResize{Rows: rows, Cols: cols}})
}

// Close tears down the attachment. The session itself keeps running.
func (s *AttachSession) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
