// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hashicorp/smartwait/api"
	"github.com/hashicorp/smartwait/engine"
)

func (s *HTTPServer) WaitsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	switch req.Method {
	case "GET":
		return s.waitListRequest(resp, req)
	case "PUT", "POST":
		return s.waitRegister(resp, req)
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) waitListRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	out := s.agent.Engine().List()

	if all := req.URL.Query().Get("all"); all == "true" || all == "1" {
		terminal, err := s.agent.Engine().ListTerminal()
		if err != nil {
			return nil, err
		}
		out = append(out, terminal...)
	}

	if out == nil {
		out = make([]*engine.Snapshot, 0)
	}
	return out, nil
}

func (s *HTTPServer) waitRegister(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	var args api.WaitRegisterRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(400, err.Error())
	}

	display := args.Display
	if display == "" {
		display = s.agent.GetConfig().Display
	}

	snap, err := s.agent.Engine().Register(&engine.RegisterRequest{
		Target:   args.Target,
		Display:  display,
		Criteria: args.Criteria,
		TimeoutS: args.TimeoutS,
		PollS:    args.PollS,
		TaskID:   args.TaskID,
		Patterns: args.Patterns,
	})
	if err != nil {
		return nil, engineError(err)
	}
	return snap, nil
}

func (s *HTTPServer) WaitSpecificRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	id := strings.TrimPrefix(req.URL.Path, "/v1/wait/")
	if id == "" || strings.Contains(id, "/") {
		return nil, CodedError(400, "Missing wait id")
	}

	switch req.Method {
	case "GET":
		return s.waitStatus(resp, req, id)
	case "PUT", "POST":
		return s.waitUpdate(resp, req, id)
	case "DELETE":
		return s.waitCancel(resp, req, id)
	default:
		return nil, CodedError(405, ErrInvalidMethod)
	}
}

func (s *HTTPServer) waitStatus(resp http.ResponseWriter, req *http.Request, id string) (interface{}, error) {
	snap, err := s.agent.Engine().Status(id)
	if err != nil {
		return nil, engineError(err)
	}
	return snap, nil
}

func (s *HTTPServer) waitUpdate(resp http.ResponseWriter, req *http.Request, id string) (interface{}, error) {
	var args api.WaitUpdateRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(400, err.Error())
	}

	snap, err := s.agent.Engine().Update(id, &engine.UpdateRequest{
		Criteria: args.Criteria,
		TimeoutS: args.TimeoutS,
		Note:     args.Note,
		Patterns: args.Patterns,
	})
	if err != nil {
		return nil, engineError(err)
	}
	return snap, nil
}

func (s *HTTPServer) waitCancel(resp http.ResponseWriter, req *http.Request, id string) (interface{}, error) {
	reason := req.URL.Query().Get("reason")

	snap, err := s.agent.Engine().Cancel(id, reason)
	if err != nil {
		return nil, engineError(err)
	}
	return snap, nil
}

// engineError converts the engine's error kinds into coded HTTP errors.
func engineError(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidArg):
		return CodedError(400, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		return CodedError(404, err.Error())
	case errors.Is(err, engine.ErrAlreadyTerminal):
		return CodedError(409, err.Error())
	default:
		return err
	}
}
