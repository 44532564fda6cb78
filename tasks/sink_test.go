// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tasks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/smartwait/ci"
	"github.com/hashicorp/smartwait/helper/testlog"
	"github.com/shoenig/test/must"
)

func TestMemorySink_PendingWaits(t *testing.T) {
	ci.Parallel(t)

	sink := NewMemorySink()

	must.NoError(t, sink.TrackWait("task1", "bbbb0002"))
	must.NoError(t, sink.TrackWait("task1", "aaaa0001"))
	must.NoError(t, sink.TrackWait("task2", "cccc0003"))

	must.Eq(t, []string{"aaaa0001", "bbbb0002"}, sink.PendingWaits("task1"))
	must.Eq(t, []string{"cccc0003"}, sink.PendingWaits("task2"))
	must.Nil(t, sink.PendingWaits("task3"))

	// Terminal update removes the wait from the pending set.
	must.NoError(t, sink.UpdateWaitState("task1", &WaitStateUpdate{
		RemoveID:    "aaaa0001",
		LastState:   "resolved",
		LastEventAt: time.Now(),
	}))
	must.Eq(t, []string{"bbbb0002"}, sink.PendingWaits("task1"))

	updates := sink.Updates("task1")
	must.Len(t, 1, updates)
	must.Eq(t, "resolved", updates[0].LastState)
}

func TestMemorySink_Messages(t *testing.T) {
	ci.Parallel(t)

	sink := NewMemorySink()

	must.NoError(t, sink.PostWaitMessage("task1", "resolved", "Wait resolved: dialog visible"))
	must.NoError(t, sink.PostWaitMessage("task2", "timeout", "Wait timeout: no dialog"))
	must.NoError(t, sink.PostWaitMessage("task1", "cancelled", "Wait cancelled: superseded"))

	msgs := sink.Messages("task1")
	must.Len(t, 2, msgs)
	must.Eq(t, "resolved", msgs[0].State)
	must.Eq(t, "cancelled", msgs[1].State)
}

func TestHTTPSink_Reports(t *testing.T) {
	ci.Parallel(t)

	type received struct {
		method string
		path   string
		token  string
		body   map[string]interface{}
	}

	var mu sync.Mutex
	var reqs []received

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		must.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		reqs = append(reqs, received{
			method: r.Method,
			path:   r.URL.Path,
			token:  r.Header.Get("X-SmartWait-Token"),
			body:   body,
		})
		mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sink, err := NewHTTPSink(&HTTPSinkConfig{
		BaseURL:   ts.URL,
		AuthToken: "secret",
		Logger:    testlog.HCLogger(t),
	})
	must.NoError(t, err)

	must.NoError(t, sink.TrackWait("task1", "aaaa0001"))
	must.NoError(t, sink.PostWaitMessage("task1", "resolved", "Wait resolved: dialog visible"))
	must.NoError(t, sink.UpdateWaitState("task1", &WaitStateUpdate{
		RemoveID:    "aaaa0001",
		LastState:   "resolved",
		LastEventAt: time.Now().UTC(),
	}))

	mu.Lock()
	defer mu.Unlock()
	must.Len(t, 3, reqs)

	must.Eq(t, http.MethodPost, reqs[0].method)
	must.Eq(t, "/v1/task/task1/waits", reqs[0].path)
	must.Eq(t, "secret", reqs[0].token)
	must.Eq(t, "aaaa0001", reqs[0].body["wait_id"])

	must.Eq(t, "/v1/task/task1/messages", reqs[1].path)
	must.Eq(t, "resolved", reqs[1].body["state"])

	must.Eq(t, http.MethodPut, reqs[2].method)
	must.Eq(t, "/v1/task/task1/wait-state", reqs[2].path)
	must.Eq(t, "aaaa0001", reqs[2].body["remove_id"])
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	ci.Parallel(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such task", http.StatusNotFound)
	}))
	defer ts.Close()

	sink, err := NewHTTPSink(&HTTPSinkConfig{
		BaseURL: ts.URL,
		Logger:  testlog.HCLogger(t),
	})
	must.NoError(t, err)

	err = sink.TrackWait("missing", "aaaa0001")
	must.Error(t, err)
	must.StrContains(t, err.Error(), "404")
}

func TestHTTPSink_InvalidAddress(t *testing.T) {
	ci.Parallel(t)

	_, err := NewHTTPSink(&HTTPSinkConfig{
		BaseURL: "ftp://example.com",
		Logger:  testlog.HCLogger(t),
	})
	must.Error(t, err)
}
