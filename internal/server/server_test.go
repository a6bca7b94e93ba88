// internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familymiles/internal/config"
	"familymiles/internal/loyalty"
	"familymiles/internal/members"
)

type testServer struct {
	*httptest.Server
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Server{
		AccessCode:     "familia",
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		LoginPerMinute: 100,
		AllowedOrigins: []string{"*"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := Build(context.Background(), cfg, "test", logger)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)

	ts := &testServer{Server: srv}
	resp := ts.do(t, http.MethodPost, "/api/login", `{"password":"familia"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		Token string `json:"token"`
	}
	decode(t, resp, &login)
	ts.token = login.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	resp := ts.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/members", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/members/x/programs/latam", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "If-Match")
}

func TestSeededFamily(t *testing.T) {
	ts := newTestServer(t)

	var list []loyalty.Member
	decode(t, ts.do(t, http.MethodGet, "/api/members", ""), &list)
	require.Len(t, list, 4)
	for i, name := range loyalty.FamilyOrder {
		assert.Equal(t, name, list[i].Name)
		assert.Len(t, list[i].Programs, 3)
	}

	var cs []loyalty.Company
	decode(t, ts.do(t, http.MethodGet, "/api/companies", ""), &cs)
	assert.Len(t, cs, 3)
}

func TestEditFlowEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	var list []loyalty.Member
	decode(t, ts.do(t, http.MethodGet, "/api/members", ""), &list)
	member := list[0]
	path := fmt.Sprintf("/api/members/%s/programs/latam", member.ID)

	resp := ts.do(t, http.MethodPut, path, `{"current_balance":"1500","elite_tier":"Gold"}`, "If-Match", `"0"`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"2"`, resp.Header.Get("ETag"))
	var result members.UpdateResult
	decode(t, resp, &result)
	assert.Len(t, result.Changes, 2)
	assert.Equal(t, int64(1500), result.Record.CurrentBalance)
	assert.Equal(t, "Categoria: — → Gold", result.Record.LastChange)

	resp = ts.do(t, http.MethodPut, path, `{"notes":"stale"}`, "If-Match", `"0"`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, path+"/fields", `{"Assento":"Janela"}`, "If-Match", `"2"`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var log []loyalty.LogEntry
	decode(t, ts.do(t, http.MethodGet, "/api/members/"+member.ID+"/log", ""), &log)
	var fields []string
	for _, e := range log {
		if e.ChangeType == loyalty.ChangeUpdate {
			fields = append(fields, e.FieldChanged)
		}
	}
	assert.Equal(t, []string{"current_balance", "elite_tier", "custom_fields.Assento"}, fields)

	resp = ts.do(t, http.MethodGet, "/api/export/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "LATAM Pass: 1.500 milhas | Categoria: Gold")

	var stats loyalty.DashboardStats
	decode(t, ts.do(t, http.MethodGet, "/api/dashboard/stats", ""), &stats)
	assert.Equal(t, 4, stats.TotalMembers)
	assert.Equal(t, int64(1500), stats.TotalPoints)
}

func TestConcurrentEditsFromSameVersion(t *testing.T) {
	ts := newTestServer(t)

	var list []loyalty.Member
	decode(t, ts.do(t, http.MethodGet, "/api/members", ""), &list)
	path := fmt.Sprintf("%s/api/members/%s/programs/smiles", ts.URL, list[1].ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := bytes.NewBufferString(fmt.Sprintf(`{"notes":"edit %d"}`, i))
			req, _ := http.NewRequest(http.MethodPut, path, body)
			req.Header.Set("Authorization", "Bearer "+ts.token)
			req.Header.Set("If-Match", `"0"`)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "only one edit from the same version may win")
}

func TestMemberLifecycleEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/members", `{"name":"Beatriz"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created members.CreateResult
	decode(t, resp, &created)
	assert.Equal(t, "Beatriz", created.MemberName)

	resp = ts.do(t, http.MethodPost, "/api/members", `{"name":"beatriz"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/members/"+created.MemberID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/members/"+created.MemberID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var log []loyalty.LogEntry
	decode(t, ts.do(t, http.MethodGet, "/api/global-log", ""), &log)
	require.NotEmpty(t, log)
	last := log[len(log)-1]
	assert.Equal(t, loyalty.FieldMember, last.FieldChanged)
	assert.Equal(t, loyalty.ValueDeleted, last.NewValue)
}

func TestDeletedMemberHistoryStaysReadable(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/members", `{"name":"Tia"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created members.CreateResult
	decode(t, resp, &created)

	resp = ts.do(t, http.MethodDelete, "/api/members/"+created.MemberID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/members/"+created.MemberID+"/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var log []loyalty.LogEntry
	decode(t, resp, &log)
	require.Len(t, log, 2)
	assert.Equal(t, loyalty.ValueCreated, log[0].NewValue)
	assert.Equal(t, loyalty.ValueActive, log[1].OldValue)
	assert.Equal(t, loyalty.ValueDeleted, log[1].NewValue)
	for _, e := range log {
		assert.Equal(t, created.MemberID, e.MemberID)
	}

	resp = ts.do(t, http.MethodGet, "/api/members/never-existed/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var none []loyalty.LogEntry
	decode(t, resp, &none)
	assert.Empty(t, none)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, "127.0.0.1:0", http.NotFoundHandler(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
