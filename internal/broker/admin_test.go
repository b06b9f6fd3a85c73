package broker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

func adminRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminQueues(t *testing.T) {
	b, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())
	client.write(client.declare("orders", &bunny.QueueConfig{MessageExpiry: 60}))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("orders", "a"))
	client.expectResponse(bunny.ResultSuccess)

	handler := b.AdminHandler()

	rec := adminRequest(t, handler, http.MethodGet, "/admin/queues", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var queues []QueueInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queues))
	require.Len(t, queues, 1)
	assert.Equal(t, "orders", queues[0].Name)
	assert.Equal(t, 1, queues[0].Depth)
	assert.Equal(t, 60, queues[0].Config.MessageExpiry)

	rec = adminRequest(t, handler, http.MethodGet, "/admin/queues/orders", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = adminRequest(t, handler, http.MethodGet, "/admin/queues/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = adminRequest(t, handler, http.MethodDelete, "/admin/queues/orders/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"purged": 1`)

	info, ok := b.Queue("orders")
	require.True(t, ok)
	assert.Zero(t, info.Depth)
}

func TestAdminSessions(t *testing.T) {
	b, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("app", "pw").OK())

	handler := b.AdminHandler()
	rec := adminRequest(t, handler, http.MethodGet, "/admin/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, client.id, sessions[0].ID)
	assert.Equal(t, "app", sessions[0].Username)
	assert.True(t, sessions[0].Authenticated)

	rec = adminRequest(t, handler, http.MethodDelete, "/admin/sessions/"+client.id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := io.ReadAll(client.conn)
	assert.NoError(t, err)

	rec = adminRequest(t, handler, http.MethodDelete, "/admin/sessions/"+client.id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUsersAndStatus(t *testing.T) {
	b, address := startBroker(t, Options{})
	handler := b.AdminHandler()

	rec := adminRequest(t, handler, http.MethodPut, "/admin/users/ops", "s3cret")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.False(t, dialRaw(t, address).login("ops", "wrong").OK())
	assert.True(t, dialRaw(t, address).login("ops", "s3cret").OK())

	rec = adminRequest(t, handler, http.MethodGet, "/admin/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "fakebroker", status["server"])
	assert.Equal(t, true, status["auth"])
}

func TestAdminMetrics(t *testing.T) {
	b, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())
	client.write(client.declare("orders", nil))
	client.expectResponse(bunny.ResultSuccess)

	rec := adminRequest(t, b.AdminHandler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bunnymq_fakebroker_requests_total{opcode="new_queue"} 1`)
	assert.Contains(t, rec.Body.String(), "bunnymq_fakebroker_sessions 1")
}
