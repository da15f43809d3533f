package tuya

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/scalegazer/internal/state"
)

const statusPath = "/v1.0/devices/dev1/status"

func loginRoute() routeFunc {
	return func(call int, r *http.Request, body []byte) (int, any) {
		return http.StatusOK, success(map[string]any{
			"access_token": fmt.Sprintf("session-%d", call),
			"expire_time":  7200,
			"uid":          "app-user",
		})
	}
}

func newTestSessionClient(t *testing.T, f *fakeCloud) *SessionClient {
	t.Helper()
	creds := testCredentials(f.server.URL)
	creds.Username = "alice@example.com"
	creds.Password = "hunter2"
	return NewSessionClient(creds, zap.NewNop(), WithClock(func() time.Time { return testNow }))
}

func TestSessionConnect(t *testing.T) {
	f := newFakeCloud(t)
	f.handle(http.MethodPost, loginPath, loginRoute())
	c := newTestSessionClient(t, f)

	assert.False(t, c.Connected())
	require.NoError(t, c.Authenticate(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, state.StateConnected, c.session.Current())

	// 已连接时不会重复登录
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, 1, f.callCount(http.MethodPost, loginPath))

	var req loginRequest
	require.NoError(t, json.Unmarshal(f.requestBodies(http.MethodPost, loginPath)[0], &req))
	assert.Equal(t, loginRequest{
		Username:    "alice@example.com",
		Password:    "2ab96390c7dbe3439de74d0c9b0b1767",
		CountryCode: DefaultCountryCode,
		Schema:      DefaultAppSchema,
	}, req)

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.Equal(t, state.StateDisconnected, c.session.Current())
}

func TestSessionConnectRejected(t *testing.T) {
	f := newFakeCloud(t)
	f.handle(http.MethodPost, loginPath, func(call int, r *http.Request, body []byte) (int, any) {
		return http.StatusOK, failure(2406, "password error")
	})
	c := newTestSessionClient(t, f)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuth))
	assert.False(t, c.Connected())
}

func TestSessionFetchFlattensStatus(t *testing.T) {
	f := newFakeCloud(t)
	f.handle(http.MethodPost, loginPath, loginRoute())
	f.handle(http.MethodGet, statusPath, func(call int, r *http.Request, body []byte) (int, any) {
		assert.Equal(t, "session-1", r.Header.Get("access_token"))
		return http.StatusOK, success([]map[string]any{
			{"code": "weight", "value": 725},
			{"code": "body_type", "value": 2},
			{"code": "", "value": "ignored"},
		})
	})
	c := newTestSessionClient(t, f)

	data, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, data, 1)

	rec := data[DeviceUserKey]
	assert.Equal(t, json.Number("725"), rec["weight"])
	assert.Equal(t, json.Number("2"), rec["body_type"])
	assert.Len(t, rec, 2)
}

func TestSessionReconnectsOnceOnAuthFailure(t *testing.T) {
	f := newFakeCloud(t)
	f.handle(http.MethodPost, loginPath, loginRoute())
	f.handle(http.MethodGet, statusPath, func(call int, r *http.Request, body []byte) (int, any) {
		if call == 1 {
			return http.StatusOK, failure(1010, "token invalid")
		}
		assert.Equal(t, "session-2", r.Header.Get("access_token"))
		return http.StatusOK, success([]map[string]any{{"code": "weight", "value": 700}})
	})
	c := newTestSessionClient(t, f)

	status, err := c.GetDeviceStatus(context.Background(), testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, json.Number("700"), status["weight"])
	assert.Equal(t, 2, f.callCount(http.MethodPost, loginPath))
	assert.Equal(t, 2, f.callCount(http.MethodGet, statusPath))
	assert.True(t, c.Connected())
}

func TestSessionSecondAuthFailureSurfaces(t *testing.T) {
	f := newFakeCloud(t)
	f.handle(http.MethodPost, loginPath, loginRoute())
	f.handle(http.MethodGet, statusPath, func(call int, r *http.Request, body []byte) (int, any) {
		return http.StatusOK, failure(1012, "token status invalid")
	})
	c := newTestSessionClient(t, f)

	_, err := c.GetDeviceStatus(context.Background(), testDeviceID)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuth))
	assert.Equal(t, 2, f.callCount(http.MethodGet, statusPath))
}

func TestSessionStatusMissingResult(t *testing.T) {
	f := newFakeCloud(t)
	f.handle(http.MethodPost, loginPath, loginRoute())
	f.handle(http.MethodGet, statusPath, func(call int, r *http.Request, body []byte) (int, any) {
		return http.StatusOK, map[string]any{"success": true}
	})
	c := newTestSessionClient(t, f)

	_, err := c.GetDeviceStatus(context.Background(), testDeviceID)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindData))
	assert.Equal(t, 1, f.callCount(http.MethodGet, statusPath))
}
