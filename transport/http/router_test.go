package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/relayauth/adapters/relay"
	"github.com/layer-3/relayauth/adapters/signer"
	"github.com/layer-3/relayauth/adapters/store"
	"github.com/layer-3/relayauth/adapters/tokenizer"
	"github.com/layer-3/relayauth/core"
	"github.com/layer-3/relayauth/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRelay = "wss://relay.example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router  *gin.Engine
	manager *service.AuthManager
	relay   *relay.Relay
}

func newFixture(t *testing.T, withSigner bool, tk *tokenizer.HMACTokenizer) *fixture {
	t.Helper()

	var r *relay.Relay
	r = relay.NewRelay(testRelay, func(context.Context, relay.AuthResponse) error {
		r.SetAuthenticated(true)
		return nil
	})

	opts := []service.Option{}
	if withSigner {
		s, err := signer.GenerateKeySigner()
		require.NoError(t, err)
		opts = append(opts, service.WithSigner(s))
	}
	m := service.NewAuthManager(store.NewMemoryStore(), opts...)
	t.Cleanup(m.Destroy)
	m.MonitorRelay(r)

	var router *gin.Engine
	if tk != nil {
		router = SetupRouter(m, tk)
	} else {
		router = SetupRouter(m, nil)
	}
	return &fixture{router: router, manager: m, relay: r}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRouter_AuthenticateFlow(t *testing.T) {
	f := newFixture(t, true, nil)
	f.relay.SetConnected(true)
	f.relay.SetChallenge("abc")

	w := f.do(t, http.MethodGet, "/auth/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Pending []core.PendingChallenge `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending.Pending, 1)
	assert.Equal(t, "abc", pending.Pending[0].Challenge)

	w = f.do(t, http.MethodPost, "/auth/authenticate", gin.H{"url": testRelay})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var state core.RelayAuthState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, core.StatusAuthenticated, state.Status)
	assert.Empty(t, state.Challenge)
}

func TestRouter_AuthenticateErrors(t *testing.T) {
	f := newFixture(t, false, nil)
	f.relay.SetConnected(true)

	w := f.do(t, http.MethodPost, "/auth/authenticate", gin.H{"url": "wss://unknown.example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/auth/authenticate", gin.H{"url": testRelay})
	assert.Equal(t, http.StatusConflict, w.Code)

	f.relay.SetChallenge("abc")
	w = f.do(t, http.MethodPost, "/auth/authenticate", gin.H{"url": testRelay})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPost, "/auth/authenticate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/auth/retry", gin.H{"url": testRelay})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRouter_Reject(t *testing.T) {
	f := newFixture(t, true, nil)
	f.relay.SetConnected(true)
	f.relay.SetChallenge("abc")

	w := f.do(t, http.MethodPost, "/auth/reject", gin.H{"url": testRelay, "remember_for_session": true})
	require.Equal(t, http.StatusOK, w.Code)

	state, ok := f.manager.GetRelayState(testRelay)
	require.True(t, ok)
	assert.Equal(t, core.StatusNoChallenge, state.Status)

	f.relay.SetChallenge("def")
	assert.Empty(t, f.manager.GetPendingChallenges())

	w = f.do(t, http.MethodDelete, "/auth/rejections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.manager.GetPendingChallenges(), 1)
}

func TestRouter_Preferences(t *testing.T) {
	f := newFixture(t, true, nil)

	w := f.do(t, http.MethodPut, "/auth/preferences", gin.H{"url": "WSS://Relay.Example.com/", "preference": "always"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, core.PreferenceAlways, f.manager.GetPreference(testRelay))

	w = f.do(t, http.MethodPut, "/auth/preferences", gin.H{"url": testRelay, "preference": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/auth/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var prefs struct {
		Preferences map[string]core.Preference `json:"preferences"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.Equal(t, map[string]core.Preference{testRelay: core.PreferenceAlways}, prefs.Preferences)

	w = f.do(t, http.MethodDelete, "/auth/preferences?url="+testRelay, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, core.PreferenceUnset, f.manager.GetPreference(testRelay))
}

func TestRouter_RelayAndSigner(t *testing.T) {
	f := newFixture(t, false, nil)

	w := f.do(t, http.MethodGet, "/auth/relay?url="+testRelay, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state core.RelayAuthState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, testRelay, state.URL)
	assert.False(t, state.Connected)

	w = f.do(t, http.MethodGet, "/auth/relay?url=wss://nope.example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/auth/relays", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testRelay)

	w = f.do(t, http.MethodGet, "/auth/signer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"available":false}`, w.Body.String())
}

func TestRouter_BearerTokenRequired(t *testing.T) {
	tk := tokenizer.NewHMACTokenizer([]byte("secret"))
	f := newFixture(t, false, tk)

	w := f.do(t, http.MethodGet, "/auth/relays", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/auth/relays", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := tk.Issue("operator", time.Minute)
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/auth/relays", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_SignerLifecycle(t *testing.T) {
	f := newFixture(t, false, nil)
	require.NoError(t, f.manager.SetPreference(testRelay, core.PreferenceAlways))
	f.relay.SetConnected(true)
	f.relay.SetChallenge("abc")

	state, _ := f.manager.GetRelayState(testRelay)
	require.Equal(t, core.StatusChallengeReceived, state.Status)

	w := f.do(t, http.MethodPut, "/auth/signer", gin.H{"private_key": "not-hex"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, f.manager.HasSignerAvailable())

	w = f.do(t, http.MethodPut, "/auth/signer", gin.H{
		"private_key": "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"available":true`)

	assert.Eventually(t, func() bool {
		state, _ := f.manager.GetRelayState(testRelay)
		return state.Status == core.StatusAuthenticated
	}, 2*time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodDelete, "/auth/signer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.manager.HasSignerAvailable())
}
