package lookingglass

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineEvents(t *testing.T) {
	e := NewEngine(nil)
	s := e.CreateSession("checkid_setup")

	e.NewEventBroadcaster(s.ID).EmitRequest("checkid_setup", map[string]string{"openid.mode": "checkid_setup"})
	e.NewEventBroadcaster(s.ID).EmitTrustDecision("https://rp.example/", "allow", true)

	snap := s.Snapshot()
	require.Len(t, snap.Events, 2)
	assert.Equal(t, EventTypeRequestReceived, snap.Events[0].Type)
	assert.NotEmpty(t, snap.Events[0].ID)
	assert.NotEmpty(t, snap.Events[0].Annotations)
	assert.Equal(t, EventTypeTrustDecision, snap.Events[1].Type)

	t.Run("unknown sessions are ignored", func(t *testing.T) {
		e.AddEvent("missing", Event{Type: EventTypeFlowStep})
		_, ok := e.GetSession("missing")
		assert.False(t, ok)
	})

	t.Run("nil broadcasters discard", func(t *testing.T) {
		var nilEngine *Engine
		assert.Nil(t, nilEngine.NewEventBroadcaster("x"))
		assert.Nil(t, e.NewEventBroadcaster(""))
		assert.NotPanics(t, func() {
			nilEngine.NewEventBroadcaster("x").EmitResponse("id_res", 302, "redirect")
		})
	})

	t.Run("paused sessions drop events", func(t *testing.T) {
		s.setState(SessionStatePaused)
		e.NewEventBroadcaster(s.ID).EmitFlowStep(3, "ignored", "Provider", "RP", nil)
		assert.Len(t, s.Snapshot().Events, 2)
		s.setState(SessionStateActive)
	})
}

func TestEngineHistoryBound(t *testing.T) {
	e := NewEngine(nil)
	e.maxEvents = 3
	s := e.CreateSession("associate")
	for i := 0; i < 5; i++ {
		e.NewEventBroadcaster(s.ID).EmitFlowStep(i, "step", "RP", "Provider", nil)
	}
	events := s.Snapshot().Events
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Data["step"])
}

func TestEngineSessions(t *testing.T) {
	e := NewEngine(nil)
	first := e.CreateSession("a")
	time.Sleep(time.Millisecond)
	second := e.CreateSession("b")

	list := e.ListSessions()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	first.mu.Lock()
	first.UpdatedAt = time.Now().Add(-2 * time.Hour)
	first.mu.Unlock()
	assert.Equal(t, 1, e.ExpireSessions(time.Hour))
	_, ok := e.GetSession(first.ID)
	assert.False(t, ok)

	e.DeleteSession(second.ID)
	assert.Empty(t, e.ListSessions())
}

func TestDecodeMessage(t *testing.T) {
	t.Run("indirect url", func(t *testing.T) {
		d, err := DecodeMessage("https://rp.example/return?openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0" +
			"&openid.mode=id_res&openid.return_to=https%3A%2F%2Frp.example%2Freturn&openid.signed=mode%2Creturn_to&openid.sig=abc")
		require.NoError(t, err)
		assert.Equal(t, "url", d.Format)
		assert.Equal(t, "id_res", d.Mode)
		assert.Equal(t, []string{"mode", "return_to"}, d.Signed)

		var titles []string
		for _, a := range d.Annotations {
			titles = append(titles, a.Title)
		}
		assert.Contains(t, titles, "No Signed Response Nonce")
		assert.NotContains(t, titles, "return_to Not Signed")

		for _, f := range d.Fields {
			if f.Key == "return_to" {
				assert.True(t, f.Signed)
			}
			if f.Key == "sig" {
				assert.False(t, f.Signed)
			}
		}
	})

	t.Run("kv body", func(t *testing.T) {
		d, err := DecodeMessage("ns:http://specs.openid.net/auth/2.0\nassoc_type:HMAC-SHA1\nmac_key:c2VjcmV0\n")
		require.NoError(t, err)
		assert.Equal(t, "kv", d.Format)
		assert.Equal(t, "http://specs.openid.net/auth/2.0", d.Namespace)
		found := false
		for _, a := range d.Annotations {
			found = found || a.Title == "Unencrypted MAC Key"
		}
		assert.True(t, found)
	})

	t.Run("openid 1 query", func(t *testing.T) {
		d, err := DecodeMessage("?openid.mode=checkid_setup&openid.identity=https%3A%2F%2Fop.example%2Falice%2F")
		require.NoError(t, err)
		assert.Equal(t, "query", d.Format)
		assert.Equal(t, "checkid_setup", d.Mode)
		assert.Equal(t, "OpenID 1.x Message", d.Annotations[len(d.Annotations)-1].Title)
	})

	t.Run("not openid", func(t *testing.T) {
		_, err := DecodeMessage("a=b&c=d")
		assert.ErrorIs(t, err, ErrNotOpenID)
		_, err = DecodeMessage("  ")
		assert.ErrorIs(t, err, ErrNotOpenID)
	})
}

func TestWebSocketStream(t *testing.T) {
	e := NewEngine(nil)
	s := e.CreateSession("checkid_immediate")
	e.NewEventBroadcaster(s.ID).EmitRequest("checkid_immediate", nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.HandleWebSocket(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer srv.Close()

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/missing")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/"+s.ID, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() Message {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	assert.Equal(t, "session.info", read().Type)
	assert.Equal(t, string(EventTypeRequestReceived), read().Type)

	e.NewEventBroadcaster(s.ID).EmitResponse("setup_needed", http.StatusFound, "redirect")
	assert.Equal(t, string(EventTypeResponseSent), read().Type)
}

func TestCheckOrigin(t *testing.T) {
	e := NewEngine([]string{"http://localhost:3000"})
	r := httptest.NewRequest(http.MethodGet, "http://op.example/ws", nil)
	assert.True(t, e.checkOrigin(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, e.checkOrigin(r))

	r.Header.Set("Origin", "http://op.example")
	assert.True(t, e.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, e.checkOrigin(r))
}
