package hub

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinicpro/dictation-sync/internal/auth"
	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/router"
)

type testHub struct {
	hub    *Hub
	issuer *auth.Issuer
	server *httptest.Server
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer, err := auth.NewIssuer(key, "test", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	h := New(DefaultConfig(), issuer, nil, nil)
	server := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		server.Close()
	})
	return &testHub{hub: h, issuer: issuer, server: server}
}

func (th *testHub) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	tr, err := th.issuer.Issue(model.Identity{ClientID: userID, UserID: userID, Kind: model.IdentityUser}, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	url := "ws" + strings.TrimPrefix(th.server.URL, "http") + "?access_token=" + tr.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, m router.Message) {
	t.Helper()
	data, err := router.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) router.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_, msg, err := router.Decode(data)
	if err != nil {
		t.Fatalf("Decode %s: %v", data, err)
	}
	return msg
}

// expectSilence asserts nothing arrives on conn for a short while.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected frame: %s", data)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestHub_RejectsMissingAndInvalidToken(t *testing.T) {
	th := newTestHub(t)
	base := "ws" + strings.TrimPrefix(th.server.URL, "http")

	for _, url := range []string{base, base + "?access_token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("dial %s succeeded, want rejection", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %s: response = %v, want 401", url, resp)
		}
	}
}

func TestHub_AcceptsBearerHeader(t *testing.T) {
	th := newTestHub(t)
	tr, err := th.issuer.Issue(model.Identity{ClientID: "u1", UserID: "u1", Kind: model.IdentityUser}, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	header := http.Header{"Authorization": {"Bearer " + tr.Token}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(th.server.URL, "http"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return th.hub.Stats().Peers == 1 })
}

func TestHub_RelaysWithinChannelOnly(t *testing.T) {
	th := newTestHub(t)
	desktop := th.dial(t, "u1")
	mobile := th.dial(t, "u1")
	stranger := th.dial(t, "u2")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 3 })

	send(t, mobile, router.Transcription{Transcript: "patient reports mild headache"})

	got, ok := receive(t, desktop).(router.Transcription)
	if !ok || got.Transcript != "patient reports mild headache" {
		t.Errorf("desktop received %+v", got)
	}
	expectSilence(t, mobile)
	expectSilence(t, stranger)
}

func TestHub_AnswersPing(t *testing.T) {
	th := newTestHub(t)
	a := th.dial(t, "u1")
	b := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 2 })

	send(t, a, router.Ping{Timestamp: 42})

	pong, ok := receive(t, a).(router.Pong)
	if !ok || pong.Timestamp != 42 {
		t.Errorf("got %+v, want pong 42", pong)
	}
	expectSilence(t, b)
}

func TestHub_Presence(t *testing.T) {
	th := newTestHub(t)
	desktop := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 1 })

	send(t, desktop, router.PresenceEnter{DeviceID: "desktop-1-aaaaa", DeviceName: "Mac Chrome", DeviceType: model.RoleDesktop})
	sync, ok := receive(t, desktop).(router.PresenceSync)
	if !ok || len(sync.Devices) != 0 {
		t.Fatalf("first device sync = %+v, want empty", sync)
	}

	mobile := th.dial(t, "u1")
	send(t, mobile, router.PresenceEnter{DeviceID: "mobile-2-bbbbb", DeviceName: "iPhone Safari", DeviceType: model.RoleMobile})

	sync, ok = receive(t, mobile).(router.PresenceSync)
	if !ok || len(sync.Devices) != 1 || sync.Devices[0].DeviceID != "desktop-1-aaaaa" {
		t.Fatalf("mobile sync = %+v, want the desktop", sync)
	}

	joined, ok := receive(t, desktop).(router.DeviceConnected)
	if !ok || joined.DeviceID != "mobile-2-bbbbb" || joined.DeviceType != model.RoleMobile {
		t.Fatalf("desktop saw %+v, want mobile device_connected", joined)
	}
	if joined.ConnectedAt == 0 {
		t.Error("ConnectedAt not stamped")
	}

	if got := len(th.hub.Devices("user:u1")); got != 2 {
		t.Errorf("Devices() len = %d, want 2", got)
	}

	// Dropping the socket announces every device it registered.
	mobile.Close()
	left, ok := receive(t, desktop).(router.DeviceDisconnected)
	if !ok || left.DeviceID != "mobile-2-bbbbb" {
		t.Errorf("desktop saw %+v, want device_disconnected", left)
	}
}

func TestHub_PresenceLeave(t *testing.T) {
	th := newTestHub(t)
	desktop := th.dial(t, "u1")
	mobile := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 2 })

	send(t, mobile, router.PresenceEnter{DeviceID: "mobile-2-bbbbb", DeviceName: "iPhone Safari", DeviceType: model.RoleMobile})
	receive(t, mobile)  // presence_sync
	receive(t, desktop) // device_connected

	send(t, mobile, router.PresenceLeave{DeviceID: "mobile-2-bbbbb"})
	left, ok := receive(t, desktop).(router.DeviceDisconnected)
	if !ok || left.DeviceID != "mobile-2-bbbbb" {
		t.Errorf("desktop saw %+v", left)
	}

	// A second leave for the same device is not re-broadcast.
	send(t, mobile, router.PresenceLeave{DeviceID: "mobile-2-bbbbb"})
	expectSilence(t, desktop)
}

func TestHub_DropsMalformed(t *testing.T) {
	th := newTestHub(t)
	a := th.dial(t, "u1")
	b := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 2 })

	a.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	a.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcription"}`))
	expectSilence(t, b)
}

func TestHub_RelaysUnknownKinds(t *testing.T) {
	th := newTestHub(t)
	a := th.dial(t, "u1")
	b := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 2 })

	frame := []byte(`{"type":"note_generated","noteId":"n1"}`)
	a.WriteMessage(websocket.TextMessage, frame)

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]string
	json.Unmarshal(data, &got)
	if got["type"] != "note_generated" {
		t.Errorf("relayed frame = %s", data)
	}
}

func TestHub_CurrentChangedPublishes(t *testing.T) {
	th := newTestHub(t)
	mobile := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 1 })

	th.hub.CurrentChanged(context.Background(), "u1", &model.PatientSession{ID: "s1", PatientName: "Jane Doe"})

	got, ok := receive(t, mobile).(router.SyncCurrentPatient)
	if !ok || got.PatientSessionID != "s1" || got.PatientName != "Jane Doe" {
		t.Errorf("got %+v", got)
	}
}

func TestHub_GuestChannel(t *testing.T) {
	th := newTestHub(t)
	guest := th.dial(t, "guest-abc")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 1 })

	if n := th.hub.Publish("guest:abc", []byte(`{"type":"pong","timestamp":1}`)); n != 1 {
		t.Errorf("Publish reached %d peers, want 1", n)
	}
	if _, ok := receive(t, guest).(router.Pong); !ok {
		t.Error("guest peer did not receive frame on guest channel")
	}
}

func TestHub_UnregisterOnClose(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "u1")
	waitFor(t, func() bool { return th.hub.Stats().Channels == 1 })

	conn.Close()
	waitFor(t, func() bool { return th.hub.Stats() == Stats{} })
}

func TestHub_CloseChannel(t *testing.T) {
	th := newTestHub(t)
	a := th.dial(t, "u1")
	th.dial(t, "u2")
	waitFor(t, func() bool { return th.hub.Stats().Peers == 2 })

	if n := th.hub.CloseChannel("user:u1"); n != 1 {
		t.Errorf("CloseChannel() = %d, want 1", n)
	}

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := a.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read error = %v, want normal closure", err)
	}
	waitFor(t, func() bool { return th.hub.Stats().Peers == 1 })
}
