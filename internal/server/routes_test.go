package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"casino/internal/config"
	"casino/internal/crash"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubFinder struct {
	rounds map[string]crash.SettledRound
}

func (f stubFinder) FindRound(_ context.Context, roundID string) (crash.SettledRound, error) {
	if r, ok := f.rounds[roundID]; ok {
		return r, nil
	}
	return crash.SettledRound{}, crash.ErrRoundNotFound
}

func testConfig() *config.Config {
	return &config.Config{
		CORSAllowOrigins: "*",
		RateLimitMax:     1000,
	}
}

// newTestServer serves a manager on a fake clock whose rounds crash at 3.00x.
func newTestServer(t *testing.T, finders ...RoundFinder) (*FiberServer, *crash.Manager, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testEpoch)
	manager := crash.NewManager(crash.DefaultConfig(),
		crash.WithClock(clock),
		crash.WithCrashPointFunc(func(string, string) float64 { return 3.00 }),
	)
	manager.Step()

	s := New(testConfig(), manager, nil, nil, finders...)
	s.RegisterFiberRoutes()
	return s, manager, clock
}

func doJSON(t *testing.T, s *FiberServer, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}

	var result map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("could not unmarshal response %s: %v", raw, err)
		}
	}
	return resp.StatusCode, result
}

func startRunning(m *crash.Manager, clock *clockwork.FakeClock) {
	clock.Advance(m.Config().BettingTime)
	m.Step()
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, result := doJSON(t, s, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("expected status OK; got %v", status)
	}

	game, ok := result["game"].(map[string]interface{})
	if !ok || game["status"] != "running" {
		t.Errorf("expected game status running; got %v", result["game"])
	}
	db := result["database"].(map[string]interface{})
	if db["status"] != "disabled" {
		t.Errorf("expected database disabled; got %v", db["status"])
	}
}

func TestJoinHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "valid bet", body: `{"username":"alice","bet_amount":10}`, wantStatus: http.StatusOK},
		{name: "with auto cashout", body: `{"username":"bob","bet_amount":5,"auto_cashout_at":2.5}`, wantStatus: http.StatusOK},
		{name: "zero bet", body: `{"username":"alice","bet_amount":0}`, wantStatus: http.StatusBadRequest, wantCode: "InvalidBet"},
		{name: "auto cashout at 1.00", body: `{"username":"alice","bet_amount":1,"auto_cashout_at":1}`, wantStatus: http.StatusBadRequest, wantCode: "InvalidAutoCashout"},
		{name: "missing username", body: `{"bet_amount":1}`, wantStatus: http.StatusBadRequest, wantCode: CODE_INVALID_REQUEST},
		{name: "malformed body", body: `{"username":`, wantStatus: http.StatusBadRequest, wantCode: CODE_INVALID_REQUEST},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, result := doJSON(t, s, http.MethodPost, "/api/v1/crash/join", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantStatus, result)
			}
			if tt.wantCode != "" && result["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", result["code"], tt.wantCode)
			}
			if tt.wantCode == "" && (result["player_id"] == "" || result["round_id"] == "") {
				t.Errorf("missing ids in %v", result)
			}
		})
	}
}

func TestJoinHandler_RequiresJSON(t *testing.T) {
	s, m, clock := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "join with NaN bet", path: "/api/v1/crash/join", body: "username=eve&bet_amount=NaN&auto_cashout_at=1.5"},
		{name: "cashout", path: "/api/v1/crash/cashout", body: "player_id=nobody"},
		{name: "verify", path: "/api/v1/crash/verify", body: "server_seed=s&round_id=r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := s.App.Test(req)
			if err != nil {
				t.Fatalf("could not perform request: %v", err)
			}
			defer resp.Body.Close()

			var result APIError
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest || result.Code != CODE_INVALID_REQUEST {
				t.Errorf("got %d %+v, want 400 InvalidRequest", resp.StatusCode, result)
			}
		})
	}

	if players := m.CurrentRound().Players; len(players) != 0 {
		t.Fatalf("form join should not register a bet, got %+v", players)
	}

	// The round keeps running for honest players.
	_, joined := doJSON(t, s, http.MethodPost, "/api/v1/crash/join", `{"username":"bob","bet_amount":10}`)
	startRunning(m, clock)
	clock.Advance(8 * time.Second)
	m.Step()

	status, result := doJSON(t, s, http.MethodPost, "/api/v1/crash/cashout", `{"player_id":"`+joined["player_id"].(string)+`"}`)
	if status != http.StatusOK {
		t.Errorf("cashout = %d %v, want 200", status, result)
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}
}

func TestJoinHandler_BettingClosed(t *testing.T) {
	s, m, clock := newTestServer(t)
	startRunning(m, clock)

	status, result := doJSON(t, s, http.MethodPost, "/api/v1/crash/join", `{"username":"late","bet_amount":1}`)
	if status != http.StatusConflict || result["code"] != "RoundNotJoinable" {
		t.Errorf("got %d %v, want 409 RoundNotJoinable", status, result)
	}
}

func TestCashoutHandler(t *testing.T) {
	s, m, clock := newTestServer(t)

	_, joined := doJSON(t, s, http.MethodPost, "/api/v1/crash/join", `{"username":"alice","bet_amount":10}`)
	playerBody := `{"player_id":"` + joined["player_id"].(string) + `"}`

	status, result := doJSON(t, s, http.MethodPost, "/api/v1/crash/cashout", playerBody)
	if status != http.StatusConflict || result["code"] != "RoundNotRunning" {
		t.Errorf("waiting cashout = %d %v, want 409 RoundNotRunning", status, result)
	}

	startRunning(m, clock)
	clock.Advance(5 * time.Second)

	status, result = doJSON(t, s, http.MethodPost, "/api/v1/crash/cashout", playerBody)
	if status != http.StatusOK {
		t.Fatalf("cashout = %d %v, want 200", status, result)
	}
	if result["multiplier"] != 1.25 || result["payout"] != 12.5 {
		t.Errorf("cashout = %v, want 1.25x for 12.5", result)
	}

	status, result = doJSON(t, s, http.MethodPost, "/api/v1/crash/cashout", playerBody)
	if status != http.StatusConflict || result["code"] != "AlreadyCashedOut" {
		t.Errorf("second cashout = %d %v, want 409 AlreadyCashedOut", status, result)
	}

	status, result = doJSON(t, s, http.MethodPost, "/api/v1/crash/cashout", `{"player_id":"nobody"}`)
	if status != http.StatusNotFound || result["code"] != "UnknownPlayer" {
		t.Errorf("unknown player = %d %v, want 404 UnknownPlayer", status, result)
	}

	status, result = doJSON(t, s, http.MethodPost, "/api/v1/crash/cashout", `{}`)
	if status != http.StatusBadRequest || result["code"] != CODE_INVALID_REQUEST {
		t.Errorf("empty body = %d %v, want 400 InvalidRequest", status, result)
	}
}

func TestStatusHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, result := doJSON(t, s, http.MethodGet, "/api/v1/crash/status", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	round, ok := result["round"].(map[string]interface{})
	if !ok {
		t.Fatalf("round missing in %v", result)
	}
	if round["state"] != string(crash.StateWaiting) {
		t.Errorf("state = %v, want waiting", round["state"])
	}
	if _, leaked := round["server_seed"]; leaked {
		t.Error("status leaked the server seed")
	}
	if _, leaked := round["crash_multiplier"]; leaked {
		t.Error("status leaked the crash multiplier")
	}
	if round["commitment"] == "" {
		t.Error("status should carry the commitment")
	}
}

func crashCurrentRound(m *crash.Manager, clock *clockwork.FakeClock) {
	startRunning(m, clock)
	clock.Advance(15 * time.Second)
	m.Step()
}

func TestHistoryHandler(t *testing.T) {
	s, m, clock := newTestServer(t)
	crashCurrentRound(m, clock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crash/history", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	var history []crash.HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 1 || history[0].CrashMultiplier != 3.00 {
		t.Errorf("history = %+v, want one round at 3.00", history)
	}
	if !crash.VerifyCommitment(history[0].ServerSeed, history[0].Commitment) {
		t.Error("history seed does not match its commitment")
	}
}

func TestVerifyHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	actual := crash.CrashPoint("seed", "round-1", crash.DEFAULT_HOUSE_EDGE)

	body, _ := json.Marshal(verifyRequest{ServerSeed: "seed", RoundID: "round-1", CrashMultiplier: actual})
	status, result := doJSON(t, s, http.MethodPost, "/api/v1/crash/verify", string(body))
	if status != http.StatusOK || result["valid"] != true {
		t.Errorf("verify = %d %v, want valid", status, result)
	}
	if result["crash_multiplier"] != actual {
		t.Errorf("crash_multiplier = %v, want %v", result["crash_multiplier"], actual)
	}

	body, _ = json.Marshal(verifyRequest{ServerSeed: "seed", RoundID: "round-1", CrashMultiplier: actual + 5})
	_, result = doJSON(t, s, http.MethodPost, "/api/v1/crash/verify", string(body))
	if result["valid"] != false {
		t.Errorf("verify with wrong multiplier = %v", result)
	}

	status, result = doJSON(t, s, http.MethodPost, "/api/v1/crash/verify", `{"round_id":"round-1"}`)
	if status != http.StatusBadRequest || result["code"] != CODE_INVALID_REQUEST {
		t.Errorf("missing seed = %d %v", status, result)
	}
}

func TestRoundHandler(t *testing.T) {
	archived := crash.SettledRound{RoundID: "archived-1", ServerSeed: "s", CrashMultiplier: 7.7}
	s, m, clock := newTestServer(t, stubFinder{rounds: map[string]crash.SettledRound{"archived-1": archived}})
	crashCurrentRound(m, clock)
	recent := m.History()[0]

	status, result := doJSON(t, s, http.MethodGet, "/api/v1/crash/rounds/archived-1", "")
	if status != http.StatusOK || result["crash_multiplier"] != 7.7 {
		t.Errorf("archived round = %d %v", status, result)
	}

	status, result = doJSON(t, s, http.MethodGet, "/api/v1/crash/rounds/"+recent.RoundID, "")
	if status != http.StatusOK || result["server_seed"] != recent.ServerSeed {
		t.Errorf("history round = %d %v", status, result)
	}

	status, result = doJSON(t, s, http.MethodGet, "/api/v1/crash/rounds/missing", "")
	if status != http.StatusNotFound || result["code"] != "RoundNotFound" {
		t.Errorf("missing round = %d %v, want 404 RoundNotFound", status, result)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, _ := doJSON(t, s, http.MethodGet, "/ws", "")
	if status != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want %d", status, http.StatusUpgradeRequired)
	}
}

func TestHandleWSMessage(t *testing.T) {
	s, _, _ := newTestServer(t)

	reply, ok := s.handleWSMessage([]byte(`{"type":"ping"}`))
	if !ok || reply.Type != "pong" {
		t.Errorf("ping reply = %+v", reply)
	}

	reply, ok = s.handleWSMessage([]byte(`{"type":"join","username":"alice","bet_amount":3}`))
	if !ok || reply.Type != "join_result" || reply.Error != nil {
		t.Fatalf("join reply = %+v", reply)
	}
	joined := reply.Data.(crash.JoinResult)

	reply, _ = s.handleWSMessage([]byte(`{"type":"cashout","player_id":"` + joined.PlayerID + `"}`))
	if reply.Type != "cashout_result" || reply.Error == nil || reply.Error.Code != "RoundNotRunning" {
		t.Errorf("cashout reply = %+v", reply)
	}

	reply, _ = s.handleWSMessage([]byte(`{"type":"join","username":" ","bet_amount":3}`))
	if reply.Error == nil || reply.Error.Code != CODE_INVALID_REQUEST {
		t.Errorf("blank username reply = %+v", reply)
	}

	reply, _ = s.handleWSMessage([]byte(`not json`))
	if reply.Type != "error" {
		t.Errorf("invalid frame reply = %+v", reply)
	}

	if _, ok := s.handleWSMessage([]byte(`{"type":"dance"}`)); ok {
		t.Error("unknown frame types should be ignored")
	}
}

func TestWriteEvent(t *testing.T) {
	var sb strings.Builder
	ev := crash.Event{
		Type:      crash.EventMultiplierTick,
		Data:      crash.TickMessage{RoundID: "r1", State: crash.StateRunning, Multiplier: 1.5, Elapsed: 7.07},
		Timestamp: 1709294400000,
	}

	if err := writeEvent(&sb, ev); err != nil {
		t.Fatalf("writeEvent() error = %v", err)
	}

	want := "event: multiplier_tick\n" +
		`data: {"type":"multiplier_tick","data":{"round_id":"r1","state":"running","multiplier":1.5,"elapsed":7.07},"timestamp":1709294400000}` +
		"\n\n"
	if sb.String() != want {
		t.Errorf("writeEvent() = %q, want %q", sb.String(), want)
	}
}

func TestEventFeed_SnapshotThenEvents(t *testing.T) {
	_, m, clock := newTestServer(t)

	feed, err := subscribeFeed(m, "test", 8)
	if err != nil {
		t.Fatalf("subscribeFeed() error = %v", err)
	}
	defer feed.Close()

	startRunning(m, clock)

	first := <-feed.events
	if first.Type != crash.EventSnapshot {
		t.Fatalf("first event = %s, want snapshot", first.Type)
	}
	second := <-feed.events
	if second.Type != crash.EventMultiplierTick {
		t.Errorf("second event = %s, want multiplier_tick", second.Type)
	}
}

func TestEventFeed_SlowClientIsEvicted(t *testing.T) {
	_, m, clock := newTestServer(t)

	feed, err := subscribeFeed(m, "slow", 2)
	if err != nil {
		t.Fatalf("subscribeFeed() error = %v", err)
	}
	defer feed.Close()

	startRunning(m, clock)
	for i := 0; i < 3; i++ {
		clock.Advance(100 * time.Millisecond)
		m.Step()
	}

	select {
	case <-feed.done:
	default:
		t.Fatal("feed should be closed after its buffer filled")
	}
	if m.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", m.SubscriberCount())
	}
}

func TestStreamHandler_SnapshotFirst(t *testing.T) {
	s, _, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.App.Listener(ln)
	defer s.App.ShutdownWithTimeout(2 * time.Second)

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/crash/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "event: snapshot\n" {
		t.Errorf("first line = %q, want snapshot event", line)
	}

	data, _ := reader.ReadString('\n')
	if !strings.HasPrefix(data, `data: {"type":"snapshot"`) {
		t.Errorf("data line = %q", data)
	}
}
