package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"databurn/internal/ledger"
	"databurn/internal/treasury"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	usdcAddr = "0xaaaa"
	vanaAddr = "0xbbbb"
)

func newTestLedger(t *testing.T) *ledger.FundSplitLedger {
	t.Helper()
	l, err := ledger.New(ledger.Options{
		USDCAddress:      usdcAddr,
		VANAAddress:      vanaAddr,
		ProtocolShareBps: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// serveFeed starts a ws server that pushes the given raw messages and then
// holds the connection open.
func serveFeed(t *testing.T, messages []string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// waitForPending polls the ledger until the protocol balance reaches want.
func waitForPending(t *testing.T, l *ledger.FundSplitLedger, asset string, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := l.PendingProtocol(asset)
		if err != nil {
			t.Fatal(err)
		}
		if pending.Int64() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	pending, _ := l.PendingProtocol(asset)
	t.Fatalf("pending protocol %s never reached %d, got %s", asset, want, pending)
}

func TestClient_CreditsPayments(t *testing.T) {
	l := newTestLedger(t)
	url := serveFeed(t, []string{
		`{"tx_id":"tx1","asset":"0xaaaa","amount":"1000","entity_id":7}`,
	})

	client, err := NewClient(context.Background(), url, l, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	// 1000 at 2000 bps protocol share.
	waitForPending(t, l, usdcAddr, 200)

	entityPending, err := l.PendingEntity(7, usdcAddr)
	if err != nil {
		t.Fatal(err)
	}
	if entityPending.Int64() != 800 {
		t.Errorf("expected entity pending 800, got %s", entityPending)
	}
}

func TestClient_DeduplicatesByTxID(t *testing.T) {
	l := newTestLedger(t)
	url := serveFeed(t, []string{
		`{"tx_id":"tx1","asset":"0xaaaa","amount":"1000","entity_id":7}`,
		`{"tx_id":"tx1","asset":"0xaaaa","amount":"1000","entity_id":7}`,
		`{"tx_id":"tx2","asset":"0xaaaa","amount":"500","entity_id":7}`,
	})

	client, err := NewClient(context.Background(), url, l, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	// tx1 credited once (200) plus tx2 (100); the replay is dropped.
	waitForPending(t, l, usdcAddr, 300)
}

func TestClient_SkipsMalformedMessages(t *testing.T) {
	l := newTestLedger(t)
	url := serveFeed(t, []string{
		`not json at all`,
		`{"tx_id":"tx1","asset":"0xaaaa","amount":"bogus","entity_id":7}`,
		`{"tx_id":"","asset":"0xaaaa","amount":"100","entity_id":7}`,
		`{"tx_id":"tx2","asset":"0xwrong","amount":"100","entity_id":7}`,
		`{"tx_id":"tx3","asset":"0xaaaa","amount":"1000","entity_id":7}`,
	})

	client, err := NewClient(context.Background(), url, l, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	// Only tx3 lands.
	waitForPending(t, l, usdcAddr, 200)
}

func TestClient_RoutesTreasuryDeposits(t *testing.T) {
	l := newTestLedger(t)
	tr := treasury.New(nil)
	url := serveFeed(t, []string{
		`{"tx_id":"tx1","kind":"treasury_deposit","asset":"0xaaaa","amount":"5000","entity_id":7}`,
		`{"tx_id":"tx2","kind":"lottery","asset":"0xaaaa","amount":"100","entity_id":7}`,
		`{"tx_id":"tx3","kind":"payment","asset":"0xaaaa","amount":"1000","entity_id":7}`,
	})

	client, err := NewClient(context.Background(), url, l, tr, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	// The explicit payment lands on the ledger; the unknown kind is dropped.
	waitForPending(t, l, usdcAddr, 200)

	// The deposit lands on the treasury, untouched by the protocol split.
	acct := tr.Account(7)
	if acct == nil || acct.USDCBalance.Int64() != 5000 {
		t.Fatalf("expected treasury deposit 5000 for entity 7, got %+v", acct)
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	url := serveFeed(t, nil)

	client, err := NewClient(context.Background(), url, l, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestAlreadySeen_EvictsOldest(t *testing.T) {
	c := &Client{
		config: Config{DedupeWindow: 2},
		seen:   make(map[string]struct{}),
	}

	if c.alreadySeen("a") {
		t.Error("first a should be new")
	}
	if c.alreadySeen("b") {
		t.Error("first b should be new")
	}
	if !c.alreadySeen("a") {
		t.Error("replayed a should be seen")
	}
	// c evicts a, the oldest entry.
	if c.alreadySeen("c") {
		t.Error("first c should be new")
	}
	if !c.alreadySeen("c") {
		t.Error("replayed c should be seen")
	}
	if c.alreadySeen("a") {
		t.Error("evicted a should look new again")
	}
}
