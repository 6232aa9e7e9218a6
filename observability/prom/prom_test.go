package prom

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/floegence/snaprelay/observability"
)

func TestRelayObserver_Exports(t *testing.T) {
	reg := NewRegistry()
	o := NewRelayObserver(reg)
	o.ConnCount(3)
	o.SessionCount(1)
	o.Join(observability.JoinResultOK, observability.JoinReasonOK)
	o.Relay(observability.RelayKindPhoto, observability.RelayResultDelivered, 2)
	o.Relay(observability.RelayKindOffer, observability.RelayResultUnauthorized, 0)
	o.Decision(observability.DecisionResultApproved)
	o.Disconnect(observability.KickReasonRateLimited)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)

	for _, want := range []string{
		"snaprelay_connections 3",
		"snaprelay_sessions 1",
		`snaprelay_join_total{reason="ok",result="ok"} 1`,
		`snaprelay_relay_total{kind="photo",result="delivered"} 1`,
		`snaprelay_relay_total{kind="offer",result="unauthorized"} 1`,
		`snaprelay_fanout_recipients_count{kind="photo"} 1`,
		`snaprelay_decision_total{result="approved"} 1`,
		`snaprelay_disconnect_total{reason="rate_limited"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
