package decision

import (
	"testing"
)

func TestParseResponseWrappedShape(t *testing.T) {
	raw := `{"decisions": {"BTCUSDT": {"signal": "buy_to_enter", "quantity": 0.01, "leverage": 10, "risk_budget_pct": 3}}, "cot_trace": ["looked at RSI", "volume confirms"]}`

	decisions, cot := ParseResponse(raw, nil)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d, ok := decisions["BTCUSDT"]
	if !ok {
		t.Fatal("missing BTCUSDT decision")
	}
	if d.Signal != SignalBuyToEnter || d.Quantity != 0.01 || d.Leverage != 10 {
		t.Errorf("unexpected decision: %+v", d)
	}
	if cot != "looked at RSI\nvolume confirms" {
		t.Errorf("cot = %q", cot)
	}
}

func TestParseResponseBareMap(t *testing.T) {
	raw := `{"ETHUSDT": {"signal": "close_position", "quantity": 1.5}}`

	decisions, cot := ParseResponse(raw, nil)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions["ETHUSDT"].Signal != SignalClosePosition {
		t.Errorf("signal = %q", decisions["ETHUSDT"].Signal)
	}
	if cot != "" {
		t.Errorf("bare map should have no cot, got %q", cot)
	}
}

func TestParseResponseMarkdownFences(t *testing.T) {
	raw := "```json\n{\"decisions\": {\"BTCUSDT\": {\"signal\": \"hold\"}}}\n```"

	decisions, _ := ParseResponse(raw, nil)
	if decisions["BTCUSDT"].Signal != SignalHold {
		t.Errorf("fenced response not parsed: %+v", decisions)
	}

	raw = "```\n{\"BTCUSDT\": {\"signal\": \"hold\"}}\n```"
	decisions, _ = ParseResponse(raw, nil)
	if decisions["BTCUSDT"].Signal != SignalHold {
		t.Errorf("plain fenced response not parsed: %+v", decisions)
	}
}

func TestParseResponseInvalidJSON(t *testing.T) {
	decisions, cot := ParseResponse("I think you should buy BTC because it is going up.", nil)
	if decisions == nil {
		t.Fatal("decisions must never be nil")
	}
	if len(decisions) != 0 || cot != "" {
		t.Errorf("invalid JSON should yield empty decisions, got %v", decisions)
	}
}

func TestParseResponseEmpty(t *testing.T) {
	decisions, _ := ParseResponse("", nil)
	if len(decisions) != 0 {
		t.Errorf("empty response should yield empty decisions")
	}
}

func TestStringifyCotVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"thought about it"`, "thought about it"},
		{"string array", `["a", "b"]`, "a\nb"},
		{"mixed array", `["a", {"step": 1}]`, "a\n{\"step\":1}"},
		{"object", `{"step": 1}`, `{"step": 1}`},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stringifyCot([]byte(tt.raw))
			if got != tt.want {
				t.Errorf("stringifyCot(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidSignal(t *testing.T) {
	for _, s := range []string{SignalBuyToEnter, SignalSellToEnter, SignalClosePosition, SignalStopLoss, SignalTakeProfit, SignalHold} {
		if !ValidSignal(s) {
			t.Errorf("ValidSignal(%q) = false", s)
		}
	}
	for _, s := range []string{"", "buy", "BUY_TO_ENTER", "long"} {
		if ValidSignal(s) {
			t.Errorf("ValidSignal(%q) = true", s)
		}
	}
}
