package ingestion

import (
	"strings"
	"testing"
	"time"
)

func TestParseTradeExecuted(t *testing.T) {
	data := []byte(`{
		"seq": 7,
		"token_id": "tok-1",
		"user_id": "alice",
		"is_buy": true,
		"base_amount": 990,
		"token_amount": 90042,
		"base_reserves_after": 10990,
		"token_reserves_after": 909958,
		"timestamp_us": 1748736000000000
	}`)

	trade, err := ParseTradeExecuted(data)
	if err != nil {
		t.Fatalf("ParseTradeExecuted: %v", err)
	}

	if trade.Seq != 7 {
		t.Errorf("Seq = %d, want 7", trade.Seq)
	}
	if trade.TokenID != "tok-1" || trade.UserID != "alice" {
		t.Errorf("ids = (%s, %s), want (tok-1, alice)", trade.TokenID, trade.UserID)
	}
	if !trade.IsBuy {
		t.Error("IsBuy = false, want true")
	}
	if trade.BaseAmount != 990 || trade.TokenAmount != 90042 {
		t.Errorf("amounts = (%d, %d), want (990, 90042)", trade.BaseAmount, trade.TokenAmount)
	}
	if trade.BaseReservesAfter != 10990 || trade.TokenReservesAfter != 909958 {
		t.Errorf("reserves = (%d, %d), want (10990, 909958)",
			trade.BaseReservesAfter, trade.TokenReservesAfter)
	}
	want := time.UnixMicro(1748736000000000).UTC()
	if !trade.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", trade.Timestamp, want)
	}
}

func TestParseTradeExecutedRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "malformed json",
			payload: `{"seq": `,
			wantErr: "parse TradeExecuted",
		},
		{
			name:    "missing token_id",
			payload: `{"seq":1,"user_id":"a","base_amount":1,"token_amount":1,"timestamp_us":1}`,
			wantErr: "missing token_id",
		},
		{
			name:    "missing user_id",
			payload: `{"seq":1,"token_id":"t","base_amount":1,"token_amount":1,"timestamp_us":1}`,
			wantErr: "missing user_id",
		},
		{
			name:    "zero seq",
			payload: `{"seq":0,"token_id":"t","user_id":"a","base_amount":1,"token_amount":1,"timestamp_us":1}`,
			wantErr: "non-positive seq",
		},
		{
			name:    "negative amount",
			payload: `{"seq":1,"token_id":"t","user_id":"a","base_amount":-5,"token_amount":1,"timestamp_us":1}`,
			wantErr: "non-positive amounts",
		},
		{
			name:    "missing timestamp",
			payload: `{"seq":1,"token_id":"t","user_id":"a","base_amount":1,"token_amount":1}`,
			wantErr: "missing timestamp_us",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTradeExecuted([]byte(tt.payload))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseTokenCreated(t *testing.T) {
	data := []byte(`{
		"token_id": "tok-1",
		"creator_id": "creator",
		"initial_base_reserves": 10000,
		"initial_token_reserves": 1000000,
		"locked_bps": 2000,
		"fee_bps": 100,
		"timestamp_us": 1748736000000000
	}`)

	cfg, err := ParseTokenCreated(data)
	if err != nil {
		t.Fatalf("ParseTokenCreated: %v", err)
	}

	if cfg.TokenID != "tok-1" || cfg.CreatorID != "creator" {
		t.Errorf("ids = (%s, %s), want (tok-1, creator)", cfg.TokenID, cfg.CreatorID)
	}
	if cfg.InitialBaseReserves != 10_000 || cfg.InitialTokenReserves != 1_000_000 {
		t.Errorf("reserves = (%d, %d), want (10000, 1000000)",
			cfg.InitialBaseReserves, cfg.InitialTokenReserves)
	}
	if cfg.LockedBps != 2000 || cfg.FeeBps != 100 {
		t.Errorf("bps = (%d, %d), want (2000, 100)", cfg.LockedBps, cfg.FeeBps)
	}
	if cfg.Graduated {
		t.Error("new token parsed as graduated")
	}
}

func TestParseTokenCreatedRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty token_id", `{"creator_id":"c","initial_base_reserves":1,"initial_token_reserves":1,"timestamp_us":1}`},
		{"zero reserves", `{"token_id":"t","creator_id":"c","initial_base_reserves":0,"initial_token_reserves":1,"timestamp_us":1}`},
		{"locked bps at denominator", `{"token_id":"t","creator_id":"c","initial_base_reserves":1,"initial_token_reserves":1,"locked_bps":10000,"timestamp_us":1}`},
		{"fee bps negative", `{"token_id":"t","creator_id":"c","initial_base_reserves":1,"initial_token_reserves":1,"fee_bps":-1,"timestamp_us":1}`},
		{"missing timestamp", `{"token_id":"t","creator_id":"c","initial_base_reserves":1,"initial_token_reserves":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTokenCreated([]byte(tt.payload)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
