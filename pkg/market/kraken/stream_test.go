package market

import "testing"

func TestParseTickerMessage(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		wantPair  string
		wantPrice float64
		wantOK    bool
	}{
		{
			name:      "ticker update",
			msg:       `[340,{"a":["50010.1",1,"1.0"],"b":["50009.9",2,"2.0"],"c":["50010.0","0.005"]},"ticker","XBT/USD"]`,
			wantPair:  "XBT/USD",
			wantPrice: 50010.0,
			wantOK:    true,
		},
		{
			name:   "heartbeat object",
			msg:    `{"event":"heartbeat"}`,
			wantOK: false,
		},
		{
			name:   "subscription status",
			msg:    `{"event":"subscriptionStatus","status":"subscribed","pair":"XBT/USD"}`,
			wantOK: false,
		},
		{
			name:   "other channel",
			msg:    `[42,{"c":["1.0","1"]},"trade","XBT/USD"]`,
			wantOK: false,
		},
		{
			name:   "malformed price",
			msg:    `[340,{"c":["not-a-number","0.005"]},"ticker","XBT/USD"]`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, price, ok := parseTickerMessage([]byte(tt.msg))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, expected %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if pair != tt.wantPair || price != tt.wantPrice {
				t.Errorf("got %s @ %v, expected %s @ %v", pair, price, tt.wantPair, tt.wantPrice)
			}
		})
	}
}

func TestWSPairMapping(t *testing.T) {
	tests := []struct{ in, want string }{
		{"BTC/USD", "XBT/USD"},
		{"ETH/USD", "ETH/USD"},
		{"DOGE/USD", "XDG/USD"},
		{"SOL/USD", "SOL/USD"},
	}
	for _, tt := range tests {
		if got := wsPair(tt.in); got != tt.want {
			t.Errorf("wsPair(%s) = %s, expected %s", tt.in, got, tt.want)
		}
	}
}

func TestFeedLastCache(t *testing.T) {
	f := NewFeed()
	if _, ok := f.Last("BTC/USD"); ok {
		t.Error("empty cache must miss")
	}
	f.mu.Lock()
	f.last["BTC/USD"] = 50000
	f.mu.Unlock()
	if price, ok := f.Last("BTC/USD"); !ok || price != 50000 {
		t.Errorf("Last = %v/%v, expected 50000/true", price, ok)
	}
}
