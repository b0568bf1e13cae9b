package matchstore

import (
	"testing"

	"github.com/outblock/match-executor/internal/model"
)

func TestClassifyChange(t *testing.T) {
	cases := []struct {
		wasSeen, stillActive bool
		want                 ChangeType
	}{
		{wasSeen: false, stillActive: true, want: ChangeAdded},
		{wasSeen: true, stillActive: true, want: ChangeModified},
		{wasSeen: true, stillActive: false, want: ChangeRemoved},
		{wasSeen: false, stillActive: false, want: ""},
	}
	for _, c := range cases {
		if got := classifyChange(c.wasSeen, c.stillActive); got != c.want {
			t.Errorf("classifyChange(%v,%v) = %q, want %q", c.wasSeen, c.stillActive, got, c.want)
		}
	}
}

func TestDecodeMatchRoundTrip(t *testing.T) {
	raw := []byte(`{
		"listingId": "listing-1",
		"offerId": "offer-1",
		"matchData": {"orderItems": [
			{"collection": "0x0000000000000000000000000000000000000001", "tokens": [{"tokenId":"7","numTokens":"1"}]}
		]},
		"type": "MatchOneToOneOrders",
		"state": {"status": "Active"}
	}`)

	m, err := decodeMatch("m1", raw)
	if err != nil {
		t.Fatalf("decodeMatch: %v", err)
	}
	if m.ID != "m1" {
		t.Errorf("ID = %q, want m1", m.ID)
	}
	if m.ListingID != "listing-1" || m.OfferID != "offer-1" {
		t.Errorf("unexpected order ids: %+v", m)
	}
	if m.Type != model.MatchTypeMatchOneToOneOrders {
		t.Errorf("Type = %q", m.Type)
	}
	if len(m.OrderItems) != 1 || len(m.OrderItems[0].Tokens) != 1 {
		t.Fatalf("unexpected order items: %+v", m.OrderItems)
	}
	if got := m.OrderItems[0].Tokens[0].TokenID.Uint64(); got != 7 {
		t.Errorf("tokenId = %d, want 7", got)
	}
}

func TestDecodeMatchMalformedErrors(t *testing.T) {
	if _, err := decodeMatch("bad", []byte(`not json`)); err == nil {
		t.Error("expected error for malformed doc")
	}
}
