package model

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// MatchType discriminates the two bundle-item variants spec.md §3 defines.
type MatchType string

const (
	MatchTypeMatchOrders        MatchType = "MatchOrders"
	MatchTypeMatchOneToOneOrders MatchType = "MatchOneToOneOrders"
)

// Status is the lifecycle status carried on a match document (spec §3).
// The core only ever observes Active matches; any other status terminates
// core responsibility for that id.
type Status string

const (
	StatusInactive Status = "Inactive"
	StatusActive   Status = "Active"
	StatusMatched  Status = "Matched"
	StatusError    Status = "Error"
)

// OrderItemTokens is one entry of matchData.orderItems: a collection
// address and the token ids (and counts) it contributes to the match.
//
// spec.md describes orderItems as a tree keyed by collection address
// then token id; we model the wire form as an ordered array of
// {collection, tokens[]} entries instead of a nested map, because JSON
// object key order is not a reliable carrier of the collection insertion
// order the flattening rule (§3) depends on.
type OrderItemTokens struct {
	Collection common.Address `json:"collection"`
	Tokens     []TokenAmount  `json:"tokens"`
}

// MatchState is the match document's lifecycle state.
type MatchState struct {
	Status  Status `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// matchData is the wire shape of the match document's nested matchData
// field.
type matchData struct {
	OrderItems []OrderItemTokens `json:"orderItems"`
}

// Match references the two orders a matcher believes can execute against
// each other (spec §3). OrderItems preserves collection insertion order,
// which the flattening rule (§3) depends on.
type Match struct {
	ID         string     `json:"-"`
	ListingID  string     `json:"listingId"`
	OfferID    string     `json:"offerId"`
	OrderItems []OrderItemTokens `json:"-"`
	MatchData  matchData  `json:"matchData"`
	Type       MatchType  `json:"type"`
	State      MatchState `json:"state"`
}

// UnmarshalJSON populates OrderItems from the nested matchData.orderItems
// wire field so callers can use m.OrderItems directly.
func (m *Match) UnmarshalJSON(data []byte) error {
	type alias Match
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Match(a)
	m.OrderItems = m.MatchData.OrderItems
	return nil
}

// MarshalJSON mirrors OrderItems back into matchData.orderItems.
func (m Match) MarshalJSON() ([]byte, error) {
	type alias Match
	a := alias(m)
	a.MatchData.OrderItems = m.OrderItems
	return json.Marshal(a)
}

// OrderIDs returns the two order ids this match references, in the order
// the builder reads them (spec §4.2 step 1).
func (m *Match) OrderIDs() [2]string {
	return [2]string{m.ListingID, m.OfferID}
}
