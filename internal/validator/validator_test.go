package validator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outblock/match-executor/internal/bigint"
	"github.com/outblock/match-executor/internal/model"
)

type fakeTokens struct {
	approved  bool
	owner     common.Address
	allowance *big.Int
	balance   *big.Int
	err       error
}

func (f *fakeTokens) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, f.err
}
func (f *fakeTokens) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.balance, f.err
}
func (f *fakeTokens) IsApprovedForAll(context.Context, common.Address, common.Address, common.Address) (bool, error) {
	return f.approved, f.err
}
func (f *fakeTokens) OwnerOf(context.Context, common.Address, *big.Int) (common.Address, error) {
	return f.owner, f.err
}

func mustU256(t *testing.T, s string) *bigint.U256 {
	t.Helper()
	v, err := bigint.FromDecimal(s)
	if err != nil {
		t.Fatalf("FromDecimal(%q): %v", s, err)
	}
	return v
}

func makeItem(t *testing.T, seller, buyer, currency common.Address, price string) model.WithPrice {
	sell := model.Order{Signer: seller, NFTs: []model.NFT{{
		Collection: common.HexToAddress("0xC"),
		Tokens:     []model.TokenAmount{{TokenID: mustU256(t, "7"), NumTokens: mustU256(t, "1")}},
	}}}
	buy := model.Order{Signer: buyer, ExecParams: []model.ExecParams{{Currency: currency}}}
	return model.WithPrice{
		BundleItem:   model.BundleItem{ID: "m1", Type: model.MatchTypeMatchOneToOneOrders, SellOrder: sell, BuyOrder: buy},
		CurrentPrice: mustU256(t, price),
	}
}

func TestValidateHappyPath(t *testing.T) {
	seller := common.HexToAddress("0xA")
	buyer := common.HexToAddress("0xB")
	currency := common.HexToAddress("0xCur")
	item := makeItem(t, seller, buyer, currency, "100")

	tokens := &fakeTokens{
		approved:  true,
		owner:     seller,
		allowance: big.NewInt(200),
		balance:   big.NewInt(200),
	}
	v := New(tokens, common.HexToAddress("0xExchange"), common.HexToAddress("0xWrapped"), 11, 10, nil)
	res := v.Validate(context.Background(), []model.WithPrice{item})
	if len(res.Invalid) != 0 {
		t.Fatalf("expected no rejections, got %+v", res.Invalid)
	}
	if len(res.Valid) != 1 {
		t.Fatalf("expected 1 valid item")
	}
}

func TestValidateSellerNotApproved(t *testing.T) {
	seller := common.HexToAddress("0xA")
	buyer := common.HexToAddress("0xB")
	currency := common.HexToAddress("0xCur")
	item := makeItem(t, seller, buyer, currency, "100")

	tokens := &fakeTokens{approved: false, owner: seller, allowance: big.NewInt(200), balance: big.NewInt(200)}
	v := New(tokens, common.HexToAddress("0xExchange"), common.HexToAddress("0xWrapped"), 11, 10, nil)
	res := v.Validate(context.Background(), []model.WithPrice{item})
	if len(res.Invalid) != 1 || res.Invalid[0].Code != model.RejectNotApprovedToTransferToken {
		t.Fatalf("expected NotApprovedToTransferToken, got %+v", res.Invalid)
	}
}

func TestValidateSellerNoLongerOwns(t *testing.T) {
	seller := common.HexToAddress("0xA")
	other := common.HexToAddress("0xOther")
	buyer := common.HexToAddress("0xB")
	currency := common.HexToAddress("0xCur")
	item := makeItem(t, seller, buyer, currency, "100")

	tokens := &fakeTokens{approved: true, owner: other, allowance: big.NewInt(200), balance: big.NewInt(200)}
	v := New(tokens, common.HexToAddress("0xExchange"), common.HexToAddress("0xWrapped"), 11, 10, nil)
	res := v.Validate(context.Background(), []model.WithPrice{item})
	if len(res.Invalid) != 1 || res.Invalid[0].Code != model.RejectInsufficientTokenBalance {
		t.Fatalf("expected InsufficientTokenBalance, got %+v", res.Invalid)
	}
}

func TestValidateAllowanceShortByOne(t *testing.T) {
	seller := common.HexToAddress("0xA")
	buyer := common.HexToAddress("0xB")
	currency := common.HexToAddress("0xCur")
	item := makeItem(t, seller, buyer, currency, "1000000000000000000") // 1e18, expectedCost = 1.1e18

	expectedCost := new(big.Int)
	expectedCost.SetString("1100000000000000000", 10)
	short := new(big.Int).Sub(expectedCost, big.NewInt(1))

	tokens := &fakeTokens{approved: true, owner: seller, allowance: short, balance: expectedCost}
	v := New(tokens, common.HexToAddress("0xExchange"), common.HexToAddress("0xWrapped"), 11, 10, nil)
	res := v.Validate(context.Background(), []model.WithPrice{item})
	if len(res.Invalid) != 1 || res.Invalid[0].Code != model.RejectInsufficientCurrencyAllowance {
		t.Fatalf("expected InsufficientCurrencyAllowance, got %+v", res.Invalid)
	}
}

func TestValidateDedupesOrderCurrencyAndWrappedNative(t *testing.T) {
	seller := common.HexToAddress("0xA")
	buyer := common.HexToAddress("0xB")
	wrapped := common.HexToAddress("0xWrapped")
	// order currency IS the wrapped native: only one currency check should run,
	// and fakeTokens returning a single allowance/balance pair is sufficient.
	item := makeItem(t, seller, buyer, wrapped, "100")

	tokens := &fakeTokens{approved: true, owner: seller, allowance: big.NewInt(200), balance: big.NewInt(200)}
	v := New(tokens, common.HexToAddress("0xExchange"), wrapped, 11, 10, nil)
	res := v.Validate(context.Background(), []model.WithPrice{item})
	if len(res.Invalid) != 0 {
		t.Fatalf("expected no rejections, got %+v", res.Invalid)
	}
}
