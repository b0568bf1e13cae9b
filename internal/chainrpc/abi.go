package chainrpc

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/outblock/match-executor/internal/model"
)

// exchangeABIJSON is the minimal exchange-contract interface the pipeline
// depends on: the two match-execution calls and the read-only verifier.
// ABI definitions are treated as opaque encoders per spec (out of scope).
const exchangeABIJSON = `[
	{"type":"function","name":"matchOrders","inputs":[
		{"name":"sells","type":"tuple[]","components":[
			{"name":"isSellOrder","type":"bool"},
			{"name":"signer","type":"address"},
			{"name":"constraints","type":"uint256[]"},
			{"name":"nfts","type":"tuple[]","components":[
				{"name":"collection","type":"address"},
				{"name":"tokens","type":"tuple[]","components":[
					{"name":"tokenId","type":"uint256"},
					{"name":"numTokens","type":"uint256"}
				]}
			]},
			{"name":"execParams","type":"address[2]"},
			{"name":"extraParams","type":"bytes"},
			{"name":"sig","type":"bytes"}
		]},
		{"name":"buys","type":"tuple[]","components":[
			{"name":"isSellOrder","type":"bool"},
			{"name":"signer","type":"address"},
			{"name":"constraints","type":"uint256[]"},
			{"name":"nfts","type":"tuple[]","components":[
				{"name":"collection","type":"address"},
				{"name":"tokens","type":"tuple[]","components":[
					{"name":"tokenId","type":"uint256"},
					{"name":"numTokens","type":"uint256"}
				]}
			]},
			{"name":"execParams","type":"address[2]"},
			{"name":"extraParams","type":"bytes"},
			{"name":"sig","type":"bytes"}
		]},
		{"name":"constructed","type":"tuple[][]","components":[
			{"name":"collection","type":"address"},
			{"name":"tokens","type":"tuple[]","components":[
				{"name":"tokenId","type":"uint256"},
				{"name":"numTokens","type":"uint256"}
			]}
		]}
	],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"matchOneToOneOrders","inputs":[
		{"name":"sells","type":"tuple[]","components":[
			{"name":"isSellOrder","type":"bool"},
			{"name":"signer","type":"address"},
			{"name":"constraints","type":"uint256[]"},
			{"name":"nfts","type":"tuple[]","components":[
				{"name":"collection","type":"address"},
				{"name":"tokens","type":"tuple[]","components":[
					{"name":"tokenId","type":"uint256"},
					{"name":"numTokens","type":"uint256"}
				]}
			]},
			{"name":"execParams","type":"address[2]"},
			{"name":"extraParams","type":"bytes"},
			{"name":"sig","type":"bytes"}
		]},
		{"name":"buys","type":"tuple[]","components":[
			{"name":"isSellOrder","type":"bool"},
			{"name":"signer","type":"address"},
			{"name":"constraints","type":"uint256[]"},
			{"name":"nfts","type":"tuple[]","components":[
				{"name":"collection","type":"address"},
				{"name":"tokens","type":"tuple[]","components":[
					{"name":"tokenId","type":"uint256"},
					{"name":"numTokens","type":"uint256"}
				]}
			]},
			{"name":"execParams","type":"address[2]"},
			{"name":"extraParams","type":"bytes"},
			{"name":"sig","type":"bytes"}
		]}
	],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"verifyMatchOrders","inputs":[
		{"name":"sellHash","type":"bytes32"},
		{"name":"buyHash","type":"bytes32"},
		{"name":"sell","type":"tuple","components":[
			{"name":"isSellOrder","type":"bool"},
			{"name":"signer","type":"address"},
			{"name":"constraints","type":"uint256[]"},
			{"name":"nfts","type":"tuple[]","components":[
				{"name":"collection","type":"address"},
				{"name":"tokens","type":"tuple[]","components":[
					{"name":"tokenId","type":"uint256"},
					{"name":"numTokens","type":"uint256"}
				]}
			]},
			{"name":"execParams","type":"address[2]"},
			{"name":"extraParams","type":"bytes"},
			{"name":"sig","type":"bytes"}
		]},
		{"name":"buy","type":"tuple","components":[
			{"name":"isSellOrder","type":"bool"},
			{"name":"signer","type":"address"},
			{"name":"constraints","type":"uint256[]"},
			{"name":"nfts","type":"tuple[]","components":[
				{"name":"collection","type":"address"},
				{"name":"tokens","type":"tuple[]","components":[
					{"name":"tokenId","type":"uint256"},
					{"name":"numTokens","type":"uint256"}
				]}
			]},
			{"name":"execParams","type":"address[2]"},
			{"name":"extraParams","type":"bytes"},
			{"name":"sig","type":"bytes"}
		]}
	],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

const erc721ABIJSON = `[
	{"type":"function","name":"isApprovedForAll","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"ownerOf","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
]`

var (
	exchangeABI abi.ABI
	erc20ABI    abi.ABI
	erc721ABI   abi.ABI
)

func init() {
	var err error
	if exchangeABI, err = abi.JSON(strings.NewReader(exchangeABIJSON)); err != nil {
		panic("chainrpc: bad exchange ABI: " + err.Error())
	}
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic("chainrpc: bad erc20 ABI: " + err.Error())
	}
	if erc721ABI, err = abi.JSON(strings.NewReader(erc721ABIJSON)); err != nil {
		panic("chainrpc: bad erc721 ABI: " + err.Error())
	}
}

// abiOrder and abiNFT/abiTokenAmount mirror the tuple shapes above; the
// go-ethereum ABI packer maps Go structs to tuples by field order, not by
// name, so field order here must match the ABI components exactly.
type abiTokenAmount struct {
	TokenID   *big.Int
	NumTokens *big.Int
}

type abiNFT struct {
	Collection common.Address
	Tokens     []abiTokenAmount
}

type abiOrder struct {
	IsSellOrder bool
	Signer      common.Address
	Constraints []*big.Int
	NFTs        []abiNFT
	ExecParams  [2]common.Address
	ExtraParams []byte
	Sig         []byte
}

func toAbiOrder(o *model.Order) abiOrder {
	constraints := make([]*big.Int, len(o.Constraints))
	for i, c := range o.Constraints {
		constraints[i] = c.ToBig()
	}
	nfts := make([]abiNFT, len(o.NFTs))
	for i, n := range o.NFTs {
		tokens := make([]abiTokenAmount, len(n.Tokens))
		for j, t := range n.Tokens {
			tokens[j] = abiTokenAmount{TokenID: t.TokenID.ToBig(), NumTokens: t.NumTokens.ToBig()}
		}
		nfts[i] = abiNFT{Collection: n.Collection, Tokens: tokens}
	}
	var execParams [2]common.Address
	if len(o.ExecParams) > 0 {
		execParams[0] = o.ExecParams[0].Complication
		execParams[1] = o.ExecParams[0].Currency
	}
	return abiOrder{
		IsSellOrder: o.IsSellOrder,
		Signer:      o.Signer,
		Constraints: constraints,
		NFTs:        nfts,
		ExecParams:  execParams,
		ExtraParams: o.ExtraParams,
		Sig:         o.Signature,
	}
}

func toAbiNFTSet(nfts []model.NFT) []abiNFT {
	out := make([]abiNFT, len(nfts))
	for i, n := range nfts {
		tokens := make([]abiTokenAmount, len(n.Tokens))
		for j, t := range n.Tokens {
			tokens[j] = abiTokenAmount{TokenID: t.TokenID.ToBig(), NumTokens: t.NumTokens.ToBig()}
		}
		out[i] = abiNFT{Collection: n.Collection, Tokens: tokens}
	}
	return out
}

// PackMatchOrders encodes a matchOrders(sells[], buys[], constructed[][])
// call (spec §4.5 step 3).
func PackMatchOrders(sells, buys []*model.Order, constructed [][]model.NFT) ([]byte, error) {
	abiSells := make([]abiOrder, len(sells))
	for i, s := range sells {
		abiSells[i] = toAbiOrder(s)
	}
	abiBuys := make([]abiOrder, len(buys))
	for i, b := range buys {
		abiBuys[i] = toAbiOrder(b)
	}
	abiConstructed := make([][]abiNFT, len(constructed))
	for i, c := range constructed {
		abiConstructed[i] = toAbiNFTSet(c)
	}
	return exchangeABI.Pack("matchOrders", abiSells, abiBuys, abiConstructed)
}

// PackMatchOneToOneOrders encodes a matchOneToOneOrders(sells[], buys[])
// call.
func PackMatchOneToOneOrders(sells, buys []*model.Order) ([]byte, error) {
	abiSells := make([]abiOrder, len(sells))
	for i, s := range sells {
		abiSells[i] = toAbiOrder(s)
	}
	abiBuys := make([]abiOrder, len(buys))
	for i, b := range buys {
		abiBuys[i] = toAbiOrder(b)
	}
	return exchangeABI.Pack("matchOneToOneOrders", abiSells, abiBuys)
}

// PackVerifyMatchOrders encodes the read-only verifyMatchOrders call.
func PackVerifyMatchOrders(sellHash, buyHash [32]byte, sell, buy *model.Order) ([]byte, error) {
	return exchangeABI.Pack("verifyMatchOrders", sellHash, buyHash, toAbiOrder(sell), toAbiOrder(buy))
}

// UnpackVerifyMatchOrders decodes the bool return value of verifyMatchOrders.
func UnpackVerifyMatchOrders(data []byte) (bool, error) {
	return UnpackBoolFrom(data, "verifyMatchOrders", exchangeABI)
}

// PackAllowance / PackBalanceOf / PackIsApprovedForAll / PackOwnerOf encode
// the ERC-20/ERC-721 read calls the Asset Validator (C4) depends on.
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

func PackBalanceOf(account common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", account)
}

func PackIsApprovedForAll(owner, operator common.Address) ([]byte, error) {
	return erc721ABI.Pack("isApprovedForAll", owner, operator)
}

func PackOwnerOf(tokenID *big.Int) ([]byte, error) {
	return erc721ABI.Pack("ownerOf", tokenID)
}

func UnpackUint256(data []byte, method string, abiSet abi.ABI) (*big.Int, error) {
	vals, err := abiSet.Methods[method].Outputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, errUnexpectedOutputs
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errUnexpectedOutputs
	}
	return v, nil
}

func UnpackAddress(data []byte, method string, abiSet abi.ABI) (common.Address, error) {
	vals, err := abiSet.Methods[method].Outputs.Unpack(data)
	if err != nil {
		return common.Address{}, err
	}
	if len(vals) != 1 {
		return common.Address{}, errUnexpectedOutputs
	}
	a, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, errUnexpectedOutputs
	}
	return a, nil
}

func UnpackBoolFrom(data []byte, method string, abiSet abi.ABI) (bool, error) {
	vals, err := abiSet.Methods[method].Outputs.Unpack(data)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, errUnexpectedOutputs
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, errUnexpectedOutputs
	}
	return b, nil
}

var errUnexpectedOutputs = abiError("chainrpc: unexpected ABI output shape")

type abiError string

func (e abiError) Error() string { return string(e) }
