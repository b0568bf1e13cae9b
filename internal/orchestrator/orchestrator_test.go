package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outblock/match-executor/internal/bigint"
	"github.com/outblock/match-executor/internal/broadcaster"
	"github.com/outblock/match-executor/internal/builder"
	"github.com/outblock/match-executor/internal/chainrpc"
	"github.com/outblock/match-executor/internal/matchstore"
	"github.com/outblock/match-executor/internal/model"
	"github.com/outblock/match-executor/internal/packer"
	"github.com/outblock/match-executor/internal/validator"
	"github.com/outblock/match-executor/internal/verifier"
)

// fakeSource is an in-memory matchstore.Source driven directly by the test.
type fakeSource struct {
	mu      sync.Mutex
	changes chan matchstore.Change

	completed   []string
	reverted    []string
	invalidated []model.Rejection
	progressed  []model.MatchState
}

func newFakeSource() *fakeSource {
	return &fakeSource{changes: make(chan matchstore.Change, 64)}
}

func (f *fakeSource) Start(ctx context.Context) (<-chan struct{}, <-chan matchstore.Change, error) {
	ready := make(chan struct{})
	close(ready)
	return ready, f.changes, nil
}

func (f *fakeSource) OnCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeSource) OnReverted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverted = append(f.reverted, id)
	return nil
}

func (f *fakeSource) OnInvalidated(_ context.Context, id string, code model.RejectCode, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, model.Rejection{MatchID: id, Code: code, Message: message})
	return nil
}

func (f *fakeSource) OnProgress(_ context.Context, id string, partial model.MatchState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressed = append(f.progressed, partial)
	return nil
}

func (f *fakeSource) snapshot() (completed, reverted []string, invalidated []model.Rejection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.completed...), append([]string{}, f.reverted...), append([]model.Rejection{}, f.invalidated...)
}

func (f *fakeSource) progressSnapshot() []model.MatchState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.MatchState{}, f.progressed...)
}

// fakeOrderReader and fakeExchange reuse the shapes already exercised by
// builder/verifier/validator/packer tests. started/proceed let a test make
// the first GetOrders call block, so it can simulate a runBatch goroutine
// that is still mid-pipeline when a later event arrives.
type fakeOrderReader struct {
	mu      sync.Mutex
	orders  map[string]*model.Order
	started chan struct{}
	proceed chan struct{}
	calls   int
}

func (f *fakeOrderReader) GetOrders(_ context.Context, ids []string) (map[string]*model.Order, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first && f.started != nil {
		close(f.started)
		<-f.proceed
	}

	out := make(map[string]*model.Order, len(ids))
	for _, id := range ids {
		if o, ok := f.orders[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

type fakeExchange struct{}

func (fakeExchange) VerifyMatchOrders(context.Context, [32]byte, [32]byte, *model.Order, *model.Order) (bool, error) {
	return true, nil
}

func (fakeExchange) EstimateMatchOrdersGas(context.Context, common.Address, []*model.Order, []*model.Order, [][]model.NFT) (uint64, []byte, error) {
	return 100_000, []byte{0xaa}, nil
}

func (fakeExchange) EstimateMatchOneToOneOrdersGas(context.Context, common.Address, []*model.Order, []*model.Order) (uint64, []byte, error) {
	return 100_000, []byte{0xbb}, nil
}

type fakeTokens struct{}

func (fakeTokens) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}
func (fakeTokens) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}
func (fakeTokens) IsApprovedForAll(context.Context, common.Address, common.Address, common.Address) (bool, error) {
	return true, nil
}
func (fakeTokens) OwnerOf(_ context.Context, _ common.Address, _ *big.Int) (common.Address, error) {
	return common.HexToAddress("0x1"), nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	submits  []broadcaster.TransactionRequest
	outcomes chan broadcaster.Outcome
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{outcomes: make(chan broadcaster.Outcome, 64)}
}

func (b *fakeBroadcaster) Submit(_ context.Context, req broadcaster.TransactionRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, req)
	return nil
}

func (b *fakeBroadcaster) Outcomes() <-chan broadcaster.Outcome { return b.outcomes }
func (b *fakeBroadcaster) Close() error                         { return nil }

func mustU256(t *testing.T, s string) *bigint.U256 {
	t.Helper()
	v, err := bigint.FromDecimal(s)
	if err != nil {
		t.Fatalf("FromDecimal(%q): %v", s, err)
	}
	return v
}

func makeOrder(t *testing.T, sell bool, signer common.Address) *model.Order {
	o := &model.Order{IsSellOrder: sell, Signer: signer}
	for i := range o.Constraints {
		o.Constraints[i] = mustU256(t, "0")
	}
	o.Constraints[model.ConstraintStartPrice] = mustU256(t, "100")
	o.Constraints[model.ConstraintEndPrice] = mustU256(t, "100")
	o.ExecParams = []model.ExecParams{{
		Complication: common.HexToAddress("0x2"),
		Currency:     common.HexToAddress("0x3"),
	}}
	return o
}

func newTestOrchestrator(t *testing.T, source *fakeSource, reader *fakeOrderReader, bc broadcaster.Broadcaster) *Orchestrator {
	t.Helper()
	b := builder.New(reader, 1, "0xExchange")
	v := verifier.New(fakeExchange{})
	a := validator.New(fakeTokens{}, common.HexToAddress("0xExchange"), common.HexToAddress("0xWrapped"), 11, 10, nil)
	p := packer.New(fakeExchange{}, common.HexToAddress("0xExchange"), common.HexToAddress("0xSigner"), 1, 5_000_000, 12, 10, 1, nil)
	return New(1, source, b, v, a, p, bc, nil, 20*time.Millisecond, 1000)
}

func TestOrchestratorDrainsAndSubmitsOnWatermark(t *testing.T) {
	sell := makeOrder(t, true, common.HexToAddress("0x1"))
	buy := makeOrder(t, false, common.HexToAddress("0x1"))
	reader := &fakeOrderReader{orders: map[string]*model.Order{"listing-1": sell, "offer-1": buy}}
	source := newFakeSource()
	bc := newFakeBroadcaster()

	o := newTestOrchestrator(t, source, reader, bc)
	o.inFlightWatermark = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	source.changes <- matchstore.Change{
		Type:  matchstore.ChangeAdded,
		ID:    "m1",
		Match: &model.Match{ID: "m1", ListingID: "listing-1", OfferID: "offer-1", Type: model.MatchTypeMatchOneToOneOrders},
	}

	deadline := time.After(2 * time.Second)
	for {
		bc.mu.Lock()
		n := len(bc.submits)
		bc.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for broadcaster submit")
		case <-time.After(10 * time.Millisecond):
		}
	}

	bc.mu.Lock()
	req := bc.submits[0]
	bc.mu.Unlock()
	if len(req.MatchIDs) != 1 || req.MatchIDs[0] != "m1" {
		t.Errorf("unexpected submitted request: %+v", req)
	}

	stage, ok := o.Stage("m1")
	if !ok || stage != StageSubmitted {
		t.Errorf("expected m1 to be Submitted, got %v ok=%v", stage, ok)
	}

	progress := source.progressSnapshot()
	if len(progress) != 2 {
		t.Fatalf("expected OnProgress called for AssetChecking and Packing, got %+v", progress)
	}
	if progress[0].Message != string(StageAssetChecking) || progress[1].Message != string(StagePacking) {
		t.Errorf("unexpected progress sequence: %+v", progress)
	}
}

func TestOrchestratorCompletesOnOutcome(t *testing.T) {
	sell := makeOrder(t, true, common.HexToAddress("0x1"))
	buy := makeOrder(t, false, common.HexToAddress("0x1"))
	reader := &fakeOrderReader{orders: map[string]*model.Order{"listing-1": sell, "offer-1": buy}}
	source := newFakeSource()
	bc := newFakeBroadcaster()

	o := newTestOrchestrator(t, source, reader, bc)
	o.inFlightWatermark = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	source.changes <- matchstore.Change{
		Type:  matchstore.ChangeAdded,
		ID:    "m1",
		Match: &model.Match{ID: "m1", ListingID: "listing-1", OfferID: "offer-1", Type: model.MatchTypeMatchOneToOneOrders},
	}

	deadline := time.After(2 * time.Second)
	for {
		bc.mu.Lock()
		n := len(bc.submits)
		bc.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for broadcaster submit")
		case <-time.After(10 * time.Millisecond):
		}
	}

	bc.outcomes <- broadcaster.Outcome{MatchID: "m1", Status: broadcaster.OutcomeCompleted}

	deadline = time.After(2 * time.Second)
	for {
		completed, _, _ := source.snapshot()
		if len(completed) == 1 && completed[0] == "m1" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for OnCompleted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOrchestratorRejectsMissingOrder(t *testing.T) {
	reader := &fakeOrderReader{orders: map[string]*model.Order{}}
	source := newFakeSource()
	bc := newFakeBroadcaster()

	o := newTestOrchestrator(t, source, reader, bc)
	o.inFlightWatermark = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	source.changes <- matchstore.Change{
		Type:  matchstore.ChangeAdded,
		ID:    "m2",
		Match: &model.Match{ID: "m2", ListingID: "missing-listing", OfferID: "missing-offer", Type: model.MatchTypeMatchOneToOneOrders},
	}

	deadline := time.After(2 * time.Second)
	for {
		_, _, invalidated := source.snapshot()
		if len(invalidated) == 1 {
			if invalidated[0].Code != model.RejectOrderInvalid {
				t.Errorf("code = %s, want OrderInvalid", invalidated[0].Code)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for OnInvalidated")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOrchestratorRemoveCancelsPendingItem(t *testing.T) {
	sell := makeOrder(t, true, common.HexToAddress("0x1"))
	buy := makeOrder(t, false, common.HexToAddress("0x1"))
	reader := &fakeOrderReader{orders: map[string]*model.Order{"listing-1": sell, "offer-1": buy}}
	source := newFakeSource()
	bc := newFakeBroadcaster()

	o := newTestOrchestrator(t, source, reader, bc)
	// Watermark high enough that Added alone never triggers an immediate
	// drain; only the ticker would, and we cancel before it fires.
	o.inFlightWatermark = 1000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	source.changes <- matchstore.Change{
		Type:  matchstore.ChangeAdded,
		ID:    "m3",
		Match: &model.Match{ID: "m3", ListingID: "listing-1", OfferID: "offer-1", Type: model.MatchTypeMatchOneToOneOrders},
	}
	source.changes <- matchstore.Change{Type: matchstore.ChangeRemoved, ID: "m3"}

	time.Sleep(50 * time.Millisecond)
	if o.PendingCount() != 0 {
		t.Errorf("expected cancelled item removed from pending queue, got %d pending", o.PendingCount())
	}
	if _, ok := o.Stage("m3"); ok {
		t.Error("expected no stage tracked for a cancelled item")
	}
}

// TestOrchestratorModifiedDuringInFlightDoesNotRace exercises spec §5's
// serialization requirement: a Modified event for an id whose prior
// generation is still inside a running runBatch goroutine must not spawn a
// second goroutine on that id. It blocks the first generation mid-Build,
// sends a Modified, and checks the fresh data lands in o.superseded (not
// back in o.pending, which would let the watermark immediately trigger a
// second, concurrent runBatch) and that the cancelled first generation
// never reaches the broadcaster.
func TestOrchestratorModifiedDuringInFlightDoesNotRace(t *testing.T) {
	sell := makeOrder(t, true, common.HexToAddress("0x1"))
	buy := makeOrder(t, false, common.HexToAddress("0x1"))
	reader := &fakeOrderReader{
		orders:  map[string]*model.Order{"listing-1": sell, "offer-1": buy},
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	source := newFakeSource()
	bc := newFakeBroadcaster()

	o := newTestOrchestrator(t, source, reader, bc)
	o.inFlightWatermark = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	source.changes <- matchstore.Change{
		Type:  matchstore.ChangeAdded,
		ID:    "m1",
		Match: &model.Match{ID: "m1", ListingID: "listing-1", OfferID: "offer-1", Type: model.MatchTypeMatchOneToOneOrders},
	}

	select {
	case <-reader.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first runBatch to start building m1")
	}

	// m1's first generation is now blocked inside builder.Build, owned by
	// the inFlight set. A Modified arriving here must defer, not re-queue.
	source.changes <- matchstore.Change{
		Type:  matchstore.ChangeModified,
		ID:    "m1",
		Match: &model.Match{ID: "m1", ListingID: "listing-1", OfferID: "offer-1", Type: model.MatchTypeMatchOneToOneOrders},
	}

	deadline := time.After(2 * time.Second)
	for {
		o.mu.Lock()
		_, superseded := o.superseded["m1"]
		pending := len(o.pending)
		o.mu.Unlock()
		if superseded {
			if pending != 0 {
				t.Errorf("Modified for an inFlight id should not be queued into pending, got %d pending", pending)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the Modified to be recorded as superseded")
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(reader.proceed)

	deadline = time.After(2 * time.Second)
	for {
		bc.mu.Lock()
		n := len(bc.submits)
		bc.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the superseded generation to submit")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// give any stray second goroutine time to also submit, if the fix had
	// failed to prevent one.
	time.Sleep(50 * time.Millisecond)
	bc.mu.Lock()
	n := len(bc.submits)
	bc.mu.Unlock()
	if n != 1 {
		t.Errorf("expected exactly 1 submit (the cancelled first generation must not also reach the broadcaster), got %d", n)
	}
}
