// Package orchestrator implements the Transaction Orchestrator (C6): it
// hosts the per-chain encoder, maintains a keyed work queue of pending
// matches, batches drained items on a fixed tick or watermark, and drives
// each match id through Discovered → Building → Verifying →
// AssetChecking → Packing → Submitted → Completed|Reverted (spec §4.6).
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/outblock/match-executor/internal/broadcaster"
	"github.com/outblock/match-executor/internal/builder"
	"github.com/outblock/match-executor/internal/eventbus"
	"github.com/outblock/match-executor/internal/matchstore"
	"github.com/outblock/match-executor/internal/model"
	"github.com/outblock/match-executor/internal/packer"
	"github.com/outblock/match-executor/internal/validator"
	"github.com/outblock/match-executor/internal/verifier"
)

// Stage is a match id's current position in the pipeline (spec §4.6).
type Stage string

const (
	StageDiscovered    Stage = "Discovered"
	StageBuilding      Stage = "Building"
	StageVerifying     Stage = "Verifying"
	StageAssetChecking Stage = "AssetChecking"
	StagePacking       Stage = "Packing"
	StageSubmitted     Stage = "Submitted"
	StageCompleted     Stage = "Completed"
	StageReverted      Stage = "Reverted"
	StageRejected      Stage = "Rejected"
)

// Orchestrator wires C1 (via matchstore.Source), C2 (builder), C3
// (verifier), C4 (validator), C5 (packer), and the broadcaster into one
// per-chain state machine.
type Orchestrator struct {
	chainID uint64

	source      matchstore.Source
	builder     *builder.Builder
	verifier    *verifier.Verifier
	validator   *validator.Validator
	packer      *packer.Packer
	broadcaster broadcaster.Broadcaster
	bus         *eventbus.Bus

	tickInterval      time.Duration
	inFlightWatermark int

	mu        sync.Mutex
	pending   map[string]*model.Match // Discovered, awaiting the next drain
	stages    map[string]Stage
	cancelled map[string]struct{}
	// inFlight holds the ids owned by a runBatch goroutine that has not yet
	// returned, so a Modified arriving mid-pipeline for one of them can be
	// deferred instead of starting a second goroutine on the same id.
	inFlight map[string]struct{}
	// superseded holds the latest Match for an id that arrived (Added or
	// Modified) while that id was inFlight; releaseInFlight re-queues it
	// once the in-flight run it superseded has finished.
	superseded map[string]*model.Match
	// submittedGroup maps a broadcaster-visible group key to the match ids
	// bound to it, so an Outcome can fan out to every id in the bundle.
	submittedGroup map[string][]string

	rejectCounts    map[model.RejectCode]int
	lastBundleCount int
	lastSubmittedAt time.Time
}

func New(
	chainID uint64,
	source matchstore.Source,
	b *builder.Builder,
	v *verifier.Verifier,
	a *validator.Validator,
	p *packer.Packer,
	bc broadcaster.Broadcaster,
	bus *eventbus.Bus,
	tickInterval time.Duration,
	inFlightWatermark int,
) *Orchestrator {
	return &Orchestrator{
		chainID:           chainID,
		source:            source,
		builder:           b,
		verifier:          v,
		validator:         a,
		packer:            p,
		broadcaster:       bc,
		bus:               bus,
		tickInterval:      tickInterval,
		inFlightWatermark: inFlightWatermark,
		pending:           make(map[string]*model.Match),
		stages:            make(map[string]Stage),
		cancelled:         make(map[string]struct{}),
		inFlight:          make(map[string]struct{}),
		superseded:        make(map[string]*model.Match),
		submittedGroup:    make(map[string][]string),
		rejectCounts:      make(map[model.RejectCode]int),
	}
}

// ChainID reports the chain this orchestrator instance drives.
func (o *Orchestrator) ChainID() uint64 { return o.chainID }

// RejectCounts returns a snapshot of the rolling rejection-code histogram,
// for the operator status surface (internal/api).
func (o *Orchestrator) RejectCounts() map[model.RejectCode]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[model.RejectCode]int, len(o.rejectCounts))
	for k, v := range o.rejectCounts {
		out[k] = v
	}
	return out
}

// LastSubmitted reports how many match ids were bound into the most
// recently submitted bundle, and when. When one batch submits several
// bundles, only the last one's count is kept.
func (o *Orchestrator) LastSubmitted() (count int, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastBundleCount, o.lastSubmittedAt
}

// Run drives the state machine until ctx is cancelled. It opens the
// durable subscription, then loops on change events, broadcaster
// outcomes, and a drain ticker.
func (o *Orchestrator) Run(ctx context.Context) error {
	ready, changes, err := o.source.Start(ctx)
	if err != nil {
		return err
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("[orchestrator:%d] ready", o.chainID)

	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	var outcomes <-chan broadcaster.Outcome
	if o.broadcaster != nil {
		outcomes = o.broadcaster.Outcomes()
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[orchestrator:%d] shutting down", o.chainID)
			return ctx.Err()
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			o.handleChange(ch)
		case out, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			o.handleOutcome(ctx, out)
		case <-ticker.C:
			go o.drain(ctx)
		}
	}
}

func (o *Orchestrator) handleChange(ch matchstore.Change) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ch.Type {
	case matchstore.ChangeRemoved:
		// A Remove at any stage before Submitted cancels the item (spec
		// §4.6); already-submitted items cannot be recalled.
		if o.stages[ch.ID] == StageSubmitted {
			return
		}
		delete(o.pending, ch.ID)
		delete(o.stages, ch.ID)
		delete(o.superseded, ch.ID)
		o.cancelled[ch.ID] = struct{}{}
	case matchstore.ChangeAdded, matchstore.ChangeModified:
		if _, running := o.inFlight[ch.ID]; running {
			// A runBatch goroutine already owns this id (spec §5: serialize
			// state-machine transitions per match id). Cancel that run so
			// it stops advancing stale state past its current stage
			// boundary, and stash the fresh data for releaseInFlight to
			// re-queue once that run returns, instead of starting a second
			// goroutine racing on the same id.
			o.cancelled[ch.ID] = struct{}{}
			o.superseded[ch.ID] = ch.Match
			break
		}
		// Duplicate events for the same id overwrite the prior work item
		// (spec §3 invariant).
		o.pending[ch.ID] = ch.Match
		o.stages[ch.ID] = StageDiscovered
		delete(o.cancelled, ch.ID)
	}

	if len(o.pending) >= o.inFlightWatermark {
		batch := o.snapshotPending()
		go o.runBatch(context.Background(), batch)
	}
}

func (o *Orchestrator) drain(ctx context.Context) {
	o.mu.Lock()
	batch := o.snapshotPending()
	o.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	o.runBatch(ctx, batch)
}

// snapshotPending must be called with o.mu held; it drains o.pending into
// a batch map, clears it, and marks every id in the batch inFlight so a
// Modified arriving before the batch returns gets deferred by handleChange
// rather than racing a second runBatch goroutine onto the same id.
func (o *Orchestrator) snapshotPending() map[string]*model.Match {
	if len(o.pending) == 0 {
		return nil
	}
	batch := o.pending
	o.pending = make(map[string]*model.Match)
	for id := range batch {
		o.inFlight[id] = struct{}{}
	}
	return batch
}

// releaseInFlight runs when a runBatch goroutine returns: it frees every id
// the batch owned and re-queues any id that was superseded by a Modified
// event while the batch was still running. If that re-queue crosses the
// watermark it drains immediately, the same as handleChange would.
func (o *Orchestrator) releaseInFlight(batch map[string]*model.Match) {
	o.mu.Lock()
	for id := range batch {
		delete(o.inFlight, id)
		if m, ok := o.superseded[id]; ok {
			delete(o.superseded, id)
			delete(o.cancelled, id)
			o.pending[id] = m
			o.stages[id] = StageDiscovered
		}
	}
	var next map[string]*model.Match
	if len(o.pending) >= o.inFlightWatermark {
		next = o.snapshotPending()
	}
	o.mu.Unlock()

	if next != nil {
		go o.runBatch(context.Background(), next)
	}
}

func (o *Orchestrator) isCancelled(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelled[id]
	return ok
}

// progressStages are the stages worth persisting as partial state on the
// match document itself (spec §13's OnProgress write-back), not just
// publishing on the in-process bus: AssetChecking and Packing are the
// two points where a match has cleared verification and is committed to
// a specific bundle shape, so an operator inspecting the row mid-pipeline
// (rather than watching the live feed) can see it got that far.
var progressStages = map[Stage]bool{
	StageAssetChecking: true,
	StagePacking:       true,
}

func (o *Orchestrator) setStage(ctx context.Context, id string, stage Stage) {
	o.mu.Lock()
	if _, cancelled := o.cancelled[id]; cancelled {
		o.mu.Unlock()
		return
	}
	o.stages[id] = stage
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: string(stage), ChainID: o.chainID, MatchID: id, Timestamp: time.Now()})
	}
	if progressStages[stage] {
		partial := model.MatchState{Status: model.StatusActive, Message: string(stage)}
		if err := o.source.OnProgress(ctx, id, partial); err != nil {
			log.Printf("[orchestrator:%d] onProgress(%s, %s) failed: %v", o.chainID, id, stage, err)
		}
	}
}

// runBatch drives one drained batch through Build → Verify → Validate →
// Pack → Submit, honoring cancellation at each stage boundary (the
// suspension points spec §5 enumerates).
func (o *Orchestrator) runBatch(ctx context.Context, batch map[string]*model.Match) {
	defer o.releaseInFlight(batch)

	built := make(map[string]*model.BundleItem, len(batch))
	for id, m := range batch {
		if o.isCancelled(id) {
			continue
		}
		o.setStage(ctx, id, StageBuilding)
		item, err := o.builder.Build(ctx, id, m)
		if err != nil {
			o.reject(ctx, id, err)
			continue
		}
		built[id] = item
	}

	items := make([]*model.BundleItem, 0, len(built))
	for id, item := range built {
		if o.isCancelled(id) {
			continue
		}
		o.setStage(ctx, id, StageVerifying)
		items = append(items, item)
	}
	if len(items) == 0 {
		return
	}

	vres := o.verifier.Verify(ctx, items)
	for _, rej := range vres.Invalid {
		o.rejectCode(ctx, rej)
	}

	priced := make([]model.WithPrice, 0, len(vres.Valid))
	for _, it := range vres.Valid {
		if o.isCancelled(it.ID) {
			continue
		}
		o.setStage(ctx, it.ID, StageAssetChecking)
		priced = append(priced, it)
	}
	if len(priced) == 0 {
		return
	}

	ares := o.validator.Validate(ctx, priced)
	for _, rej := range ares.Invalid {
		o.rejectCode(ctx, rej)
	}

	valid := make([]model.WithPrice, 0, len(ares.Valid))
	for _, it := range ares.Valid {
		if o.isCancelled(it.ID) {
			continue
		}
		o.setStage(ctx, it.ID, StagePacking)
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return
	}

	pres := o.packer.Pack(ctx, valid)
	for _, rej := range pres.Invalid {
		o.rejectCode(ctx, rej)
	}

	for _, req := range pres.Requests {
		o.submit(ctx, req)
	}
}

func (o *Orchestrator) submit(ctx context.Context, req packer.TxRequest) {
	ids := make([]string, 0, len(req.MatchIDs))
	for _, id := range req.MatchIDs {
		if o.isCancelled(id) {
			continue
		}
		o.setStage(ctx, id, StageSubmitted)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}

	groupKey := ids[0]
	o.mu.Lock()
	o.submittedGroup[groupKey] = ids
	o.lastBundleCount = len(ids)
	o.lastSubmittedAt = time.Now()
	o.mu.Unlock()

	breq := broadcaster.TransactionRequest{
		MatchIDs:  ids,
		To:        req.To.Hex(),
		Data:      req.Data,
		GasLimit:  req.GasLimit,
		ChainID:   req.ChainID,
		Type:      req.TxType,
		GasTipCap: req.GasTipCap,
		GasFeeCap: req.GasFeeCap,
	}
	if err := o.broadcaster.Submit(ctx, breq); err != nil {
		log.Printf("[orchestrator:%d] broadcaster submit failed for group %s: %v", o.chainID, groupKey, err)
		for _, id := range ids {
			o.rejectCode(ctx, model.Reject(id, model.RejectUnknownError, "broadcaster submit: %v", err))
		}
	}
}

func (o *Orchestrator) handleOutcome(ctx context.Context, out broadcaster.Outcome) {
	o.mu.Lock()
	ids, ok := o.submittedGroup[out.MatchID]
	if ok {
		delete(o.submittedGroup, out.MatchID)
	} else {
		ids = []string{out.MatchID}
	}
	o.mu.Unlock()

	for _, id := range ids {
		switch out.Status {
		case broadcaster.OutcomeCompleted:
			o.finish(ctx, id, StageCompleted)
		case broadcaster.OutcomeReverted:
			o.finish(ctx, id, StageReverted)
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, id string, stage Stage) {
	o.setStage(ctx, id, stage)
	o.mu.Lock()
	delete(o.stages, id)
	o.mu.Unlock()

	var err error
	switch stage {
	case StageCompleted:
		err = o.source.OnCompleted(ctx, id)
	case StageReverted:
		err = o.source.OnReverted(ctx, id)
	}
	if err != nil {
		log.Printf("[orchestrator:%d] write-back for %s (%s) failed: %v", o.chainID, id, stage, err)
	}
}

func (o *Orchestrator) reject(ctx context.Context, id string, err error) {
	if rej, ok := err.(model.Rejection); ok {
		o.rejectCode(ctx, rej)
		return
	}
	o.rejectCode(ctx, model.Reject(id, model.RejectUnknownError, "%v", err))
}

func (o *Orchestrator) rejectCode(ctx context.Context, rej model.Rejection) {
	o.setStage(ctx, rej.MatchID, StageRejected)
	o.mu.Lock()
	delete(o.stages, rej.MatchID)
	o.rejectCounts[rej.Code]++
	o.mu.Unlock()

	if err := o.source.OnInvalidated(ctx, rej.MatchID, rej.Code, rej.Message); err != nil {
		log.Printf("[orchestrator:%d] onInvalidated(%s, %s) failed: %v", o.chainID, rej.MatchID, rej.Code, err)
	}
}

// Stage reports a match id's current stage, for the operator status
// surface (internal/api).
func (o *Orchestrator) Stage(id string) (Stage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stages[id]
	return s, ok
}

// PendingCount reports the current work-queue depth.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
