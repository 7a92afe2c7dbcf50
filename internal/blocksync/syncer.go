package blocksync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/semaphore"

	"github.com/josepot/smoldot/internal/consensus"
	"github.com/josepot/smoldot/internal/finality"
	"github.com/josepot/smoldot/internal/store"
	"github.com/josepot/smoldot/libs/log"
	tmmath "github.com/josepot/smoldot/libs/math"
	"github.com/josepot/smoldot/libs/service"
	"github.com/josepot/smoldot/types"
)

var _ service.Service = (*Syncer)(nil)

// AnnounceOutcome is the result of submitting an announced header.
type AnnounceOutcome int

const (
	// TooOld headers are at or below the finalized height.
	TooOld AnnounceOutcome = iota
	// AlreadyInChain headers are already in the header store.
	AlreadyInChain
	// Imported headers were verified and added to the header store.
	Imported
	// StoredForLater headers have an unknown parent. They are kept until the
	// parent is found, and an ancestry search is scheduled.
	StoredForLater
	// Rejected headers failed verification.
	Rejected
)

func (o AnnounceOutcome) String() string {
	switch o {
	case TooOld:
		return "TooOld"
	case AlreadyInChain:
		return "AlreadyInChain"
	case Imported:
		return "Imported"
	case StoredForLater:
		return "StoredForLater"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("AnnounceOutcome(%d)", int(o))
	}
}

// Status summarizes the progress of the sync.
type Status int

const (
	// NotSynced means there are no peers to sync from.
	NotSynced Status = iota
	// Syncing means peers are ahead and the best head is moving.
	Syncing
	// Synced means the best head is close to the best peer's.
	Synced
	// Stalled means peers are ahead but the best head has not moved for a
	// while.
	Stalled
)

func (s Status) String() string {
	switch s {
	case NotSynced:
		return "NotSynced"
	case Syncing:
		return "Syncing"
	case Synced:
		return "Synced"
	case Stalled:
		return "Stalled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type disjointHeader struct {
	header *types.Header
	peer   types.PeerID
}

// Option sets an optional parameter on the Syncer.
type Option func(*Syncer)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Syncer) { s.metrics = metrics }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// Syncer drives the light client towards the chain head: it imports
// announced and requested headers, requests missing ancestry and finality
// proofs, and maintains the best and finalized heads.
type Syncer struct {
	service.BaseService
	logger log.Logger

	// immutable
	cfg       Config
	verifier  *consensus.Verifier
	transport Transport
	metrics   *Metrics
	now       func() time.Time

	mtx          sync.Mutex
	store        *store.HeaderStore
	tracker      *finality.Tracker
	best         *types.Header
	peers        *peerSet
	pending      map[string]*want
	requests     map[RequestID]*inflight
	inflightKeys map[string]RequestID
	cooldown     map[string]time.Time
	nextID       RequestID
	disjoint     *lru.Cache // types.Hash -> disjointHeader
	badBlocks    *lru.Cache // types.Hash -> struct{}
	lastProgress time.Time
	status       Status

	sem    *semaphore.Weighted
	tasks  *taskgroup.Group
	wakeCh chan struct{}
	cancel context.CancelFunc
}

// NewSyncer returns a syncer importing headers into hs and finality proofs
// into tracker, which must share hs. The syncer owns both from now on: they
// must not be used concurrently by anyone else.
func NewSyncer(
	logger log.Logger,
	cfg Config,
	verifier *consensus.Verifier,
	hs *store.HeaderStore,
	tracker *finality.Tracker,
	transport Transport,
	opts ...Option,
) (*Syncer, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid sync config: %w", err)
	}
	disjoint, err := lru.New(cfg.MaxDisjointHeaders)
	if err != nil {
		return nil, err
	}
	badBlocks, err := lru.New(cfg.BadBlockCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Syncer{
		logger:       logger,
		cfg:          cfg,
		verifier:     verifier,
		transport:    transport,
		metrics:      NopMetrics(),
		now:          time.Now,
		store:        hs,
		tracker:      tracker,
		peers:        newPeerSet(),
		pending:      make(map[string]*want),
		requests:     make(map[RequestID]*inflight),
		inflightKeys: make(map[string]RequestID),
		cooldown:     make(map[string]time.Time),
		disjoint:     disjoint,
		badBlocks:    badBlocks,
		sem:          semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		wakeCh:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastProgress = s.now()
	s.recomputeBest()
	s.metrics.FinalizedHeight.Set(float64(tracker.Finalized().Number))

	s.BaseService = *service.NewBaseService(logger, "Syncer", s)
	return s, nil
}

// OnStart starts the loop that expires and schedules requests.
func (s *Syncer) OnStart(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.tasks = taskgroup.New(nil)
	s.tasks.Go(func() error {
		s.loop(ctx)
		return nil
	})
	return nil
}

// OnStop cancels every request and waits for the loop and the request tasks
// to exit.
func (s *Syncer) OnStop() {
	s.cancel()
	_ = s.tasks.Wait()
}

// SubmitPeerAnnouncement handles a header announced by a peer as its new
// best block.
func (s *Syncer) SubmitPeerAnnouncement(peerID types.PeerID, h *types.Header) (AnnounceOutcome, error) {
	if err := peerID.Validate(); err != nil {
		return Rejected, err
	}
	if h == nil {
		return Rejected, syncErr(peerID, ErrMalformedPayload, "nil header")
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.peers.upsert(peerID, h.Number, h.Hash()) {
		s.metrics.Peers.Set(float64(s.peers.len()))
	}

	outcome, err := s.importHeader(h, peerID)
	switch outcome {
	case Rejected:
		s.logger.Info("rejected announced header",
			"peer", peerID, "height", h.Number, "hash", h.Hash().Short(), "err", err)
		s.penalize(peerID)
	case Imported, StoredForLater:
		s.wake()
	}
	return outcome, err
}

// SubmitJustification imports a finality proof pushed by a peer.
func (s *Syncer) SubmitJustification(peerID types.PeerID, j *types.Justification) (*finality.Finalization, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	fin, err := s.tracker.ImportJustification(j)
	if err != nil {
		if isPeerFault(err) {
			s.penalize(peerID)
		}
		return nil, err
	}
	s.onFinalized(fin)
	return fin, nil
}

// SubmitCommitVote counts a single commit vote relayed by a peer.
func (s *Syncer) SubmitCommitVote(
	peerID types.PeerID,
	round, setID uint64,
	vote types.SignedPrecommit,
) (*finality.Finalization, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	fin, err := s.tracker.AddVote(round, setID, vote)
	if err != nil {
		if errors.Is(err, finality.ErrBadSignature) {
			s.penalize(peerID)
		}
		return nil, err
	}
	if fin != nil {
		s.onFinalized(fin)
	}
	return fin, nil
}

// AddPeer registers a peer, or updates its best block if it is known.
func (s *Syncer) AddPeer(peerID types.PeerID, bestNumber uint64, bestHash types.Hash) error {
	if err := peerID.Validate(); err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.peers.upsert(peerID, bestNumber, bestHash) {
		s.logger.Info("added peer", "peer", peerID, "height", bestNumber, "num_peers", s.peers.len())
		s.metrics.Peers.Set(float64(s.peers.len()))
	}
	s.wake()
	return nil
}

// RemovePeer forgets a peer. Its requests in flight are cancelled and
// rescheduled with other peers.
func (s *Syncer) RemovePeer(peerID types.PeerID) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.peers.remove(peerID) {
		return
	}
	for id, r := range s.requests {
		if r.peer == peerID {
			s.take(id)
			s.requeue(r)
		}
	}
	s.logger.Info("removed peer", "peer", peerID, "num_peers", s.peers.len())
	s.metrics.Peers.Set(float64(s.peers.len()))
}

// ReportPeer adjusts a peer's priority after an exchange outside the syncer,
// such as a state proof request.
func (s *Syncer) ReportPeer(peerID types.PeerID, ok bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if ok {
		s.peers.reward(peerID)
	} else {
		s.penalize(peerID)
	}
}

// Peers returns every known peer, ordered by id.
func (s *Syncer) Peers() []PeerInfo {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	peers := s.peers.sorted()
	out := make([]PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = p.info()
	}
	return out
}

// PeersAtLeast returns the peers whose best block is at least number, highest
// priority first.
func (s *Syncer) PeersAtLeast(number uint64) []PeerInfo {
	all := s.Peers()
	out := all[:0]
	for _, p := range all {
		if p.BestNumber >= number {
			out = append(out, p)
		}
	}
	sortByPriority(out)
	return out
}

// BestHead returns the tip of the heaviest known fork. Ties are broken by
// height, then by lowest hash.
func (s *Syncer) BestHead() *types.Header {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.best
}

// FinalizedHead returns the latest finalized header.
func (s *Syncer) FinalizedHead() *types.Header {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.tracker.Finalized()
}

// Authorities returns the active authority set.
func (s *Syncer) Authorities() *types.AuthoritySet {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.tracker.Authorities()
}

// Header returns a header of the store.
func (s *Syncer) Header(hash types.Hash) (*types.Header, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.store.Get(hash)
}

// Status returns the current sync status.
func (s *Syncer) Status() Status {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.computeStatus()
}

//-----------------------------------------------------------------------------
// Import. The caller must hold s.mtx.

func (s *Syncer) importHeader(h *types.Header, from types.PeerID) (AnnounceOutcome, error) {
	hash := h.Hash()
	if h.Number <= s.tracker.Finalized().Number {
		return TooOld, nil
	}
	if s.store.Contains(hash) {
		return AlreadyInChain, nil
	}
	if s.badBlocks.Contains(hash) {
		return Rejected, ErrBadBlock
	}
	if s.badBlocks.Contains(h.ParentHash) {
		s.badBlocks.Add(hash, struct{}{})
		s.metrics.RejectedHeaders.With("reason", "bad_parent").Add(1)
		return Rejected, ErrBadBlock
	}

	parent, ok := s.store.Get(h.ParentHash)
	if !ok {
		s.storeDisjoint(h, from)
		return StoredForLater, nil
	}
	if err := s.verifyAndInsert(h, parent); err != nil {
		return Rejected, err
	}
	s.connectDisjoint(hash)
	return Imported, nil
}

func (s *Syncer) verifyAndInsert(h, parent *types.Header) error {
	hash := h.Hash()
	info, err := s.verifier.VerifyHeader(h, parent, consensus.Context{
		Authorities: s.tracker.Authorities(),
		Now:         s.now(),
	})
	if err != nil {
		// a header from the future may become valid later
		if !errors.Is(err, consensus.ErrSlotInFuture) {
			s.badBlocks.Add(hash, struct{}{})
		}
		s.metrics.RejectedHeaders.With("reason", rejectReason(err)).Add(1)
		return err
	}

	parentInfo, _ := s.store.Info(h.ParentHash)
	res := s.store.Insert(h, h.ParentHash, store.BlockInfo{
		Weight:       parentInfo.Weight + info.Weight,
		Slot:         info.Slot,
		StagedChange: info.StagedChange,
	})
	if res != store.Accepted {
		return fmt.Errorf("header store: %v", res)
	}

	if s.better(h, s.best) {
		s.setBest(h)
	}
	return nil
}

func (s *Syncer) storeDisjoint(h *types.Header, from types.PeerID) {
	s.disjoint.Add(h.Hash(), disjointHeader{header: h, peer: from})
	s.metrics.DisjointHeaders.Set(float64(s.disjoint.Len()))

	// the search for the parent's own parent covers this one
	if s.disjoint.Contains(h.ParentHash) {
		return
	}
	fin := s.tracker.Finalized().Number
	if h.Number-1 <= fin {
		return
	}
	count := h.Number - 1 - fin
	if count > s.cfg.MaxHeadersPerRequest {
		count = s.cfg.MaxHeadersPerRequest
	}
	s.want(types.NewHeadersRequestByHash(h.ParentHash, count, true, false), h.Number-1)
}

// connectDisjoint imports the stored headers descending from root.
func (s *Syncer) connectDisjoint(root types.Hash) {
	if s.disjoint.Len() == 0 {
		return
	}
	queue := []types.Hash{root}
	for len(queue) > 0 {
		parentHash := queue[0]
		queue = queue[1:]
		parent, ok := s.store.Get(parentHash)
		if !ok {
			continue
		}
		for _, key := range s.disjoint.Keys() {
			v, ok := s.disjoint.Peek(key)
			if !ok {
				continue
			}
			d := v.(disjointHeader)
			if d.header.ParentHash != parentHash {
				continue
			}
			s.disjoint.Remove(key)
			if err := s.verifyAndInsert(d.header, parent); err != nil {
				s.logger.Info("rejected stored header",
					"peer", d.peer, "height", d.header.Number, "err", err)
				s.penalize(d.peer)
				continue
			}
			queue = append(queue, key.(types.Hash))
		}
	}
	s.metrics.DisjointHeaders.Set(float64(s.disjoint.Len()))
}

// importJustification applies a finality proof received from a peer. It
// reports whether the finalized head moved. Only errors that prove the peer
// sent bad data are returned.
func (s *Syncer) importJustification(from types.PeerID, j *types.Justification) (bool, error) {
	fin, err := s.tracker.ImportJustification(j)
	if err != nil {
		if isPeerFault(err) {
			return false, &SyncError{Peer: from, Err: err}
		}
		s.logger.Debug("ignoring justification", "peer", from, "err", err)
		return false, nil
	}
	s.onFinalized(fin)
	return true, nil
}

func (s *Syncer) onFinalized(f *finality.Finalization) {
	head := f.Head()
	s.store.PruneBelow(head.Number)

	for _, key := range s.disjoint.Keys() {
		if v, ok := s.disjoint.Peek(key); ok && v.(disjointHeader).header.Number <= head.Number {
			s.disjoint.Remove(key)
		}
	}
	s.recomputeBest()
	s.cancelObsolete()
	s.lastProgress = s.now()

	s.metrics.FinalizedHeight.Set(float64(head.Number))
	s.metrics.FinalityRounds.Add(1)
	s.metrics.DisjointHeaders.Set(float64(s.disjoint.Len()))
	if f.AuthoritySet != nil {
		s.logger.Info("authority set changed", "set_id", f.AuthoritySet.SetID,
			"authorities", f.AuthoritySet.Size())
	}
}

// better reports whether a is a better head than b.
func (s *Syncer) better(a, b *types.Header) bool {
	ai, _ := s.store.Info(a.Hash())
	bi, _ := s.store.Info(b.Hash())
	if ai.Weight != bi.Weight {
		return ai.Weight > bi.Weight
	}
	if a.Number != b.Number {
		return a.Number > b.Number
	}
	return a.Hash().Less(b.Hash())
}

func (s *Syncer) recomputeBest() {
	best := s.tracker.Finalized()
	for _, hash := range s.store.Leaves() {
		if h, ok := s.store.Get(hash); ok && s.better(h, best) {
			best = h
		}
	}
	if s.best == nil || s.best.Hash() != best.Hash() {
		s.setBest(best)
	}
}

func (s *Syncer) setBest(h *types.Header) {
	s.best = h
	s.lastProgress = s.now()
	s.metrics.BestHeight.Set(float64(h.Number))
	s.logger.Debug("new best head", "height", h.Number, "hash", h.Hash().Short())
}

func (s *Syncer) computeStatus() Status {
	if s.peers.len() == 0 {
		return NotSynced
	}
	if s.peers.maxBest() <= tmmath.SafeAddClipUint64(s.best.Number, s.cfg.NearHeadDistance) {
		return Synced
	}
	if s.now().Sub(s.lastProgress) >= s.cfg.StallTimeout {
		return Stalled
	}
	return Syncing
}

func (s *Syncer) penalize(peerID types.PeerID) {
	if s.peers.penalize(peerID) {
		s.logger.Info("every peer is at the lowest priority; resetting priorities")
	}
}

func (s *Syncer) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// isPeerFault reports whether a finality error proves the proof is invalid,
// as opposed to being early, late or about headers we lack.
func isPeerFault(err error) bool {
	return errors.Is(err, finality.ErrBadSignature) || errors.Is(err, finality.ErrInsufficientWeight)
}

func rejectReason(err error) string {
	var cerr *consensus.Error
	if errors.As(err, &cerr) {
		return strings.ReplaceAll(cerr.Kind.Error(), " ", "_")
	}
	return "other"
}
