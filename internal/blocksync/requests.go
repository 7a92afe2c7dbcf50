package blocksync

import (
	"context"
	"sort"
	"time"

	tmmath "github.com/josepot/smoldot/libs/math"
	"github.com/josepot/smoldot/types"
)

// RequestID identifies a request in flight.
type RequestID uint64

// want is a request waiting for a peer.
type want struct {
	req *types.Request
	// Only peers whose best block is at least minNumber are asked.
	minNumber uint64
	// avoid is the peer that last failed this request. It is only asked again
	// if nobody else can be.
	avoid types.PeerID
}

type inflight struct {
	id       RequestID
	peer     types.PeerID
	want     *want
	key      string
	deadline time.Time
	cancel   context.CancelFunc
}

func (s *Syncer) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mtx.Lock()
			for id := range s.requests {
				s.take(id)
			}
			s.mtx.Unlock()
			return
		case <-ticker.C:
			s.tick()
			s.schedule(ctx)
		case <-s.wakeCh:
			s.schedule(ctx)
		}
	}
}

// tick expires requests past their deadline and refreshes the status.
func (s *Syncer) tick() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := s.now()
	for id, r := range s.requests {
		if now.Before(r.deadline) {
			continue
		}
		s.take(id)
		s.logger.Info("request timed out", "peer", r.peer, "request", r.want.req.String())
		s.metrics.RequestTimeouts.Add(1)
		s.penalize(r.peer)
		s.requeue(r)
	}
	for key, at := range s.cooldown {
		if now.Sub(at) >= s.cfg.RequestTimeout {
			delete(s.cooldown, key)
		}
	}

	status := s.computeStatus()
	if status != s.status {
		s.logger.Info("sync status changed", "from", s.status.String(), "to", status.String(),
			"best", s.best.Number, "finalized", s.tracker.Finalized().Number)
		s.status = status
	}
	if status == Stalled {
		s.metrics.Stalled.Set(1)
	} else {
		s.metrics.Stalled.Set(0)
	}
}

// schedule plans the requests the current state calls for and sends as many
// pending ones as peers and limits allow.
func (s *Syncer) schedule(ctx context.Context) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.planDownloads()
	s.planJustifications()

	pending := make([]*want, 0, len(s.pending))
	for _, w := range s.pending {
		pending = append(pending, w)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].minNumber != pending[j].minNumber {
			return pending[i].minNumber < pending[j].minNumber
		}
		return pending[i].req.Key() < pending[j].req.Key()
	})

	for _, w := range pending {
		minNumber := w.minNumber
		p, ok := s.peers.pick(func(p *peer) bool {
			return p.bestNumber >= minNumber && p.inFlight < s.cfg.MaxRequestsPerPeer
		}, w.avoid)
		if !ok {
			continue
		}
		if !s.sem.TryAcquire(1) {
			break
		}
		s.start(ctx, p, w)
	}
	s.metrics.InFlightRequests.Set(float64(len(s.requests)))
}

// planDownloads asks for the headers above the best head, up to
// DownloadAhead, in chunks aligned on MaxHeadersPerRequest.
func (s *Syncer) planDownloads() {
	best := s.best.Number
	top := s.peers.maxBest()
	if top <= best {
		return
	}
	end := tmmath.MinUint64(tmmath.SafeAddClipUint64(best, s.cfg.DownloadAhead), top)
	chunk := s.cfg.MaxHeadersPerRequest
	for start := (best + 1) / chunk * chunk; start <= end; start += chunk {
		from := start
		if from == 0 {
			from = 1
		}
		count := start + chunk - from
		if last := from + count - 1; last > end {
			count = end - from + 1
		}
		s.want(types.NewHeadersRequestByNumber(from, count, false, false), from)
	}
}

// planJustifications asks for the finality proofs of best chain headers
// that change the authority set or fall on the justification period.
func (s *Syncer) planJustifications() {
	path, ok := s.store.PathFromFinalized(s.best.Hash())
	if !ok {
		return
	}
	var periodic uint64
	if p := s.cfg.JustificationPeriod; p > 0 {
		periodic = s.best.Number / p * p
	}
	for _, h := range path {
		hash := h.Hash()
		info, _ := s.store.Info(hash)
		if info.Justification != nil {
			continue
		}
		if info.StagedChange != nil || (periodic > 0 && h.Number == periodic) {
			s.want(types.NewJustificationRequest(hash), h.Number)
		}
	}
}

// want queues req unless it is already queued, in flight or recently
// answered without progress.
func (s *Syncer) want(req *types.Request, minNumber uint64) {
	key := req.Key()
	if _, ok := s.pending[key]; ok {
		return
	}
	if _, ok := s.inflightKeys[key]; ok {
		return
	}
	if _, ok := s.cooldown[key]; ok {
		return
	}
	s.pending[key] = &want{req: req, minNumber: minNumber}
}

func (s *Syncer) start(ctx context.Context, p *peer, w *want) {
	s.nextID++
	id := s.nextID
	key := w.req.Key()
	rctx, cancel := context.WithCancel(ctx)

	s.requests[id] = &inflight{
		id:       id,
		peer:     p.id,
		want:     w,
		key:      key,
		deadline: s.now().Add(s.cfg.RequestTimeout),
		cancel:   cancel,
	}
	s.inflightKeys[key] = id
	delete(s.pending, key)
	p.inFlight++

	peerID, req := p.id, w.req
	s.tasks.Go(func() error {
		defer s.sem.Release(1)
		payload, err := s.transport.Request(rctx, peerID, req)
		if err != nil {
			_ = s.HandleRequestFailure(id, err)
			return nil
		}
		_ = s.HandleResponse(id, payload)
		return nil
	})
}

// take removes a request from the in-flight set and cancels it. It returns
// nil if the request is not in flight.
func (s *Syncer) take(id RequestID) *inflight {
	r, ok := s.requests[id]
	if !ok {
		return nil
	}
	delete(s.requests, id)
	delete(s.inflightKeys, r.key)
	r.cancel()
	if p, ok := s.peers.get(r.peer); ok {
		p.inFlight--
	}
	return r
}

// requeue queues a failed request again, avoiding the peer that failed it.
func (s *Syncer) requeue(r *inflight) {
	if s.obsolete(r.want) {
		return
	}
	r.want.avoid = r.peer
	s.pending[r.key] = r.want
	s.wake()
}

// obsolete reports whether finality has made the request useless.
func (s *Syncer) obsolete(w *want) bool {
	fin := s.tracker.Finalized().Number
	req := w.req
	switch req.Kind {
	case types.RequestHeaders:
		if req.StartHash.IsZero() && !req.Descending {
			return req.StartNumber+req.Count-1 <= fin
		}
		return w.minNumber <= fin
	case types.RequestJustification:
		return w.minNumber <= fin || !s.store.Contains(req.BlockHash)
	}
	return false
}

func (s *Syncer) cancelObsolete() {
	for id, r := range s.requests {
		if s.obsolete(r.want) {
			s.take(id)
			s.logger.Debug("cancelled obsolete request", "peer", r.peer, "request", r.want.req.String())
		}
	}
	for key, w := range s.pending {
		if s.obsolete(w) {
			delete(s.pending, key)
		}
	}
}

// HandleResponse processes the payload answering a request. Responses to
// requests that are no longer in flight are discarded with
// ErrUnknownRequest. Invalid payloads are reported as *SyncError; the peer is
// deprioritized and the request sent to another peer.
func (s *Syncer) HandleResponse(id RequestID, payload []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r := s.take(id)
	if r == nil {
		s.logger.Debug("discarding response", "request_id", id)
		return ErrUnknownRequest
	}

	var (
		progress bool
		err      error
	)
	switch r.want.req.Kind {
	case types.RequestHeaders:
		progress, err = s.handleHeaders(r, payload)
	case types.RequestJustification:
		progress, err = s.handleJustification(r, payload)
	default:
		err = syncErr(r.peer, ErrUnexpectedResponse, "response to %v request", r.want.req.Kind)
	}
	if err != nil {
		s.logger.Info("bad response", "peer", r.peer, "request", r.want.req.String(), "err", err)
		s.penalize(r.peer)
		s.requeue(r)
		return err
	}

	s.peers.reward(r.peer)
	if !progress {
		s.cooldown[r.key] = s.now()
	}
	s.wake()
	return nil
}

// HandleRequestFailure records that a request failed. The peer is
// deprioritized and the request sent to another peer.
func (s *Syncer) HandleRequestFailure(id RequestID, err error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r := s.take(id)
	if r == nil {
		return ErrUnknownRequest
	}
	s.logger.Info("request failed", "peer", r.peer, "request", r.want.req.String(), "err", err)
	s.penalize(r.peer)
	s.requeue(r)
	return nil
}

func (s *Syncer) handleHeaders(r *inflight, payload []byte) (bool, error) {
	resp, err := types.DecodeHeadersResponse(payload)
	if err != nil {
		return false, syncErr(r.peer, ErrMalformedPayload, "%v", err)
	}
	req := r.want.req
	blocks := resp.Blocks
	switch {
	case len(blocks) == 0:
		return false, syncErr(r.peer, ErrUnexpectedResponse, "no headers")
	case uint64(len(blocks)) > req.Count:
		return false, syncErr(r.peer, ErrUnexpectedResponse, "%d headers, asked for %d", len(blocks), req.Count)
	}

	first := blocks[0].Header
	if !req.StartHash.IsZero() {
		if first.Hash() != req.StartHash {
			return false, syncErr(r.peer, ErrUnexpectedResponse, "first header is %v, asked for %v",
				first.Hash().Short(), req.StartHash.Short())
		}
	} else if first.Number != req.StartNumber {
		return false, syncErr(r.peer, ErrUnexpectedResponse, "first header is #%d, asked for #%d",
			first.Number, req.StartNumber)
	}

	// Check the linkage of the whole response before importing any of it.
	for i := 1; i < len(blocks); i++ {
		parent, child := blocks[i-1].Header, blocks[i].Header
		if req.Descending {
			parent, child = child, parent
		}
		if child.ParentHash != parent.Hash() || child.Number != parent.Number+1 {
			return false, syncErr(r.peer, ErrMalformedPayload, "header #%d does not link to #%d",
				child.Number, parent.Number)
		}
	}
	if req.Descending {
		reversed := make([]types.BlockData, len(blocks))
		for i, b := range blocks {
			reversed[len(blocks)-1-i] = b
		}
		blocks = reversed
	}

	progress := false
	for _, b := range blocks {
		outcome, err := s.importHeader(b.Header, r.peer)
		switch outcome {
		case Rejected:
			return progress, &SyncError{Peer: r.peer, Err: err}
		case Imported:
			progress = true
		}
		if b.Justification != nil && s.store.Contains(b.Header.Hash()) {
			finalized, err := s.importJustification(r.peer, b.Justification)
			if err != nil {
				return progress, err
			}
			progress = progress || finalized
		}
	}
	return progress, nil
}

func (s *Syncer) handleJustification(r *inflight, payload []byte) (bool, error) {
	j, err := types.DecodeJustification(payload)
	if err != nil {
		return false, syncErr(r.peer, ErrMalformedPayload, "%v", err)
	}
	if j.TargetHash != r.want.req.BlockHash {
		return false, syncErr(r.peer, ErrUnexpectedResponse, "justification for %v, asked for %v",
			j.TargetHash.Short(), r.want.req.BlockHash.Short())
	}
	return s.importJustification(r.peer, j)
}
