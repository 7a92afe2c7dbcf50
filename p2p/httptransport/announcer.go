package httptransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/gorilla/websocket"

	"github.com/josepot/smoldot/internal/blocksync"
	"github.com/josepot/smoldot/internal/finality"
	"github.com/josepot/smoldot/libs/log"
	"github.com/josepot/smoldot/libs/service"
	"github.com/josepot/smoldot/types"
)

// Handler receives what peers gossip. *blocksync.Syncer implements it.
type Handler interface {
	AddPeer(peerID types.PeerID, bestNumber uint64, bestHash types.Hash) error
	RemovePeer(peerID types.PeerID)
	SubmitPeerAnnouncement(peerID types.PeerID, h *types.Header) (blocksync.AnnounceOutcome, error)
	SubmitJustification(peerID types.PeerID, j *types.Justification) (*finality.Finalization, error)
	SubmitCommitVote(peerID types.PeerID, round, setID uint64, vote types.SignedPrecommit) (*finality.Finalization, error)
}

var _ Handler = (*blocksync.Syncer)(nil)

var errNoStatus = errors.New("first message is not a block announcement")

// Announcer keeps an announce websocket open to every peer and feeds what
// arrives to a Handler. A peer is added to the handler once its first
// announcement arrives and removed when its connection drops.
type Announcer struct {
	service.BaseService

	logger  log.Logger
	cfg     Config
	handler Handler
	peers   []Peer
	dialer  *websocket.Dialer

	cancel context.CancelFunc
	tasks  *taskgroup.Group
}

func NewAnnouncer(logger log.Logger, cfg Config, handler Handler, peers ...Peer) *Announcer {
	a := &Announcer{
		logger:  logger,
		cfg:     cfg,
		handler: handler,
		peers:   peers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
	a.BaseService = *service.NewBaseService(logger, "Announcer", a)
	return a
}

// OnStart starts one connection loop per peer.
func (a *Announcer) OnStart(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.tasks = taskgroup.New(nil)
	for _, p := range a.peers {
		p := p
		a.tasks.Go(func() error {
			a.run(ctx, p)
			return nil
		})
	}
	return nil
}

// OnStop closes every connection and waits for the loops to exit.
func (a *Announcer) OnStop() {
	a.cancel()
	_ = a.tasks.Wait()
}

func (a *Announcer) run(ctx context.Context, p Peer) {
	for {
		added, err := a.session(ctx, p)
		if added {
			a.handler.RemovePeer(p.ID)
		}
		if ctx.Err() != nil {
			return
		}
		a.logger.Info("announce connection closed", "peer", p.ID, "err", err)

		timer := time.NewTimer(a.cfg.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session reads one connection until it fails. It reports whether the peer
// was added to the handler.
func (a *Announcer) session(ctx context.Context, p Peer) (added bool, err error) {
	conn, _, err := a.dialer.DialContext(ctx, p.announceURL(), nil)
	if err != nil {
		return false, err
	}
	conn.SetReadLimit(a.cfg.MaxResponseBytes)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	for {
		typ, bz, err := conn.ReadMessage()
		if err != nil {
			return added, err
		}
		if typ != websocket.BinaryMessage {
			return added, fmt.Errorf("unexpected websocket message type %d", typ)
		}
		msg, err := DecodeMessage(bz)
		if err != nil {
			return added, err
		}
		if !added {
			if msg.Kind != BlockAnnounce {
				return false, errNoStatus
			}
			if err := a.handler.AddPeer(p.ID, msg.Header.Number, msg.Header.Hash()); err != nil {
				return false, err
			}
			added = true
		}
		a.deliver(p.ID, msg)
	}
}

func (a *Announcer) deliver(id types.PeerID, msg *Message) {
	var err error
	switch msg.Kind {
	case BlockAnnounce:
		var outcome blocksync.AnnounceOutcome
		outcome, err = a.handler.SubmitPeerAnnouncement(id, msg.Header)
		a.logger.Debug("block announce", "peer", id, "height", msg.Header.Number, "outcome", outcome.String())
	case JustificationMessage:
		_, err = a.handler.SubmitJustification(id, msg.Justification)
	case CommitVoteMessage:
		_, err = a.handler.SubmitCommitVote(id, msg.Vote.Round, msg.Vote.SetID, msg.Vote.Precommit)
	}
	if err != nil {
		a.logger.Debug("gossip not accepted", "peer", id, "kind", msg.Kind.String(), "err", err)
	}
}
