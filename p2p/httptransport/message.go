package httptransport

import (
	"fmt"

	"github.com/josepot/smoldot/types"
)

const (
	RequestPath  = "/request"
	AnnouncePath = "/announce"
)

// MessageKind tags a gossip message.
type MessageKind byte

const (
	BlockAnnounce MessageKind = iota + 1
	JustificationMessage
	CommitVoteMessage
)

func (k MessageKind) String() string {
	switch k {
	case BlockAnnounce:
		return "block-announce"
	case JustificationMessage:
		return "justification"
	case CommitVoteMessage:
		return "commit-vote"
	default:
		return fmt.Sprintf("MessageKind(%d)", byte(k))
	}
}

// Message is pushed by a full node over the announce websocket. Exactly one
// of Header, Justification and Vote is set, matching Kind.
type Message struct {
	Kind          MessageKind
	Header        *types.Header
	Justification *types.Justification
	Vote          *types.CommitVote
}

func NewBlockAnnounce(h *types.Header) *Message {
	return &Message{Kind: BlockAnnounce, Header: h}
}

func NewJustificationMessage(j *types.Justification) *Message {
	return &Message{Kind: JustificationMessage, Justification: j}
}

func NewCommitVoteMessage(v *types.CommitVote) *Message {
	return &Message{Kind: CommitVoteMessage, Vote: v}
}

// Bytes returns the wire encoding: the kind byte followed by the length
// prefixed payload.
func (m *Message) Bytes() []byte {
	var payload []byte
	switch m.Kind {
	case BlockAnnounce:
		payload = m.Header.Bytes()
	case JustificationMessage:
		payload = m.Justification.Bytes()
	case CommitVoteMessage:
		payload = m.Vote.Bytes()
	}
	enc := types.NewEncoder()
	enc.Byte(byte(m.Kind))
	enc.ByteSlice(payload)
	return enc.Bytes()
}

func (m *Message) String() string {
	switch m.Kind {
	case BlockAnnounce:
		return fmt.Sprintf("Message{%v %v}", m.Kind, m.Header)
	case JustificationMessage:
		return fmt.Sprintf("Message{%v %v}", m.Kind, m.Justification)
	default:
		return fmt.Sprintf("Message{%v}", m.Kind)
	}
}

// DecodeMessage decodes the output of Message.Bytes.
func DecodeMessage(bz []byte) (*Message, error) {
	dec := types.NewDecoder(bz)
	m := &Message{Kind: MessageKind(dec.Byte())}
	payload := dec.ByteSlice()
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	var err error
	switch m.Kind {
	case BlockAnnounce:
		m.Header, err = types.DecodeHeader(payload)
	case JustificationMessage:
		m.Justification, err = types.DecodeJustification(payload)
	case CommitVoteMessage:
		m.Vote, err = types.DecodeCommitVote(payload)
	default:
		err = fmt.Errorf("%w: unknown message kind %d", types.ErrMalformedEncoding, m.Kind)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
