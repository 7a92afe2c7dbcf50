package types

import (
	"errors"
	"fmt"
)

const (
	// MaxHeadersPerRequest bounds both requests and responses.
	MaxHeadersPerRequest = 512
	// MaxProofNodes bounds a decoded state proof.
	MaxProofNodes = 1 << 12
	// MaxKeysPerRequest bounds the keys of a state proof request.
	MaxKeysPerRequest = 64
)

// RequestKind tags a peer request.
type RequestKind byte

const (
	RequestHeaders RequestKind = iota + 1
	RequestJustification
	RequestStateProof
)

func (k RequestKind) String() string {
	switch k {
	case RequestHeaders:
		return "headers"
	case RequestJustification:
		return "justification"
	case RequestStateProof:
		return "state-proof"
	default:
		return fmt.Sprintf("RequestKind(%d)", byte(k))
	}
}

// Request is a message sent to a peer. The fields used depend on Kind:
//
//	Headers:       StartHash or, when zero, StartNumber; Count; Descending; WithJustifications
//	Justification: BlockHash
//	StateProof:    BlockHash, Keys
type Request struct {
	Kind RequestKind

	StartHash          Hash
	StartNumber        uint64
	Count              uint64
	Descending         bool
	WithJustifications bool

	BlockHash Hash
	Keys      [][]byte
}

// NewHeadersRequestByHash asks for count headers starting at hash.
func NewHeadersRequestByHash(hash Hash, count uint64, descending, withJustifications bool) *Request {
	return &Request{
		Kind:               RequestHeaders,
		StartHash:          hash,
		Count:              count,
		Descending:         descending,
		WithJustifications: withJustifications,
	}
}

// NewHeadersRequestByNumber asks for count headers starting at number.
func NewHeadersRequestByNumber(number, count uint64, descending, withJustifications bool) *Request {
	return &Request{
		Kind:               RequestHeaders,
		StartNumber:        number,
		Count:              count,
		Descending:         descending,
		WithJustifications: withJustifications,
	}
}

func NewJustificationRequest(hash Hash) *Request {
	return &Request{Kind: RequestJustification, BlockHash: hash}
}

func NewStateProofRequest(hash Hash, keys ...[]byte) *Request {
	return &Request{Kind: RequestStateProof, BlockHash: hash, Keys: keys}
}

// ValidateBasic performs stateless checks.
func (r *Request) ValidateBasic() error {
	switch r.Kind {
	case RequestHeaders:
		if r.Count == 0 {
			return errors.New("headers request with zero count")
		}
		if r.Count > MaxHeadersPerRequest {
			return fmt.Errorf("headers request count %d exceeds %d", r.Count, MaxHeadersPerRequest)
		}
	case RequestJustification:
		if r.BlockHash.IsZero() {
			return errors.New("justification request without block hash")
		}
	case RequestStateProof:
		if r.BlockHash.IsZero() {
			return errors.New("state proof request without block hash")
		}
		if len(r.Keys) == 0 || len(r.Keys) > MaxKeysPerRequest {
			return fmt.Errorf("state proof request with %d keys", len(r.Keys))
		}
	default:
		return fmt.Errorf("unknown request kind %v", r.Kind)
	}
	return nil
}

// Key identifies the request detail; two requests with the same key sent to the
// same peer are duplicates.
func (r *Request) Key() string {
	return string(r.Bytes())
}

func (r *Request) Bytes() []byte {
	enc := NewEncoder()
	enc.Byte(byte(r.Kind))
	switch r.Kind {
	case RequestHeaders:
		enc.Hash(r.StartHash)
		enc.Uvarint(r.StartNumber)
		enc.Uvarint(r.Count)
		enc.Bool(r.Descending)
		enc.Bool(r.WithJustifications)
	case RequestJustification:
		enc.Hash(r.BlockHash)
	case RequestStateProof:
		enc.Hash(r.BlockHash)
		enc.Uvarint(uint64(len(r.Keys)))
		for _, k := range r.Keys {
			enc.ByteSlice(k)
		}
	}
	return enc.Bytes()
}

// DecodeRequest decodes and validates a request.
func DecodeRequest(bz []byte) (*Request, error) {
	dec := NewDecoder(bz)
	r := &Request{Kind: RequestKind(dec.Byte())}
	switch r.Kind {
	case RequestHeaders:
		r.StartHash = dec.Hash()
		r.StartNumber = dec.Uvarint()
		r.Count = dec.Uvarint()
		r.Descending = dec.Bool()
		r.WithJustifications = dec.Bool()
	case RequestJustification:
		r.BlockHash = dec.Hash()
	case RequestStateProof:
		r.BlockHash = dec.Hash()
		n := dec.Length(MaxKeysPerRequest)
		for i := 0; i < n && dec.Err() == nil; i++ {
			r.Keys = append(r.Keys, dec.ByteSlice())
		}
	default:
		dec.fail("unknown request kind %d", r.Kind)
	}
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := r.ValidateBasic(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) String() string {
	switch r.Kind {
	case RequestHeaders:
		from := fmt.Sprintf("#%d", r.StartNumber)
		if !r.StartHash.IsZero() {
			from = r.StartHash.Short()
		}
		return fmt.Sprintf("Request{headers from=%s count=%d desc=%v just=%v}",
			from, r.Count, r.Descending, r.WithJustifications)
	case RequestJustification:
		return fmt.Sprintf("Request{justification %v}", r.BlockHash.Short())
	case RequestStateProof:
		return fmt.Sprintf("Request{state-proof %v keys=%d}", r.BlockHash.Short(), len(r.Keys))
	default:
		return fmt.Sprintf("Request{%v}", r.Kind)
	}
}

// BlockData is one entry of a headers response.
type BlockData struct {
	Header        *Header
	Justification *Justification
}

// HeadersResponse answers a headers request, in the requested order.
type HeadersResponse struct {
	Blocks []BlockData
}

func (r *HeadersResponse) Bytes() []byte {
	enc := NewEncoder()
	enc.Uvarint(uint64(len(r.Blocks)))
	for _, b := range r.Blocks {
		b.Header.encode(enc)
		enc.Bool(b.Justification != nil)
		if b.Justification != nil {
			b.Justification.encode(enc)
		}
	}
	return enc.Bytes()
}

// DecodeHeadersResponse decodes the output of HeadersResponse.Bytes.
func DecodeHeadersResponse(bz []byte) (*HeadersResponse, error) {
	dec := NewDecoder(bz)
	n := dec.Length(MaxHeadersPerRequest)
	r := &HeadersResponse{Blocks: make([]BlockData, 0, n)}
	for i := 0; i < n && dec.Err() == nil; i++ {
		var b BlockData
		b.Header = decodeHeader(dec)
		if dec.Bool() {
			b.Justification = decodeJustification(dec)
		}
		r.Blocks = append(r.Blocks, b)
	}
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding headers response: %w", err)
	}
	return r, nil
}

// StateProof is a set of encoded trie nodes proving the value (or absence) of
// keys under a state root.
type StateProof [][]byte

func (p StateProof) Bytes() []byte {
	enc := NewEncoder()
	enc.Uvarint(uint64(len(p)))
	for _, node := range p {
		enc.ByteSlice(node)
	}
	return enc.Bytes()
}

// DecodeStateProof decodes the output of StateProof.Bytes.
func DecodeStateProof(bz []byte) (StateProof, error) {
	dec := NewDecoder(bz)
	n := dec.Length(MaxProofNodes)
	p := make(StateProof, 0, n)
	for i := 0; i < n && dec.Err() == nil; i++ {
		p = append(p, dec.ByteSlice())
	}
	if err := dec.Finish(); err != nil {
		return nil, fmt.Errorf("decoding state proof: %w", err)
	}
	return p, nil
}
