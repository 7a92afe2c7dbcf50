package blocksync

import (
	"context"

	"github.com/josepot/smoldot/types"
)

//go:generate mockery --case underscore --name Transport

// Transport sends a request to a peer and returns the encoded response. It
// must honor ctx cancellation.
type Transport interface {
	Request(ctx context.Context, peer types.PeerID, req *types.Request) ([]byte, error)
}
