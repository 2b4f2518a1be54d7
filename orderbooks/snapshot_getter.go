package orderbooks

import (
	"github.com/juju/errors"

	"github.com/mexcdev/mexc-futures-go/client/rest"
	"github.com/mexcdev/mexc-futures-go/common"
)

// DepthSnapshotGetter gets an up-to-date depth snapshot. Typically clients
// should use DepthSnapshotGetterREST, which gets the snapshot from the REST
// API.
//
// This is needed because the incremental depth channel has no periodic
// snapshots: whenever the client starts, or misses an update, it has to
// re-seed the book from somewhere.
type DepthSnapshotGetter interface {
	GetDepthSnapshot() (common.DepthUpdate, error)
}

var _ DepthSnapshotGetter = &DepthSnapshotGetterREST{}

// DepthSnapshotGetterREST implements DepthSnapshotGetter; it gets the
// snapshot for the specified contract from the REST API.
type DepthSnapshotGetterREST struct {
	client *rest.RESTClient
	symbol string
	limit  int
}

// NewDepthSnapshotGetterREST creates a new snapshot getter which uses the
// REST API to get depth snapshots for the given contract. limit caps the
// levels per side (0 for the server default).
func NewDepthSnapshotGetterREST(
	symbol string, limit int, restParams *rest.RESTClientParams,
) *DepthSnapshotGetterREST {
	return &DepthSnapshotGetterREST{
		client: rest.NewRESTClient(restParams),
		symbol: symbol,
		limit:  limit,
	}
}

func (sg *DepthSnapshotGetterREST) GetDepthSnapshot() (common.DepthUpdate, error) {
	depth, err := sg.client.GetDepth(sg.symbol, sg.limit)
	if err != nil {
		return common.DepthUpdate{}, errors.Trace(err)
	}

	return *depth, nil
}
