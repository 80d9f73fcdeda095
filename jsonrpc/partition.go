package jsonrpc

import (
	"context"
	"fmt"

	"github.com/mini-rpc/coreband/dispatch"
	"github.com/mini-rpc/coreband/loadbalance"
	"github.com/mini-rpc/coreband/lookup"
)

// PartitionCallHandler adapts a single "getPartitionTables" JSON-RPC call
// into the lookup.PartitionCallHandler interface the fetcher drives. It
// composes a dispatch.Dispatcher over a balancer of endpoint URLs so a
// partition fetch fails over across the backend fleet exactly like any
// other dispatched call; §4.5 calls for courteous mode with a generous
// retry budget, which is just a CallContext choice at construction time.
type PartitionCallHandler struct {
	partition  int
	client     *Client
	dispatcher *dispatch.Dispatcher[string, []lookup.Table]
}

// NewPartitionCallHandler builds the handler for one partition, dispatched
// over balancer (a Balancer of backend endpoint URLs).
func NewPartitionCallHandler(
	partition int,
	client *Client,
	balancer *loadbalance.Balancer[string],
	callCtx dispatch.CallContext,
) *PartitionCallHandler {
	h := &PartitionCallHandler{partition: partition, client: client}
	h.dispatcher = dispatch.New(
		balancer,
		dispatch.Operation[string, []lookup.Table](h.fetch),
		callCtx,
		fmt.Sprintf("partition-%d", partition),
	)
	return h
}

func (h *PartitionCallHandler) fetch(ctx context.Context, endpoint string) ([]lookup.Table, error) {
	raw, err := h.client.Call(ctx, endpoint, "getPartitionTables", []int{h.partition})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: partition %d: %w", h.partition, err)
	}
	return decodeWireTables(raw)
}

// Call satisfies lookup.PartitionCallHandler.
func (h *PartitionCallHandler) Call(ctx context.Context) ([]lookup.Table, error) {
	return h.dispatcher.Get(ctx)
}
