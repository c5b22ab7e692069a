package gateway

import (
	"context"
	"net/http"

	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/processor/orderjoin"
)

// Receiver applies one file arrival. orderjoin.Coordinator implements it.
type Receiver interface {
	Receive(ctx context.Context, ref message.FileReference) (orderstore.State, error)
}

// Admin is the operator surface used by ordersctl.
type Admin interface {
	Status(ctx context.Context, key string) (orderjoin.OrderStatus, error)
	Retry(ctx context.Context, key string) error
	Sweep(ctx context.Context) (orderjoin.SweepReport, error)
}

// HTTPHandler is implemented by anything that mounts routes on the
// service's mux.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
