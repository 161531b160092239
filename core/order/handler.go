package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bordados/checkout/api/web"
	"github.com/bordados/checkout/api/weberr"
)

// HandleShow answers GET /orders/{buy_order} from the store alone.
func HandleShow(store Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		buyOrder := web.Param(r, "buy_order")

		ord, err := store.FetchByBuyOrder(ctx, buyOrder)
		switch {
		case errors.Is(err, ErrNotFound):
			return weberr.Empty(err, http.StatusNotFound)
		case err != nil:
			return fmt.Errorf("fetching order[%s]: %w", buyOrder, err)
		}

		return web.RespondData(ctx, w, ord, http.StatusOK)
	}
}
