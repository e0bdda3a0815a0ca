package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
	"github.com/certomat/certomat/acme/resources"
)

// waitForOrderStatus polls an order URL until the order reaches (or, when
// negate is true, leaves) the given status, up to the client's poll
// budget. The last fetched order is returned even when the budget runs
// out so callers can inspect the terminal state.
func (c *Client) waitForOrderStatus(ctx context.Context, orderURL, status string, negate bool) (*resources.Order, error) {
	var order *resources.Order
	for attempt := 0; attempt < c.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		default:
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return order, ctx.Err()
			case <-time.After(c.PollInterval):
			}
		}

		fetched, err := c.getOrder(ctx, orderURL)
		if err != nil {
			return order, err
		}
		order = fetched

		matched := order.Status == status
		if negate {
			matched = !matched
		}
		if matched {
			return order, nil
		}
		// Invalid is terminal. Waiting longer can not fix it.
		if order.Status == acme.STATUS_INVALID {
			return order, c.orderFailed(order)
		}
		c.log.Debug("order not yet in desired state",
			zap.String("order", orderURL),
			zap.String("status", order.Status),
			zap.Int("attempt", attempt+1))
	}
	return order, nil
}
