package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
	"github.com/certomat/certomat/acme/resources"
)

// newOrderRequest is the payload POSTed to the newOrder endpoint.
// See https://tools.ietf.org/html/rfc8555#section-7.4
type newOrderRequest struct {
	Identifiers []resources.Identifier `json:"identifiers"`
	NotAfter    string                 `json:"notAfter,omitempty"`
}

// finalizeRequest carries the CSR POSTed to an order's finalize URL.
type finalizeRequest struct {
	CSR string `json:"csr"`
}

// CreateOrder submits a new order for the given identifiers. The returned
// order has its ID set to the Location header of the server's response
// when one was provided. Some CAs omit the Location header; such orders
// can still be finalized but not polled.
func (c *Client) CreateOrder(ctx context.Context, identifiers []resources.Identifier, notAfter time.Time) (*resources.Order, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if len(identifiers) == 0 {
		return nil, fmt.Errorf("%w: order requires at least one identifier", ErrMissingParameter)
	}

	newOrderURL, ok := c.GetEndpointURL(ctx, acme.NEW_ORDER_ENDPOINT)
	if !ok {
		return nil, fmt.Errorf(
			"missing %q entry in ACME server directory", acme.NEW_ORDER_ENDPOINT)
	}

	request := newOrderRequest{Identifiers: identifiers}
	if !notAfter.IsZero() {
		request.NotAfter = notAfter.Format(time.RFC3339)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, newOrderURL, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderCreationFailed, err.Error())
	}
	if resp.Response.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: %q returned HTTP status %d, expected %d",
			ErrOrderCreationFailed, acme.NEW_ORDER_ENDPOINT,
			resp.Response.StatusCode, http.StatusCreated)
	}

	var order resources.Order
	if err := json.Unmarshal(resp.RespBody, &order); err != nil {
		return nil, fmt.Errorf("%w: unable to unmarshal order: %s",
			ErrOrderCreationFailed, err.Error())
	}
	order.ID = resp.Response.Header.Get("Location")
	if order.ID == "" {
		c.log.Warn("server returned no Location header for new order; " +
			"order status can not be polled")
	}

	c.log.Info("created order",
		zap.String("id", order.ID),
		zap.String("status", order.Status),
		zap.Int("identifiers", len(order.Identifiers)))
	return &order, nil
}

// getOrder fetches an order with a POST-as-GET request. Internal variant
// used by polling; callers hold opMu.
func (c *Client) getOrder(ctx context.Context, orderURL string) (*resources.Order, error) {
	resp, err := c.postAsGet(ctx, orderURL)
	if err != nil {
		return nil, err
	}
	var order resources.Order
	if err := json.Unmarshal(resp.RespBody, &order); err != nil {
		return nil, err
	}
	order.ID = orderURL
	return &order, nil
}

// GetOrder fetches the current state of an order by URL.
func (c *Client) GetOrder(ctx context.Context, orderURL string) (*resources.Order, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.getOrder(ctx, orderURL)
}

// FinalizeOrder submits the DER-encoded CSR to the order's finalize URL
// and waits for the order to leave the "processing" status. The order must
// be "ready" before finalization; when the order has an ID its status is
// polled until it gets there. Orders without an ID are finalized on trust
// of their last known status. The fully finalized order, including its
// certificate URL, is returned.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) FinalizeOrder(ctx context.Context, order *resources.Order, csrDER []byte) (*resources.Order, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if order == nil || order.Finalize == "" {
		return nil, fmt.Errorf("%w: order has no finalize URL", ErrMissingParameter)
	}

	if order.ID == "" {
		// No order URL to poll. The last known status is all we have.
		if order.Status == acme.STATUS_INVALID {
			return nil, c.orderFailed(order)
		}
	} else {
		polled, err := c.waitForOrderStatus(ctx, order.ID, acme.STATUS_READY, false)
		if err != nil {
			return nil, err
		}
		if polled != nil {
			order = polled
		}
		if order.Status == acme.STATUS_INVALID {
			return nil, c.orderFailed(order)
		}
		if order.Status != acme.STATUS_READY && order.Status != acme.STATUS_PROCESSING {
			return nil, fmt.Errorf("%w: order %q is %q, not %q",
				ErrOrderValidationFailed, order.ID, order.Status, acme.STATUS_READY)
		}
	}

	payload, err := json.Marshal(finalizeRequest{
		CSR: base64.RawURLEncoding.EncodeToString(csrDER),
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, order.Finalize, payload)
	if err != nil {
		return nil, err
	}

	var finalized resources.Order
	if err := json.Unmarshal(resp.RespBody, &finalized); err != nil {
		return nil, err
	}
	finalized.ID = order.ID

	if finalized.Status == acme.STATUS_PROCESSING && finalized.ID != "" {
		polled, err := c.waitForOrderStatus(ctx, finalized.ID, acme.STATUS_PROCESSING, true)
		if err != nil {
			return nil, err
		}
		if polled != nil {
			finalized = *polled
		}
	}

	switch finalized.Status {
	case acme.STATUS_VALID:
		c.log.Info("order finalized",
			zap.String("id", finalized.ID),
			zap.String("certificate", finalized.Certificate))
		return &finalized, nil
	case acme.STATUS_INVALID:
		return nil, c.orderFailed(&finalized)
	}
	return nil, fmt.Errorf("%w: order %q stuck in status %q",
		ErrOrderValidationFailed, finalized.ID, finalized.Status)
}

func (c *Client) orderFailed(order *resources.Order) error {
	if order.Error != nil {
		return fmt.Errorf("%w: %s", ErrOrderValidationFailed, order.Error.Error())
	}
	return fmt.Errorf("%w: order %q is invalid", ErrOrderValidationFailed, order.ID)
}
