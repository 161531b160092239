package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/bordados/checkout/core/events"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/core/webpay"
	"github.com/sirupsen/logrus"
)

// Callback is what the provider sent back through the buyer's browser:
// an AbortCallback, a CommitCallback or a MalformedCallback.
type Callback interface {
	callback()
}

// AbortCallback is sent when the buyer cancels on the provider's page.
type AbortCallback struct {
	Token     string `json:"TBK_TOKEN"`
	BuyOrder  string `json:"TBK_ORDEN_COMPRA,omitempty"`
	SessionID string `json:"TBK_ID_SESION,omitempty"`
}

// CommitCallback is sent when the buyer finished the payment form.
type CommitCallback struct {
	Token string `json:"token_ws"`
}

// MalformedCallback covers anything else, including the provider's
// form-error and form-timeout redirects.
// Token is set only when the provider sent one, as on a form error.
type MalformedCallback struct {
	BuyOrder string `json:"TBK_ORDEN_COMPRA,omitempty"`
	Token    string `json:"-"`
	Reason   string `json:"reason"`
}

func (AbortCallback) callback()     {}
func (CommitCallback) callback()    {}
func (MalformedCallback) callback() {}

// ParseCallback classifies the merged query and form values of a callback.
func ParseCallback(v url.Values) Callback {
	token := first(v, "token_ws", "token")
	abort := first(v, "TBK_TOKEN", "abortToken")
	buyOrder := first(v, "TBK_ORDEN_COMPRA", "buyOrder")

	switch {
	case token != "" && abort != "":
		return MalformedCallback{BuyOrder: buyOrder, Token: token, Reason: "payment form error"}
	case token != "":
		return CommitCallback{Token: token}
	case abort != "":
		return AbortCallback{Token: abort, BuyOrder: buyOrder, SessionID: first(v, "TBK_ID_SESION", "sessionId")}
	case buyOrder != "":
		return MalformedCallback{BuyOrder: buyOrder, Reason: "payment form timed out"}
	default:
		return MalformedCallback{Reason: "no token in callback"}
	}
}

func first(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k)); s != "" {
			return s
		}
	}
	return ""
}

const genericErrorMessage = "the payment could not be completed"

// Outcome is what the result page is told about a callback.
type Outcome struct {
	Status             order.Status
	BuyOrder           string
	Amount             int64
	AuthorizationCode  string
	ResponseCode       *int
	PaymentTypeCode    string
	InstallmentsNumber *int
	CardLast4          string
	Message            string
}

func outcomeOf(o order.Order) Outcome {
	out := Outcome{
		Status:             o.Status,
		BuyOrder:           o.BuyOrder,
		Amount:             o.Amount,
		AuthorizationCode:  deref(o.AuthorizationCode),
		ResponseCode:       o.ResponseCode,
		PaymentTypeCode:    deref(o.PaymentTypeCode),
		InstallmentsNumber: o.InstallmentsNumber,
		CardLast4:          deref(o.CardLast4),
	}
	if o.Status == order.Error {
		out.Message = genericErrorMessage
	}
	return out
}

// Settle moves the order behind cb to its terminal status and reports the
// outcome for the buyer. It never fails: provider and storage errors are
// logged and folded into the outcome.
func (s *Service) Settle(ctx context.Context, cb Callback) Outcome {
	switch cb := cb.(type) {
	case CommitCallback:
		return s.commit(ctx, cb)
	case AbortCallback:
		return s.abort(ctx, cb)
	case MalformedCallback:
		return s.malformed(ctx, cb)
	default:
		return Outcome{Status: order.Error, Message: genericErrorMessage}
	}
}

func (s *Service) commit(ctx context.Context, cb CommitCallback) Outcome {
	log := s.log.WithField("token", shortToken(cb.Token))

	ord, lookupErr := s.store.FetchByToken(ctx, cb.Token)
	if lookupErr != nil {
		log.WithError(lookupErr).Warn("no local order for commit token")
	} else {
		log = log.WithField("buy_order", ord.BuyOrder)
		if ord.Status.Terminal() {
			log.WithField("status", ord.Status).Info("callback replayed for a settled order")
			return outcomeOf(ord)
		}
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	cm, err := s.gateway.CommitTransaction(gctx, cb.Token)
	cancel()

	if err != nil {
		var rej *webpay.RejectedError
		if errors.As(err, &rej) {
			log.WithFields(logrus.Fields{
				"provider_status":  rej.StatusCode,
				"provider_message": rej.Message,
				"reconcile":        true,
			}).Error("provider refused the commit, the payment may have settled through another delivery")
		} else {
			log.WithError(err).Error("committing provider transaction")
		}

		out := Outcome{Status: order.Error, Message: genericErrorMessage}
		if lookupErr != nil {
			return out
		}
		out.BuyOrder = ord.BuyOrder
		out.Amount = ord.Amount

		p := order.Patch{
			Status:        order.Error,
			ResultPayload: errorPayload(err),
			UpdatedAt:     s.now(),
		}
		return s.finalize(ctx, log, ord.BuyOrder, p, out)
	}

	status := order.Rejected
	if cm.Authorized() {
		status = order.Authorized
	}

	buyOrder := cm.BuyOrder
	if lookupErr == nil {
		if buyOrder != ord.BuyOrder {
			log.WithField("provider_buy_order", cm.BuyOrder).Warn("provider echoed a different buy order, keeping the local one")
		}
		buyOrder = ord.BuyOrder
	}
	log = log.WithFields(logrus.Fields{"buy_order": buyOrder, "status": status})

	p := order.Patch{
		Status:             status,
		AuthorizationCode:  optional(cm.AuthorizationCode),
		ResponseCode:       cm.ResponseCode,
		PaymentTypeCode:    optional(cm.PaymentTypeCode),
		CardLast4:          optional(cm.CardLast4()),
		InstallmentsNumber: &cm.InstallmentsNumber,
		ResultPayload:      cm.Raw,
		UpdatedAt:          s.now(),
	}

	return s.finalize(ctx, log, buyOrder, p, commitOutcome(status, buyOrder, cm))
}

func commitOutcome(status order.Status, buyOrder string, cm webpay.Commit) Outcome {
	n := cm.InstallmentsNumber
	return Outcome{
		Status:             status,
		BuyOrder:           buyOrder,
		Amount:             cm.Amount.IntPart(),
		AuthorizationCode:  cm.AuthorizationCode,
		ResponseCode:       cm.ResponseCode,
		PaymentTypeCode:    cm.PaymentTypeCode,
		InstallmentsNumber: &n,
		CardLast4:          cm.CardLast4(),
	}
}

func (s *Service) abort(ctx context.Context, cb AbortCallback) Outcome {
	log := s.log.WithFields(logrus.Fields{"buy_order": cb.BuyOrder, "token": shortToken(cb.Token)})

	ord, err := s.locate(ctx, cb.BuyOrder, cb.Token)
	if err != nil {
		log.WithError(err).Error("no local order for aborted payment")
		return Outcome{Status: order.Aborted, BuyOrder: cb.BuyOrder}
	}
	log = log.WithField("buy_order", ord.BuyOrder)

	if !ownsToken(ord, cb.Token) {
		if ord.Status.Terminal() {
			return outcomeOf(ord)
		}
		log.Warn("abort token does not belong to the order, leaving it untouched")
		return Outcome{Status: order.Error, BuyOrder: ord.BuyOrder, Message: genericErrorMessage}
	}

	out := Outcome{Status: order.Aborted, BuyOrder: ord.BuyOrder, Amount: ord.Amount}

	payload, _ := json.Marshal(cb)
	p := order.Patch{
		Status:        order.Aborted,
		ResultPayload: payload,
		UpdatedAt:     s.now(),
	}
	return s.finalize(ctx, log, ord.BuyOrder, p, out)
}

// malformed marks the order error only when the callback carries the
// order's own token. A bare buy order cannot prove the provider sent it,
// so it changes nothing and the stored outcome is reported if settled.
func (s *Service) malformed(ctx context.Context, cb MalformedCallback) Outcome {
	log := s.log.WithFields(logrus.Fields{"buy_order": cb.BuyOrder, "token": shortToken(cb.Token), "reason": cb.Reason})
	log.Warn("unusable payment callback")

	out := Outcome{Status: order.Error, BuyOrder: cb.BuyOrder, Message: genericErrorMessage}
	if cb.BuyOrder == "" && cb.Token == "" {
		return out
	}

	ord, err := s.locate(ctx, cb.BuyOrder, cb.Token)
	if err != nil {
		log.WithError(err).Warn("no local order for unusable callback")
		return out
	}
	out.BuyOrder = ord.BuyOrder
	out.Amount = ord.Amount

	if cb.Token == "" || !ownsToken(ord, cb.Token) {
		if ord.Status.Terminal() {
			return outcomeOf(ord)
		}
		log.Warn("callback carries no token of the order, leaving it untouched")
		return out
	}

	payload, _ := json.Marshal(cb)
	p := order.Patch{
		Status:        order.Error,
		ResultPayload: payload,
		UpdatedAt:     s.now(),
	}
	return s.finalize(ctx, log.WithField("buy_order", ord.BuyOrder), ord.BuyOrder, p, out)
}

// locate finds an order by buy order, falling back to the provider token.
func (s *Service) locate(ctx context.Context, buyOrder, token string) (order.Order, error) {
	var (
		ord order.Order
		err = order.ErrNotFound
	)
	if buyOrder != "" {
		if ord, err = s.store.FetchByBuyOrder(ctx, buyOrder); err == nil {
			return ord, nil
		}
	}
	if token != "" {
		return s.store.FetchByToken(ctx, token)
	}
	return ord, err
}

// ownsToken reports whether token is the one the provider issued for o.
func ownsToken(o order.Order, token string) bool {
	return o.GatewayToken == nil || *o.GatewayToken == token
}

// finalize writes p and reports what the store holds afterwards. When the
// write fails the caller's outcome, derived from the provider, is reported.
func (s *Service) finalize(ctx context.Context, log logrus.FieldLogger, buyOrder string, p order.Patch, fallback Outcome) Outcome {
	stored, applied, err := s.store.UpdateStatus(ctx, buyOrder, p)
	if err != nil {
		log.WithError(err).Error("order status not recorded, reconcile against the provider")
		return fallback
	}

	if !applied {
		log.WithField("stored_status", stored.Status).Info("order already settled, keeping the stored outcome")
		return outcomeOf(stored)
	}

	log.WithField("status", stored.Status).Info("order settled")

	ev := events.NewOrderFinalized(stored.BuyOrder, string(stored.Status), stored.Amount, deref(stored.AuthorizationCode))
	if err := s.events.PublishOrderFinalized(ctx, ev); err != nil {
		log.WithError(err).Warn("publishing order event")
	}

	return outcomeOf(stored)
}

// ResultURL is the frontend page the buyer lands on, with the outcome in
// the query string.
func (s *Service) ResultURL(out Outcome) string {
	var q []string
	add := func(k, v string) {
		if v != "" {
			q = append(q, k+"="+url.QueryEscape(v))
		}
	}
	itoa := func(n *int) string {
		if n == nil {
			return ""
		}
		return strconv.Itoa(*n)
	}

	add("status", string(out.Status))
	add("buyOrder", out.BuyOrder)
	if out.Amount > 0 {
		add("amount", strconv.FormatInt(out.Amount, 10))
	}
	add("authorizationCode", out.AuthorizationCode)
	add("responseCode", itoa(out.ResponseCode))
	add("paymentTypeCode", out.PaymentTypeCode)
	add("installmentsNumber", itoa(out.InstallmentsNumber))
	add("cardLast4", out.CardLast4)
	add("message", out.Message)

	return s.cfg.FrontendURL + ResultPagePath + "?" + strings.Join(q, "&")
}

func errorPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func shortToken(t string) string {
	if len(t) > 8 {
		return t[:8] + "..."
	}
	return t
}
