// Package events applies order lifecycle events to the loyalty ledger.
package events

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
)

// Type names an order lifecycle transition.
type Type string

const (
	OrderSettled  Type = "order.settled"
	OrderCanceled Type = "order.canceled"
	OrderReturned Type = "order.returned"
	OrderRedeemed Type = "order.redeemed"
)

// ErrMalformed marks events that can never be applied. Consumers skip them.
var ErrMalformed = errors.New("malformed event")

// Event is one message of the order-events topic.
type Event struct {
	Type  Type
	Order loyalty.Order
}

// Decode parses an event. Every failure wraps ErrMalformed.
//
//	{"type": "order.settled", "order": {"id": 1, "user_id": 2, "subtotal": "10.00", "status": "delivered", "active": true}}
func Decode(raw []byte) (Event, error) {
	var ev Event
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			s, err := d.Str()
			ev.Type = Type(s)
			return err
		case "order":
			return decodeOrder(d, &ev.Order)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Event{}, errors.Wrap(ErrMalformed, err.Error())
	}

	switch ev.Type {
	case OrderSettled, OrderCanceled, OrderReturned, OrderRedeemed:
	default:
		return Event{}, errors.Wrapf(ErrMalformed, "unknown type %q", ev.Type)
	}
	if ev.Order.ID <= 0 || ev.Order.UserID <= 0 {
		return Event{}, errors.Wrap(ErrMalformed, "order id and user id are required")
	}
	return ev, nil
}

func decodeOrder(d *jx.Decoder, o *loyalty.Order) error {
	o.Subtotal = decimal.Zero
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Int64()
		case "user_id":
			o.UserID, err = d.Int64()
		case "subtotal":
			o.Subtotal, err = decodeAmount(d)
		case "status":
			var s string
			s, err = d.Str()
			o.Status = loyalty.OrderStatus(s)
		case "active":
			o.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
}

// decodeAmount accepts a decimal as a JSON string or number.
func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}
