package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/validate"
)

// GetPointSetup returns the point settings.
func (h *Handler) GetPointSetup(w http.ResponseWriter, r *http.Request) {
	s, err := h.setup.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSettings(e, s) })
}

// UpdatePointSetup replaces the point settings.
func (h *Handler) UpdatePointSetup(w http.ResponseWriter, r *http.Request) {
	var in loyalty.Settings
	if err := readBody(r, func(d *jx.Decoder) (err error) {
		in, err = decodeSettings(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.setup.Update(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSettings(e, s) })
}

// UserPoints reports how many points the user can apply to a new order.
// "points" is the stored balance, "user_points" excludes points reserved by
// pending redemptions.
func (h *Handler) UserPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	s, err := h.setup.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	av, err := h.ledger.CheckAvailability(r.Context(), s, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("points", func(e *jx.Encoder) { e.Int64(balance) })
			e.Field("is_point_applicable", func(e *jx.Encoder) { e.Bool(av.IsApplicable) })
			e.Field("user_points", func(e *jx.Encoder) { e.Int64(av.UserPoints) })
			e.Field("applicable_points", func(e *jx.Encoder) { e.Int64(av.ApplicablePoints) })
			e.Field("point_discount_amount", func(e *jx.Encoder) { encodeDecimal(e, av.DiscountAmount) })
		})
	})
}

// RedeemPoints applies the user's points to a pending order. Body:
// {"user_id": 1}.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "orderID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	var userID int64
	if err := readBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "user_id" {
				return d.Skip()
			}
			v, err := d.Int64()
			userID = v
			return errors.Wrap(err, key)
		})
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if userID <= 0 {
		writeError(w, r, validate.Field("user_id", "required"))
		return
	}

	s, err := h.setup.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	red, err := h.ledger.Redeem(r.Context(), s, userID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Int64(red.OrderID) })
			e.Field("user_id", func(e *jx.Encoder) { e.Int64(red.UserID) })
			e.Field("applied_points", func(e *jx.Encoder) { e.Int64(red.AppliedPoints) })
			e.Field("point_discount_amount", func(e *jx.Encoder) { encodeDecimal(e, red.DiscountAmount) })
		})
	})
}

// SettleOrder credits earned points and debits redeemed points of a paid
// order. Repeating it changes nothing.
func (h *Handler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.order(w, r)
	if !ok {
		return
	}
	s, err := h.setup.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.ledger.EarnOnSettlement(r.Context(), s, *o)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("earned", func(e *jx.Encoder) { e.Int64(res.Earned) })
			e.Field("debited", func(e *jx.Encoder) { e.Int64(res.Debited) })
			e.Field("balance", func(e *jx.Encoder) { e.Int64(res.Balance) })
			e.Field("duplicate", func(e *jx.Encoder) { e.Bool(res.Duplicate) })
		})
	})
}

// ReverseOrder takes back the points a canceled or returned order earned.
func (h *Handler) ReverseOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.order(w, r)
	if !ok {
		return
	}
	res, err := h.ledger.ReverseOnCancelReturn(r.Context(), *o)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("reversed", func(e *jx.Encoder) { e.Int64(res.Reversed) })
			e.Field("balance", func(e *jx.Encoder) { e.Int64(res.Balance) })
		})
	})
}

func (h *Handler) order(w http.ResponseWriter, r *http.Request) (*loyalty.Order, bool) {
	orderID, ok := pathID(r, "orderID")
	if !ok {
		writeError(w, r, errNotFound)
		return nil, false
	}
	o, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return o, true
}
