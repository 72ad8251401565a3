package handler

import (
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/domain/zone"
	"github.com/xenking/oolio-storefront/internal/validate"
)

const maxBodyBytes = 1 << 20

// errNotFound answers 404 for unknown or unparsable ids.
var errNotFound = errors.New("not found")

// badRequestError wraps a body that is not valid JSON for the route.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "invalid request body: " + e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

// readBody decodes the request body with fn.
func readBody(r *http.Request, fn func(d *jx.Decoder) error) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return &badRequestError{err: err}
	}
	if err := fn(jx.DecodeBytes(raw)); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeData writes {"data": ...}.
func writeData(w http.ResponseWriter, fn func(e *jx.Encoder)) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("data", fn)
		})
	})
}

// userFacing are the domain errors answered with 422 and their message.
var userFacing = []error{
	zone.ErrMissingLocation,
	zone.ErrOutOfServiceArea,
	loyalty.ErrOrderNotPending,
	loyalty.ErrAlreadyRedeemed,
	loyalty.ErrPointsNotApplicable,
	loyalty.ErrFeatureDisabled,
	loyalty.ErrOrderClosed,
}

// notFound are the domain errors answered with 404.
var notFound = []error{
	errNotFound,
	zone.ErrNotFound,
	zone.ErrBranchNotFound,
	loyalty.ErrUserNotFound,
	loyalty.ErrOrderNotFound,
}

func isAny(err error, targets []error) (error, bool) {
	for _, t := range targets {
		if errors.Is(err, t) {
			return t, true
		}
	}
	return nil, false
}

// writeError maps err to the error envelope. Unknown errors are logged and
// answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal Server Error"
	var fields map[string]string

	var (
		vErr  *validate.Error
		badRq *badRequestError
	)
	switch {
	case errors.As(err, &vErr):
		status, message, fields = http.StatusUnprocessableEntity, vErr.Error(), vErr.Fields
	case errors.As(err, &badRq):
		status, message = http.StatusBadRequest, badRq.Error()
	default:
		if target, ok := isAny(err, userFacing); ok {
			status, message = http.StatusUnprocessableEntity, target.Error()
		} else if target, ok := isAny(err, notFound); ok {
			status, message = http.StatusNotFound, target.Error()
		} else {
			zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		}
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Bool(false) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			if key := zone.MessageKey(err); key != "" {
				e.Field("message_key", func(e *jx.Encoder) { e.Str(key) })
			}
			if len(fields) > 0 {
				e.Field("errors", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						for _, name := range slices.Sorted(maps.Keys(fields)) {
							e.Field(name, func(e *jx.Encoder) { e.Str(fields[name]) })
						}
					})
				})
			}
		})
	})
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	if t.IsZero() {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeZone(e *jx.Encoder, z zone.Zone) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(z.ID) })
		e.Field("branch_id", func(e *jx.Encoder) { e.Int64(z.BranchID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(z.Name) })
		e.Field("max_distance_km", func(e *jx.Encoder) { encodeDecimal(e, z.MaxDistanceKm) })
		e.Field("delivery_price", func(e *jx.Encoder) { encodeDecimal(e, z.DeliveryPrice) })
		e.Field("sort_order", func(e *jx.Encoder) { e.Int(z.SortOrder) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(z.Status)) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, z.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, z.UpdatedAt) })
	})
}

func encodeZones(e *jx.Encoder, zones []zone.Zone) {
	e.Arr(func(e *jx.Encoder) {
		for _, z := range zones {
			encodeZone(e, z)
		}
	})
}

func encodeSettings(e *jx.Encoder, s loyalty.Settings) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("enabled", func(e *jx.Encoder) { e.Bool(s.Enabled) })
		e.Field("currency_to_points", func(e *jx.Encoder) { encodeDecimal(e, s.CurrencyToPoints) })
		e.Field("points_per_currency", func(e *jx.Encoder) { encodeDecimal(e, s.PointsPerCurrency) })
		e.Field("min_applicable_per_order", func(e *jx.Encoder) { e.Int64(s.MinApplicablePerOrder) })
		e.Field("max_applicable_per_order", func(e *jx.Encoder) { e.Int64(s.MaxApplicablePerOrder) })
	})
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.New("expected number")
	}
}

func decodeZoneInput(d *jx.Decoder) (zone.Input, error) {
	in := zone.Input{MaxDistanceKm: decimal.Zero, DeliveryPrice: decimal.Zero}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "branch_id":
			in.BranchID, err = d.Int64()
		case "name":
			in.Name, err = d.Str()
		case "max_distance_km":
			in.MaxDistanceKm, err = decodeDecimal(d)
		case "delivery_price":
			in.DeliveryPrice, err = decodeDecimal(d)
		case "sort_order":
			in.SortOrder, err = d.Int()
		case "status":
			var s string
			s, err = d.Str()
			in.Status = zone.Status(s)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return in, err
}

func decodeSettings(d *jx.Decoder) (loyalty.Settings, error) {
	s := loyalty.Settings{CurrencyToPoints: decimal.Zero, PointsPerCurrency: decimal.Zero}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "enabled":
			s.Enabled, err = d.Bool()
		case "currency_to_points":
			s.CurrencyToPoints, err = decodeDecimal(d)
		case "points_per_currency":
			s.PointsPerCurrency, err = decodeDecimal(d)
		case "min_applicable_per_order":
			s.MinApplicablePerOrder, err = d.Int64()
		case "max_applicable_per_order":
			s.MaxApplicablePerOrder, err = d.Int64()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return s, err
}
