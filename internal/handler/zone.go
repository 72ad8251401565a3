package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-storefront/internal/domain/zone"
	"github.com/xenking/oolio-storefront/internal/validate"
)

// BranchZones lists the active zones of a branch in evaluation order.
func (h *Handler) BranchZones(w http.ResponseWriter, r *http.Request) {
	branchID, ok := pathID(r, "branchID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	if _, err := h.branches.GetBranch(r.Context(), branchID); err != nil {
		writeError(w, r, err)
		return
	}

	zones, err := h.zones.GetZonesByBranch(r.Context(), branchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, func(e *jx.Encoder) { encodeZones(e, zones) })
}

// DetectZone prices delivery from the branch to {latitude, longitude}.
func (h *Handler) DetectZone(w http.ResponseWriter, r *http.Request) {
	branchID, ok := pathID(r, "branchID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}

	var (
		lat, lng       float64
		hasLat, hasLng bool
	)
	err := readBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "latitude":
				v, err := decodeDecimal(d)
				lat, hasLat = v.InexactFloat64(), err == nil
				return errors.Wrap(err, key)
			case "longitude":
				v, err := decodeDecimal(d)
				lng, hasLng = v.InexactFloat64(), err == nil
				return errors.Wrap(err, key)
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !hasLat || !hasLng {
		vErr := &validate.Error{Fields: map[string]string{}}
		if !hasLat {
			vErr.Fields["latitude"] = "required"
		}
		if !hasLng {
			vErr.Fields["longitude"] = "required"
		}
		writeError(w, r, vErr)
		return
	}

	b, err := h.branches.GetBranch(r.Context(), branchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.zones.GetDeliveryPrice(r.Context(), *b, lat, lng)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("data", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("zone", func(e *jx.Encoder) { encodeZone(e, q.Zone) })
					e.Field("delivery_price", func(e *jx.Encoder) { encodeDecimal(e, q.Price) })
					e.Field("distance_km", func(e *jx.Encoder) { encodeDecimal(e, q.RoundedDistance()) })
				})
			})
		})
	})
}

// ActiveZones lists active zones, optionally of one branch (?branch_id=).
func (h *Handler) ActiveZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.admin.ListActive(r.Context(), queryInt(r, "branch_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, func(e *jx.Encoder) { encodeZones(e, zones) })
}

// ListZones lists zones for administrators. Query: branch_id, status,
// search, limit, offset.
func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zones, err := h.admin.List(r.Context(), zone.Filter{
		BranchID: queryInt(r, "branch_id"),
		Status:   zone.Status(q.Get("status")),
		Search:   q.Get("search"),
		Limit:    int(queryInt(r, "limit")),
		Offset:   int(queryInt(r, "offset")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, func(e *jx.Encoder) { encodeZones(e, zones) })
}

// CreateZone creates a zone and answers 201 with a Location header.
func (h *Handler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var in zone.Input
	if err := readBody(r, func(d *jx.Decoder) (err error) {
		in, err = decodeZoneInput(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	z, err := h.admin.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/admin/zones/"+strconv.FormatInt(z.ID, 10))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeZone(e, *z) })
}

// GetZone returns one zone.
func (h *Handler) GetZone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "zoneID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	z, err := h.admin.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeZone(e, *z) })
}

// UpdateZone replaces the editable fields of a zone.
func (h *Handler) UpdateZone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "zoneID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	var in zone.Input
	if err := readBody(r, func(d *jx.Decoder) (err error) {
		in, err = decodeZoneInput(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	z, err := h.admin.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeZone(e, *z) })
}

// DeleteZone removes a zone.
func (h *Handler) DeleteZone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "zoneID")
	if !ok {
		writeError(w, r, errNotFound)
		return
	}
	if err := h.admin.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
