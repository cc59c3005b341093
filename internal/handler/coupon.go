package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout/internal/apperr"
	"github.com/storefront/checkout/internal/domain/coupon"
)

type couponItemReq struct {
	ProductID string          `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type validateCouponReq struct {
	Code       string          `json:"code"`
	OrderTotal decimal.Decimal `json:"orderTotal"`
	Items      []couponItemReq `json:"items"`
}

type couponView struct {
	Code            string       `json:"code"`
	Description     string       `json:"description,omitempty"`
	DiscountType    string       `json:"discountType"`
	Value           json.Number  `json:"value"`
	MaximumDiscount *json.Number `json:"maximumDiscount,omitempty"`
}

type validateCouponResp struct {
	Valid    bool         `json:"valid"`
	Discount *json.Number `json:"discount,omitempty"`
	Coupon   *couponView  `json:"coupon,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ValidateCoupon handles POST /coupons/validate. Rejections are reported in
// the body with status 200; only infrastructure failures are errors.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]coupon.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = coupon.Item{ProductID: it.ProductID, Price: it.Price, Quantity: it.Quantity}
	}

	res, err := h.coupons.Validate(r.Context(), req.Code, items, req.OrderTotal)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindNotFound, apperr.KindConflict:
			_, body := errorBody(err)
			writeJSON(w, http.StatusOK, validateCouponResp{Error: body.Message})
		default:
			writeError(w, r, err)
		}
		return
	}

	discount := money(res.Discount)
	writeJSON(w, http.StatusOK, validateCouponResp{
		Valid:    true,
		Discount: &discount,
		Coupon: &couponView{
			Code:            res.Coupon.Code,
			Description:     res.Coupon.Description,
			DiscountType:    string(res.Coupon.DiscountType),
			Value:           money(res.Coupon.Value),
			MaximumDiscount: optMoney(res.Coupon.MaximumDiscount),
		},
	})
}
