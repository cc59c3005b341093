package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
)

type estimateReq struct {
	ZipCode   string `json:"zipCode"`
	CarrierID int64  `json:"carrierId"`
	Country   string `json:"country"`
}

type estimateResp struct {
	EstimatedDelivery string `json:"estimatedDelivery"`
	TotalDays         int    `json:"totalDays"`
	Fallback          bool   `json:"fallback"`
}

type ratesReq struct {
	OrderValue decimal.Decimal `json:"orderValue"`
	Weight     decimal.Decimal `json:"weight"`
	ZipCode    string          `json:"zipCode"`
	Country    string          `json:"country"`
}

type rateView struct {
	ID                    int64        `json:"id"`
	Carrier               string       `json:"carrier"`
	Method                string       `json:"method"`
	Rate                  json.Number  `json:"rate"`
	FinalRate             json.Number  `json:"finalRate"`
	FreeShippingThreshold *json.Number `json:"freeShippingThreshold,omitempty"`
}

type ratesResp struct {
	Rates    []rateView `json:"rates"`
	Fallback bool       `json:"fallback"`
}

// EstimateShipping handles POST /shipping/estimate.
func (h *Handler) EstimateShipping(w http.ResponseWriter, r *http.Request) {
	var req estimateReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	est, err := h.shipping.Estimate(r.Context(), req.ZipCode, req.CarrierID, req.Country)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateResp{
		EstimatedDelivery: est.EstimatedDelivery.Format("2006-01-02"),
		TotalDays:         est.TotalDays,
		Fallback:          est.Fallback,
	})
}

// ShippingRates handles POST /shipping/rates.
func (h *Handler) ShippingRates(w http.ResponseWriter, r *http.Request) {
	var req ratesReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	quote, err := h.shipping.Rates(r.Context(), req.OrderValue, req.Weight, req.ZipCode, req.Country)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ratesResp{Rates: make([]rateView, len(quote.Rates)), Fallback: quote.Fallback}
	for i, rate := range quote.Rates {
		resp.Rates[i] = rateView{
			ID:                    rate.ID,
			Carrier:               rate.CarrierName,
			Method:                rate.MethodName,
			Rate:                  money(rate.Rate),
			FinalRate:             money(rate.FinalRate),
			FreeShippingThreshold: optMoney(rate.FreeShippingThreshold),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
