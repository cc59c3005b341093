package handler

import "net/http"

type adjustStockReq struct {
	Delta int `json:"delta"`
}

type stockResp struct {
	ProductID     string `json:"productId"`
	StockQuantity int    `json:"stockQuantity"`
	InStock       bool   `json:"inStock"`
}

// AdjustStock handles PUT /products/{id}/stock.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	level, err := h.inventory.Adjust(r.Context(), r.PathValue("id"), req.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{
		ProductID:     level.ProductID,
		StockQuantity: level.StockQuantity,
		InStock:       level.InStock,
	})
}
