package order

import "github.com/resonantbio/portal/pkg/errs"

// Quote is a priced order snapshot in integer cents.
type Quote struct {
	Subtotal    int64              `json:"subtotal"`
	Adjustments []*PriceAdjustment `json:"adjustments,omitempty"`
	Total       int64              `json:"total"`
}

// ComputeQuote prices an order: subtotal is the service type's price, total
// is subtotal plus the sum of adjustment amounts as stored. Amounts are
// signed by the caller; the type tag never flips a sign here. A non-positive
// subtotal or total is rejected.
func ComputeQuote(st *ServiceType, adjustments []*PriceAdjustment) (Quote, error) {
	if st.Price <= 0 {
		return Quote{}, errs.Validation("service type %s has non-positive price %d", st.Code, st.Price)
	}
	total := st.Price
	for _, a := range adjustments {
		total += a.Amount
	}
	if total <= 0 {
		return Quote{}, errs.Validation("adjusted total %d must be positive", total)
	}
	return Quote{Subtotal: st.Price, Adjustments: adjustments, Total: total}, nil
}
