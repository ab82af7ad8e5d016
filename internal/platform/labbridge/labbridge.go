// Package labbridge defines the exchange types and HTTP client for the
// third-party lab integration. The bridge pushes order submissions out and
// ingests specimen results back; both directions are batched with per-item
// partial-success semantics.
package labbridge

import (
	"time"
)

// Submission pairs an order with the identifier the lab assigned to it.
type Submission struct {
	OrderID    string `json:"order_id"`
	LabOrderID string `json:"lab_order_id"`
}

// Result is one specimen outcome reported by the lab.
type Result struct {
	KitID       string    `json:"kit_id"`
	Status      string    `json:"status"`
	ResultKey   string    `json:"result_key,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ItemError records one failed item in a batch, keyed by the external
// reference the lab sent (order id or kit id).
type ItemError struct {
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// BatchResult reports a batch outcome. Failed items never abort the batch;
// they are collected here while the rest proceed.
type BatchResult struct {
	Succeeded int         `json:"succeeded"`
	Failures  []ItemError `json:"failures,omitempty"`
}

// Fail appends one item failure.
func (b *BatchResult) Fail(ref string, err error) {
	b.Failures = append(b.Failures, ItemError{Ref: ref, Message: err.Error()})
}
