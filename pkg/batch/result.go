// Package batch defines the partial-failure contract shared by the
// batch consumers: a consumer reports which individual items failed so
// the invoking harness redelivers exactly that subset.
package batch

// Record is one raw batch item: the payload bytes plus the source
// identifier the invoking harness uses to redeliver it.
type Record struct {
	RecordID string
	Data     []byte
}

// Result is the outcome of processing one batch.
type Result struct {
	// FailedItemIDs are the source identifiers of the records that must
	// be redelivered, in batch order.
	FailedItemIDs []string `json:"failed_item_identifiers"`
}

// Fail records one failed item.
func (r *Result) Fail(id string) {
	r.FailedItemIDs = append(r.FailedItemIDs, id)
}

// Failed reports whether any item failed.
func (r *Result) Failed() bool {
	return len(r.FailedItemIDs) > 0
}
