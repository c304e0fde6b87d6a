package cloudproviders

// LineKind classifies a raw billing line item. Adapters set it when the
// upstream response distinguishes the kind; otherwise normalization falls
// back to matching the line description.
type LineKind string

const (
	LineKindUsage   LineKind = "usage"
	LineKindCredit  LineKind = "credit"
	LineKindRefund  LineKind = "refund"
	LineKindTax     LineKind = "tax"
	LineKindFee     LineKind = "fee"
	LineKindSupport LineKind = "support"
	// LineKindSavings marks commitment discounts (savings plans, reserved
	// instance negations) reported separately from promotional credits.
	LineKindSavings LineKind = "savings"
)

// RawCostLine is one provider-native billing line: a cost amount attributed
// to a service on a date. Date is the provider-reported date string; it is
// validated during normalization, not here.
type RawCostLine struct {
	Date    string   `json:"date"`
	Service string   `json:"service"`
	Amount  float64  `json:"amount"`
	Kind    LineKind `json:"kind,omitempty"`
}

// RawCostData is the unnormalized result of one Fetch call. ReportedTotal is
// the provider's own total for the range when the API returns one; it may
// include lines the normalizer filters out.
type RawCostData struct {
	ProviderKey   string        `json:"provider_key"`
	Currency      string        `json:"currency"`
	ReportedTotal *float64      `json:"reported_total,omitempty"`
	Lines         []RawCostLine `json:"lines"`
}

// RawServiceDetail is the unnormalized result of one FetchServiceDetail call:
// per-date cost points for a single service.
type RawServiceDetail struct {
	Service string        `json:"service"`
	Points  []RawCostLine `json:"points"`
}
