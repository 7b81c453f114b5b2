package model

// MeterReading is one metered quantity on a bill. Usage and Rate are integer
// cents-scale values; Cost = Usage * Rate.
type MeterReading struct {
	Name  string `json:"name"`
	Usage int64  `json:"usage"`
	Rate  int64  `json:"rate"`
}

// BillCharge is the calculator output for one billing period. Immutable once
// computed; all amounts are integer cents and never negative.
type BillCharge struct {
	BaseAmount int64            `json:"base_amount"`
	MeterCosts map[string]int64 `json:"meter_costs"`
	Total      int64            `json:"total"`
}
