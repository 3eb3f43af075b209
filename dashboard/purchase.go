package dashboard

import (
	"encoding/json"
	"time"

	"github.com/formsly/formsly/log"
	"github.com/formsly/formsly/model"
)

type PurchaseEntry struct {
	Label     string
	Responses []model.FieldResponse
}

type ItemTotal struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// PurchaseTotals sums quantity responses per item. When teamMemberID
// is non-empty only that requester's responses count. Items whose
// total comes out zero are dropped, but an individual response of 0 is
// still a legitimate value, not a missing one.
func PurchaseTotals(entries []PurchaseEntry, teamMemberID string) []ItemTotal {
	var totals []ItemTotal
	for _, e := range entries {
		sum := 0.0
		for _, r := range e.Responses {
			if teamMemberID != "" && r.TeamMemberID != teamMemberID {
				continue
			}
			qty, ok := decodeQuantity(r)
			if !ok {
				continue
			}
			sum += qty
		}
		if sum == 0 {
			continue
		}
		totals = append(totals, ItemTotal{Label: e.Label, Value: sum})
	}
	return totals
}

// decodeQuantity accepts only responses that decode to a JSON number.
// Anything else is skipped, zero included as a valid number.
func decodeQuantity(r model.FieldResponse) (float64, bool) {
	var decoded any
	if err := json.Unmarshal([]byte(r.Value), &decoded); err != nil {
		malformed := &model.MalformedResponseError{FieldID: r.FieldID, Raw: r.Value, Err: err}
		log.Warnf("dashboard.quantity: %s", malformed)
		return 0, false
	}
	n, ok := decoded.(float64)
	return n, ok
}

var monthLabels = [...]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

type MonthlyPurchase struct {
	Date     time.Time
	Item     string
	Response model.FieldResponse
}

type MonthlyTotal struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Item  string  `json:"item"`
}

// MonthlyTrend buckets purchases by calendar month and item name. The
// output always carries the full 12-month skeleton per item, months
// without data at zero. Items appear in discovery order.
func MonthlyTrend(purchases []MonthlyPurchase) []MonthlyTotal {
	var items []string
	sums := map[string]*[12]float64{}

	for _, p := range purchases {
		qty, ok := decodeQuantity(p.Response)
		if !ok {
			continue
		}
		buckets, found := sums[p.Item]
		if !found {
			items = append(items, p.Item)
			buckets = &[12]float64{}
			sums[p.Item] = buckets
		}
		buckets[p.Date.Month()-1] += qty
	}

	trend := make([]MonthlyTotal, 0, len(items)*12)
	for _, item := range items {
		for m, label := range monthLabels {
			trend = append(trend, MonthlyTotal{
				Label: label,
				Value: sums[item][m],
				Item:  item,
			})
		}
	}
	return trend
}
