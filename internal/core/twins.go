package core

import (
	"fmt"
	"sort"
)

// TwinLine is a line seen from the twin perspective, together with its basket.
type TwinLine struct {
	BasketID     string
	BasketStatus BasketStatus
	Line         SupplierOrderLine
}

// TwinConflict is a blocking finalization error: a purchase request has more than one
// selected twin.
type TwinConflict struct {
	RequestID string
	LineIDs   []string
}

// TwinWarning is a non-blocking finalization notice: a parallel consultation for the
// request is still waiting for a quote and will be abandoned.
type TwinWarning struct {
	RequestID string
	BasketID  string
	LineID    string
}

// FinalizationReport is the result of validating a basket before it moves to RECEIVED.
type FinalizationReport struct {
	Errors   []TwinConflict
	Warnings []TwinWarning
}

// OK reports whether the report has no blocking errors.
func (r FinalizationReport) OK() bool { return len(r.Errors) == 0 }

// ConflictingLines returns every line id named by the report's errors.
func (r FinalizationReport) ConflictingLines() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, c := range r.Errors {
		for _, id := range c.LineIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Messages renders the warnings for logs and API responses.
func (r FinalizationReport) Messages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, fmt.Sprintf("request %s: consultation on line %s (basket %s) has no quote yet and will be abandoned",
			w.RequestID, w.LineID, w.BasketID))
	}
	return out
}

// FindTwins returns every line, across all non-cancelled baskets, that references the
// purchase request.
func FindTwins(requestID string, allBaskets []SupplierOrder) []TwinLine {
	var twins []TwinLine
	for _, b := range allBaskets {
		if b.Status == BasketCancelled {
			continue
		}
		for _, l := range b.Lines {
			if l.References(requestID) {
				twins = append(twins, TwinLine{BasketID: b.ID, BasketStatus: b.Status, Line: l})
			}
		}
	}
	return twins
}

// groupTwins indexes every line of the non-cancelled baskets by referenced request id.
func groupTwins(allBaskets []SupplierOrder) map[string][]TwinLine {
	groups := make(map[string][]TwinLine)
	for _, b := range allBaskets {
		if b.Status == BasketCancelled {
			continue
		}
		for _, l := range b.Lines {
			for _, rid := range l.RequestIDs {
				groups[rid] = append(groups[rid], TwinLine{BasketID: b.ID, BasketStatus: b.Status, Line: l})
			}
		}
	}
	return groups
}

// ValidateForFinalization checks twin exclusivity for the basket about to move to RECEIVED.
// allBaskets is the system-wide snapshot; the copy of basket inside it, if any, is replaced
// by basket itself so freshly read lines win over a stale listing.
func ValidateForFinalization(basket SupplierOrder, allBaskets []SupplierOrder) FinalizationReport {
	groups := groupTwins(withBasket(allBaskets, basket))

	var report FinalizationReport
	requestIDs := basket.RequestIDs()
	sort.Strings(requestIDs)

	for _, rid := range requestIDs {
		group := groups[rid]

		var selected []string
		for _, t := range group {
			if t.Line.IsSelected {
				selected = append(selected, t.Line.ID)
			}
		}
		if len(selected) > 1 {
			report.Errors = append(report.Errors, TwinConflict{RequestID: rid, LineIDs: selected})
		}

		for _, t := range group {
			if t.BasketID == basket.ID || t.BasketStatus.IsTerminal() {
				continue
			}
			if !t.Line.QuoteReceived {
				report.Warnings = append(report.Warnings, TwinWarning{
					RequestID: rid,
					BasketID:  t.BasketID,
					LineID:    t.Line.ID,
				})
			}
		}
	}
	return report
}
