package core

import "fmt"

// Decision is the outcome of a selection check. Err carries the typed reason when the
// action is refused; Flagged marks an allowed action that deserves the user's attention.
type Decision struct {
	Allowed bool
	Flagged bool
	Reason  string
	Err     error
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }

func refuse(err error) Decision { return Decision{Reason: err.Error(), Err: err} }

// CanModify reports whether quote or quantity fields of the line may be changed.
func CanModify(basket SupplierOrder, line SupplierOrderLine) Decision {
	if line.BasketID != "" && line.BasketID != basket.ID {
		return refuse(&ValidationError{
			Reason: fmt.Sprintf("line belongs to basket %s, not %s", line.BasketID, basket.ID),
			Lines:  []string{line.ID},
		})
	}
	if !basket.Status.IsEditable() {
		return refuse(&LockedBasketError{BasketID: basket.ID, Status: basket.Status})
	}
	return allow("basket is open for changes")
}

// CanSelect reports whether the line may be selected. Selecting a twin whose sibling is
// already selected in another basket is allowed but flagged: arbitration happens when a
// basket is finalized.
func CanSelect(basket SupplierOrder, line SupplierOrderLine, allBaskets []SupplierOrder) Decision {
	if d := CanModify(basket, line); !d.Allowed {
		return d
	}

	snapshot := withBasket(allBaskets, basket)
	for _, rid := range line.RequestIDs {
		for _, t := range FindTwins(rid, snapshot) {
			if t.Line.ID != line.ID && t.Line.IsSelected {
				return Decision{
					Allowed: true,
					Flagged: true,
					Reason: fmt.Sprintf("request %s already has selected twin %s in basket %s; resolve before finalizing",
						rid, t.Line.ID, t.BasketID),
				}
			}
		}
	}
	return allow("line can be selected")
}

// CanDeselect reports whether the line may be deselected. Deselecting the only selected
// twin of a purchase request is refused: it would leave the request without any path to
// fulfilment. Requests without twins are not constrained.
func CanDeselect(basket SupplierOrder, line SupplierOrderLine, allBaskets []SupplierOrder) Decision {
	if d := CanModify(basket, line); !d.Allowed {
		return d
	}
	if !line.IsSelected {
		return allow("line is not selected")
	}

	snapshot := withBasket(allBaskets, basket)
	for _, rid := range line.RequestIDs {
		twins := FindTwins(rid, snapshot)
		if len(twins) < 2 {
			continue
		}
		otherSelected := false
		for _, t := range twins {
			if t.Line.ID != line.ID && t.Line.IsSelected {
				otherSelected = true
				break
			}
		}
		if !otherSelected {
			return refuse(&ValidationError{
				Reason: fmt.Sprintf("line is the only selected twin of request %s; select another twin first", rid),
				Lines:  []string{line.ID},
			})
		}
	}
	return allow("line can be deselected")
}

// withBasket returns allBaskets with basket's entry replaced by (or extended with) basket.
func withBasket(allBaskets []SupplierOrder, basket SupplierOrder) []SupplierOrder {
	out := make([]SupplierOrder, 0, len(allBaskets)+1)
	for _, b := range allBaskets {
		if b.ID != basket.ID {
			out = append(out, b)
		}
	}
	return append(out, basket)
}
