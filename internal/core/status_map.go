package core

import "fmt"

// StatusMapping derives a purchase request status from its basket's status.
// It is an immutable value: build it once and inject it into the synchronizer.
type StatusMapping struct {
	table map[BasketStatus]RequestStatus
}

// DefaultStatusMapping returns the standard basket → request mapping.
func DefaultStatusMapping() StatusMapping {
	return StatusMapping{table: map[BasketStatus]RequestStatus{
		BasketPooling:   RequestInProgress,
		BasketSent:      RequestOrdered,
		BasketAck:       RequestOrdered,
		BasketReceived:  RequestOrdered,
		BasketClosed:    RequestReceived,
		BasketCancelled: RequestCancelled,
	}}
}

// NewStatusMapping builds a mapping from entries. Every defined basket status must be
// present and map to a defined request status; otherwise a ConfigurationError is returned.
func NewStatusMapping(entries map[BasketStatus]RequestStatus) (StatusMapping, error) {
	table := make(map[BasketStatus]RequestStatus, len(BasketStatuses))
	for _, bs := range BasketStatuses {
		rs, ok := entries[bs]
		if !ok {
			return StatusMapping{}, &ConfigurationError{Status: bs}
		}
		if !rs.Valid() {
			return StatusMapping{}, &ConfigurationError{
				Status: bs,
				Reason: fmt.Sprintf("basket status %s maps to undefined request status %q", bs, rs),
			}
		}
		table[bs] = rs
	}
	for bs := range entries {
		if _, ok := table[bs]; !ok {
			return StatusMapping{}, &ConfigurationError{
				Status: bs,
				Reason: fmt.Sprintf("unknown basket status %q in mapping", bs),
			}
		}
	}
	return StatusMapping{table: table}, nil
}

// Map returns the request status for a basket status.
// An undefined basket status yields a ConfigurationError.
func (m StatusMapping) Map(status BasketStatus) (RequestStatus, error) {
	rs, ok := m.table[status]
	if !ok {
		return "", &ConfigurationError{Status: status}
	}
	return rs, nil
}
