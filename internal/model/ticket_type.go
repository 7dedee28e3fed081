package model

// TicketType is the inventory ledger row for one class of ticket within an
// event.  SoldCount and ReservedCount are only ever changed by guarded
// UPDATE statements so that SoldCount+ReservedCount never exceeds
// TotalCapacity.
//
// Fields:
//  ID            – primary key identifier.
//  EventID       – event the ticket type belongs to.
//  Name          – display name ("General Admission", "VIP").
//  TotalCapacity – number of tickets that can ever be sold.
//  SoldCount     – tickets converted into sales.
//  ReservedCount – tickets currently held by ACTIVE reservations.
type TicketType struct {
	ID            string `json:"id"`             // ticket_types.id
	EventID       string `json:"event_id"`       // ticket_types.event_id
	Name          string `json:"name"`           // ticket_types.name
	TotalCapacity int    `json:"total_capacity"` // ticket_types.total_capacity
	SoldCount     int    `json:"sold_count"`     // ticket_types.sold_count
	ReservedCount int    `json:"reserved_count"` // ticket_types.reserved_count
}

// Available returns how many tickets can still be held.
func (t TicketType) Available() int {
	n := t.TotalCapacity - t.SoldCount - t.ReservedCount
	if n < 0 {
		return 0
	}
	return n
}

// Availability is the read model returned by AvailableCount.
type Availability struct {
	TicketTypeID string `json:"ticket_type_id"`
	Total        int    `json:"total"`
	Sold         int    `json:"sold"`
	Reserved     int    `json:"reserved"`
	Available    int    `json:"available"`
}
