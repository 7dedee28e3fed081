package model

import "time"

// Ticket statuses.
const (
	TicketActive    = "ACTIVE"
	TicketUsed      = "USED"
	TicketCancelled = "CANCELLED"
	TicketExpired   = "EXPIRED"
	TicketRefunded  = "REFUNDED"
)

// Credential statuses shared by tickets and wristbands.  Wristbands
// additionally move to EXPIRED or REVOKED.
const (
	CredentialPending   = "PENDING"
	CredentialGenerated = "GENERATED"
	CredentialActive    = "ACTIVE"
	CredentialUsed      = "USED"
	CredentialExpired   = "EXPIRED"
	CredentialRevoked   = "REVOKED"
)

// Ticket is one admission sold through a sale.  Once Status is USED the row
// is never modified again.
type Ticket struct {
	ID                 string     `json:"id"`
	TicketTypeID       string     `json:"ticket_type_id"`
	EventID            string     `json:"event_id"`
	OwnerID            string     `json:"owner_id"`
	SaleID             string     `json:"sale_id"`
	Status             string     `json:"status"`
	CheckedIn          bool       `json:"checked_in"`
	CheckInTime        *time.Time `json:"check_in_time,omitempty"`
	CredentialStatus   string     `json:"credential_status"`
	CredentialPayload  string     `json:"-"`
	CredentialImage    []byte     `json:"-"`
	CredentialIssuedAt *time.Time `json:"credential_issued_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// HasCredential reports whether a payload has already been minted.
func (t Ticket) HasCredential() bool {
	return t.CredentialStatus != CredentialPending && t.CredentialPayload != ""
}
