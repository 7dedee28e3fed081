// Package credential builds, seals and renders entry credentials.  A
// credential is a CBOR claims document, checksummed with keyed BLAKE3,
// wrapped in a versioned XChaCha20-Poly1305 blob and encoded as unpadded
// base64url so it fits in a QR code.  Linear barcodes carry a compact tag instead
// (see SealTag).
package credential

import (
	"time"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// Claims is the identity-bearing content of a credential.  Integer keys keep
// the encoded payload small enough for a dense QR code.
type Claims struct {
	Kind         string `cbor:"1,keyasint"`
	ID           string `cbor:"2,keyasint"`
	EventID      string `cbor:"3,keyasint"`
	OwnerID      string `cbor:"4,keyasint,omitempty"`
	SaleID       string `cbor:"5,keyasint,omitempty"`
	TicketTypeID string `cbor:"6,keyasint,omitempty"`
	OrganizerID  string `cbor:"7,keyasint,omitempty"`
	EventDate    int64  `cbor:"8,keyasint,omitempty"`
	ValidFrom    int64  `cbor:"9,keyasint,omitempty"`
	IssuedAt     int64  `cbor:"10,keyasint"`
	ExpiresAt    int64  `cbor:"11,keyasint"`

	// Compact is set for claims opened from a wristband tag, which carry
	// the id only.
	Compact bool `cbor:"-"`
}

// TicketClaims builds the claims for a ticket credential.
func TicketClaims(t model.Ticket, sale model.Sale, ev model.Event, issuedAt, expiresAt time.Time) Claims {
	return Claims{
		Kind:         model.KindTicket,
		ID:           t.ID,
		EventID:      t.EventID,
		OwnerID:      t.OwnerID,
		SaleID:       sale.ID,
		TicketTypeID: t.TicketTypeID,
		EventDate:    ev.StartsAt.Unix(),
		IssuedAt:     issuedAt.Unix(),
		ExpiresAt:    expiresAt.Unix(),
	}
}

// WristbandClaims builds the claims for a wristband credential.
func WristbandClaims(w model.Wristband, issuedAt time.Time) Claims {
	return Claims{
		Kind:        model.KindWristband,
		ID:          w.ID,
		EventID:     w.EventID,
		OrganizerID: w.OrganizerID,
		ValidFrom:   w.ValidFrom.Unix(),
		IssuedAt:    issuedAt.Unix(),
		ExpiresAt:   w.ValidUntil.Unix(),
	}
}

// ExpiresAtTime returns ExpiresAt as a UTC time.
func (c Claims) ExpiresAtTime() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

func (c Claims) valid() bool {
	if c.Compact {
		return c.Kind == model.KindWristband && c.ID != ""
	}
	if c.ID == "" || c.EventID == "" || c.ExpiresAt == 0 {
		return false
	}
	return c.Kind == model.KindTicket || c.Kind == model.KindWristband
}
