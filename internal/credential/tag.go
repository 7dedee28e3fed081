package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// TagVersion marks a compact wristband tag.  Tags carry only the wristband
// id and a MAC, short enough for a linear barcode; everything else is read
// from the stored wristband at the gate.
const TagVersion byte = 0x02

const (
	tagMACSize = 16
	tagSize    = 1 + 16 + tagMACSize
)

var tagDomain = []byte("ticketgate.tag.v1")

// SealTag returns the compact tag of the wristband with the given UUID.
func (s *Sealer) SealTag(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: tag id must be a UUID", model.ErrInvalidInput)
	}
	blob := make([]byte, 0, tagSize)
	blob = append(blob, TagVersion)
	blob = append(blob, u[:]...)
	mac, err := s.tagMAC(blob)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(append(blob, mac...)), nil
}

func (s *Sealer) openTag(blob []byte) (Claims, error) {
	want, err := s.tagMAC(blob[:1+16])
	if err != nil {
		return Claims{}, err
	}
	if subtle.ConstantTimeCompare(want, blob[1+16:]) != 1 {
		return Claims{}, model.ErrTamperedCredential
	}
	u, err := uuid.FromBytes(blob[1 : 1+16])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: tag id: %v", model.ErrMalformedCredential, err)
	}
	return Claims{Kind: model.KindWristband, ID: u.String(), Compact: true}, nil
}

func (s *Sealer) tagMAC(head []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(s.sumKey[:])
	if err != nil {
		return nil, fmt.Errorf("creating BLAKE3 hasher: %w", err)
	}
	_, _ = h.Write(tagDomain)
	_, _ = h.Write(head)
	return h.Sum(nil)[:tagMACSize], nil
}

func isTag(blob []byte) bool {
	return len(blob) == tagSize && blob[0] == TagVersion
}
