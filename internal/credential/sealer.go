package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// KeySize is the size in bytes of the master key and of every derived key.
const KeySize = 32

// BlobVersion is prepended to every sealed credential and authenticated as
// AAD, so a flipped version byte fails decryption.
const BlobVersion byte = 0x01

// blobOverhead is version + XChaCha20 nonce + Poly1305 tag.
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings separating the encryption key from the checksum key.
// Changing either invalidates every credential already printed.
var (
	hkdfInfoEncryption = []byte("ticketgate.credential.enc.v1")
	hkdfInfoChecksum   = []byte("ticketgate.credential.sum.v1")
)

// envelope binds the encoded claims to their keyed checksum before
// encryption.
type envelope struct {
	Claims   []byte `cbor:"1,keyasint"`
	Checksum []byte `cbor:"2,keyasint"`
}

// Sealer turns claims into opaque payload strings and back.  It is safe for
// concurrent use.
type Sealer struct {
	encKey [KeySize]byte
	sumKey [KeySize]byte
}

// NewSealer derives the encryption and checksum keys from master.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("credential master key must be %d bytes, got %d", KeySize, len(master))
	}
	s := &Sealer{}
	if err := deriveKey(master, hkdfInfoEncryption, s.encKey[:]); err != nil {
		return nil, err
	}
	if err := deriveKey(master, hkdfInfoChecksum, s.sumKey[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func deriveKey(master, info, out []byte) error {
	r := hkdf.New(sha256.New, master, nil, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return fmt.Errorf("deriving credential key: %w", err)
	}
	return nil
}

// Seal encodes, checksums and encrypts c.
func (s *Sealer) Seal(c Claims) (string, error) {
	body, err := encMode.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding claims: %w", err)
	}
	sum, err := s.checksum(body)
	if err != nil {
		return "", err
	}
	plain, err := encMode.Marshal(envelope{Claims: body, Checksum: sum})
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	blob, err := s.encrypt(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Open reverses Seal and SealTag.  Anything that cannot be decoded or decrypted is
// model.ErrMalformedCredential; a checksum that does not match the claims
// is model.ErrTamperedCredential.
func (s *Sealer) Open(payload string) (Claims, error) {
	blob, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: not base64url", model.ErrMalformedCredential)
	}
	if isTag(blob) {
		return s.openTag(blob)
	}
	plain, err := s.decrypt(blob)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", model.ErrMalformedCredential, err)
	}
	var env envelope
	if err := decMode.Unmarshal(plain, &env); err != nil {
		return Claims{}, fmt.Errorf("%w: envelope: %v", model.ErrMalformedCredential, err)
	}
	want, err := s.checksum(env.Claims)
	if err != nil {
		return Claims{}, err
	}
	if subtle.ConstantTimeCompare(want, env.Checksum) != 1 {
		return Claims{}, model.ErrTamperedCredential
	}
	var c Claims
	if err := decMode.Unmarshal(env.Claims, &c); err != nil {
		return Claims{}, fmt.Errorf("%w: claims: %v", model.ErrMalformedCredential, err)
	}
	if !c.valid() {
		return Claims{}, fmt.Errorf("%w: incomplete claims", model.ErrMalformedCredential)
	}
	return c, nil
}

func (s *Sealer) checksum(body []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(s.sumKey[:])
	if err != nil {
		return nil, fmt.Errorf("creating BLAKE3 hasher: %w", err)
	}
	_, _ = h.Write(body)
	return h.Sum(nil), nil
}

// encrypt produces [version][nonce][ciphertext+tag].
func (s *Sealer) encrypt(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.encKey[:])
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := make([]byte, 1+len(nonce), blobOverhead+len(plain))
	out[0] = BlobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plain, []byte{BlobVersion}), nil
}

func (s *Sealer) decrypt(blob []byte) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("blob is %d bytes, minimum is %d", len(blob), blobOverhead)
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("blob version %d is not supported", blob[0])
	}
	aead, err := chacha20poly1305.NewX(s.encKey[:])
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plain, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plain, nil
}
