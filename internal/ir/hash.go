package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content digests. The version suffix allows the
// algorithm to change without colliding with stored digests.
const (
	DomainSnapshot = "grove/snapshot/v1"
	DomainCapture  = "grove/capture/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON renders the snapshot as RFC 8785 canonical JSON. Two
// snapshots with equal state render identically.
func (t TreeStateRecord) CanonicalJSON() ([]byte, error) {
	plain, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	v, err := UnmarshalIRValue(plain)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return marshalCanonical(v)
}

// Digest returns the content digest of the snapshot.
func (t TreeStateRecord) Digest() (string, error) {
	canonical, err := t.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("Digest: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when the snapshot came from a live store.
func (t TreeStateRecord) MustDigest() string {
	d, err := t.Digest()
	if err != nil {
		panic(err)
	}
	return d
}

// CaptureHash digests a route capture value. Reconciliation compares
// captures with Equal; the hash is what notifications and logs carry.
func CaptureHash(v IRValue) (string, error) {
	canonical, err := marshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("CaptureHash: %w", err)
	}
	return hashWithDomain(DomainCapture, canonical), nil
}
