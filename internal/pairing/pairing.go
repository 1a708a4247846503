// Package pairing builds and verifies the dual-HMAC countersigned pairing
// key records that bind two parties' public identities together for
// cross-user transfers. Trust is established because each
// side's own HMAC key can only verify a signature it produced itself; a
// later handshake proves control of the passkey that produced a party's
// verification secret.
package pairing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/identity"
)

// MaxAge is the maximum permitted age of a pairing request or record's
// iat timestamp at the moment it is checked.
const MaxAge = 24 * time.Hour

// MaxCommentBytes bounds the UTF-8 comment field.
const MaxCommentBytes = 256

var (
	// ErrMalformed indicates the record fails basic structural validation.
	ErrMalformed = errors.New("pairing: malformed record")

	// ErrExpired indicates iat is older than MaxAge.
	ErrExpired = errors.New("pairing: request or record has expired")

	// ErrNotAParty indicates the given identity is neither a_id nor b_id.
	ErrNotAParty = errors.New("pairing: identity is not a party to this record")

	// ErrSlotMismatch indicates the caller's public key does not match
	// the ppk recorded for their slot.
	ErrSlotMismatch = errors.New("pairing: public key does not match party's slot")

	// ErrSignatureInvalid indicates neither signature verifies under the
	// caller's own HMAC key.
	ErrSignatureInvalid = errors.New("pairing: signature does not verify")
)

// Slot identifies which half of a pairing record a party occupies.
type Slot byte

const (
	SlotA Slot = 'a'
	SlotB Slot = 'b'
)

// Record is the countersigned pairing key. Field names carry exact
// on-wire JSON tags since it must serialize as byte-for-byte canonical
// JSON.
type Record struct {
	AID        identity.PartyID `json:"a_id"`
	BID        identity.PartyID `json:"b_id"`
	APPK       [32]byte         `json:"a_ppk"`
	BPPK       [32]byte         `json:"b_ppk"`
	IAT        int64            `json:"iat"`
	InitParty  Slot             `json:"init_party"`
	InitSig    [32]byte         `json:"init_sig"`
	CounterSig [32]byte         `json:"counter_sig"`
	InitVS     [32]byte         `json:"init_vs"`
	CounterVS  [32]byte         `json:"counter_vs"`
	Comment    string           `json:"comment,omitempty"`
}

// Request is a pending pairing record: the initiator's half is filled in,
// the counterparty's signature fields are still zero.
type Request struct {
	Record
}

// challenge computes H = SHA256(a_id‖a_ppk‖b_id‖b_ppk‖iat_be64‖comment?).
func challenge(aID identity.PartyID, aPPK [32]byte, bID identity.PartyID, bPPK [32]byte, iat int64, comment string) [32]byte {
	h := sha256.New()
	h.Write(aID.Bytes())
	h.Write(aPPK[:])
	h.Write(bID.Bytes())
	h.Write(bPPK[:])
	var iatBuf [8]byte
	binary.BigEndian.PutUint64(iatBuf[:], uint64(iat))
	h.Write(iatBuf[:])
	if comment != "" {
		h.Write([]byte(comment))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hmacSum(key, msg []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func verificationSecret(ownHMACKey []byte, peerPPK [32]byte) [32]byte {
	msg := append([]byte("verification-secret"), peerPPK[:]...)
	return hmacSum(ownHMACKey, msg)
}

func checkAge(iat int64) error {
	age := time.Since(time.Unix(iat, 0))
	if age < 0 {
		age = -age
	}
	if age > MaxAge {
		return ErrExpired
	}
	return nil
}

// CreateRequest builds a pending pairing request. The two public IDs are
// ordered lexicographically into the a/b slots regardless of which party
// calls this; init_party records which slot the caller occupies.
func CreateRequest(ownHMACKey []byte, ownID identity.PartyID, ownPPK [32]byte, peerID identity.PartyID, peerPPK [32]byte, iat int64, comment string) (*Request, error) {
	if len(comment) > MaxCommentBytes {
		return nil, fmt.Errorf("%w: comment exceeds %d bytes", ErrMalformed, MaxCommentBytes)
	}
	if ownID.Equal(peerID) {
		return nil, fmt.Errorf("%w: own and peer ids must be distinct", ErrMalformed)
	}
	if err := checkAge(iat); err != nil {
		return nil, err
	}

	var r Request
	var ownSlot Slot
	if ownID.Less(peerID) {
		r.AID, r.APPK = ownID, ownPPK
		r.BID, r.BPPK = peerID, peerPPK
		ownSlot = SlotA
	} else {
		r.AID, r.APPK = peerID, peerPPK
		r.BID, r.BPPK = ownID, ownPPK
		ownSlot = SlotB
	}
	r.IAT = iat
	r.Comment = comment
	r.InitParty = ownSlot

	h := challenge(r.AID, r.APPK, r.BID, r.BPPK, r.IAT, r.Comment)
	r.InitSig = hmacSum(ownHMACKey, h[:])
	r.InitVS = verificationSecret(ownHMACKey, peerPPK)

	return &r, nil
}

// Countersign completes a pending request from the counterparty's side.
// ownID must match the slot opposite InitParty, and ownPPK must match the
// ppk already recorded for that slot (the initiator is trusting the
// out-of-band channel that delivered ownPPK to them).
func Countersign(req *Request, ownHMACKey []byte, ownID identity.PartyID, ownPPK [32]byte) (*Record, error) {
	if err := checkAge(req.IAT); err != nil {
		return nil, err
	}

	var ownSlot, initSlot Slot
	switch req.InitParty {
	case SlotA:
		initSlot = SlotA
		ownSlot = SlotB
	case SlotB:
		initSlot = SlotB
		ownSlot = SlotA
	default:
		return nil, fmt.Errorf("%w: unknown init_party %q", ErrMalformed, req.InitParty)
	}

	var expectedID identity.PartyID
	var expectedPPK [32]byte
	if ownSlot == SlotA {
		expectedID, expectedPPK = req.AID, req.APPK
	} else {
		expectedID, expectedPPK = req.BID, req.BPPK
	}
	if !ownID.Equal(expectedID) {
		return nil, ErrNotAParty
	}
	if !crypto.ConstantTimeEqual(ownPPK[:], expectedPPK[:]) {
		return nil, ErrSlotMismatch
	}

	var initiatorPPK [32]byte
	if initSlot == SlotA {
		initiatorPPK = req.APPK
	} else {
		initiatorPPK = req.BPPK
	}

	h := challenge(req.AID, req.APPK, req.BID, req.BPPK, req.IAT, req.Comment)

	rec := req.Record
	rec.CounterSig = hmacSum(ownHMACKey, h[:])
	rec.CounterVS = verificationSecret(ownHMACKey, initiatorPPK)

	return &rec, nil
}

// Parse performs structural validation on a pairing record. If ownID is
// non-nil, it additionally requires ownID to be a party to the record.
func Parse(rec *Record, ownID *identity.PartyID) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrMalformed)
	}
	if rec.AID.Equal(rec.BID) {
		return fmt.Errorf("%w: a_id and b_id must be distinct", ErrMalformed)
	}
	if !rec.AID.Less(rec.BID) {
		return fmt.Errorf("%w: a_id must sort before b_id", ErrMalformed)
	}
	if len(rec.Comment) > MaxCommentBytes {
		return fmt.Errorf("%w: comment exceeds %d bytes", ErrMalformed, MaxCommentBytes)
	}
	if rec.InitParty != SlotA && rec.InitParty != SlotB {
		return fmt.Errorf("%w: invalid init_party %q", ErrMalformed, rec.InitParty)
	}

	if ownID != nil {
		if !ownID.Equal(rec.AID) && !ownID.Equal(rec.BID) {
			return ErrNotAParty
		}
	}
	return nil
}

// VerifyOwnSignature recomputes the challenge and checks whether either
// InitSig or CounterSig verifies under ownHMACKey, returning which slot
// the caller occupies. A party can only ever verify the signature it
// produced itself; this never succeeds against the peer's signature.
func VerifyOwnSignature(rec *Record, ownHMACKey []byte, ownID identity.PartyID) (Slot, error) {
	if err := Parse(rec, &ownID); err != nil {
		return 0, err
	}

	var ownSlot Slot
	if ownID.Equal(rec.AID) {
		ownSlot = SlotA
	} else {
		ownSlot = SlotB
	}

	h := challenge(rec.AID, rec.APPK, rec.BID, rec.BPPK, rec.IAT, rec.Comment)
	expected := hmacSum(ownHMACKey, h[:])

	if crypto.ConstantTimeEqual(expected[:], rec.InitSig[:]) ||
		crypto.ConstantTimeEqual(expected[:], rec.CounterSig[:]) {
		return ownSlot, nil
	}
	return 0, ErrSignatureInvalid
}
