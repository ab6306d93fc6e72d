// Package chipauth implements the anti-clone checksum scheme.
//
// At encoding time a chip receives a random secret salt, held only by the
// service, and a checksum written to the tag's protected sector:
//
//	checksum = HMAC-SHA256(key = salt, message = uid || chip_id)
//
// A cloned tag carrying only the readable uid/chip_id cannot reproduce the
// checksum without the salt. Re-encoding rotates the salt, which permanently
// invalidates any copy made of the previous tag contents.
package chipauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/tagwerk/chiptrace/internal/model"
)

// SaltBytes is the secret salt length. 16 bytes = 128 bits.
const SaltBytes = 16

// Reason classifies why a scan was rejected.
type Reason string

const (
	// ReasonUnknown: no chip record matches the scanned chip_id.
	ReasonUnknown Reason = "unknown"
	// ReasonMismatch: the claimed checksum does not match the recomputed
	// value. Security-significant; a possible clone or tampered tag.
	ReasonMismatch Reason = "mismatch"
	// ReasonNonScannable: the chip exists but its state does not admit
	// verification (not yet encoded, replaced, or archived).
	ReasonNonScannable Reason = "non_scannable"
)

// Result is the outcome of verifying one scan report.
type Result struct {
	Authentic bool   `json:"authentic"`
	Reason    Reason `json:"reason,omitempty"`
}

// Authentic is the successful verification result.
var Authentic = Result{Authentic: true}

// Rejected builds a rejection result with the given reason.
func Rejected(reason Reason) Result {
	return Result{Reason: reason}
}

// ScanReport is what a field device submits for one physical scan: the two
// readable identifiers plus the checksum read from the protected sector.
type ScanReport struct {
	UID             string `json:"uid"`
	ChipID          string `json:"chip_id"`
	ClaimedChecksum string `json:"claimed_checksum"`
}

// Material is the secret output of one encoding pass.
type Material struct {
	Salt     string // hex-encoded, stored server-side only
	Checksum string // hex-encoded, written to the tag
}

// Encode generates fresh secret material for a chip. Calling it again for the
// same chip rotates the salt and invalidates the previous checksum.
func Encode(uid, chipID string) (Material, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return Material{}, fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	sum, err := Compute(saltHex, uid, chipID)
	if err != nil {
		return Material{}, err
	}
	return Material{Salt: saltHex, Checksum: sum}, nil
}

// Compute returns the hex checksum for the given salt and identifiers.
func Compute(saltHex, uid, chipID string) (string, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(uid))
	mac.Write([]byte(chipID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a scan report against a stored chip record. It is pure and
// side-effect free: a rejected result must never advance the lifecycle.
//
// chip may be nil, meaning no record matched the scanned chip_id.
func Verify(chip *model.Chip, uid, claimedChecksum string) Result {
	if chip == nil {
		return Rejected(ReasonUnknown)
	}
	if !chip.Status.Scannable() || !chip.HasSecret() {
		return Rejected(ReasonNonScannable)
	}

	expected, err := Compute(chip.SecretSalt, uid, chip.ID)
	if err != nil {
		// Corrupt stored salt; treat as unverifiable rather than authentic.
		return Rejected(ReasonMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(claimedChecksum)) != 1 {
		return Rejected(ReasonMismatch)
	}
	return Authentic
}
