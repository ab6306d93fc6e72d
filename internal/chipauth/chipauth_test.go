package chipauth

import (
	"strings"
	"testing"

	"github.com/tagwerk/chiptrace/internal/model"
)

func encodedChip(t *testing.T, id, uid string, status model.ChipStatus) (*model.Chip, Material) {
	t.Helper()
	m, err := Encode(uid, id)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return &model.Chip{
		ID:         id,
		UID:        uid,
		Status:     status,
		SecretSalt: m.Salt,
		Checksum:   m.Checksum,
	}, m
}

func TestEncode(t *testing.T) {
	m, err := Encode("04AA11BB", "ch-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(m.Salt) != SaltBytes*2 {
		t.Errorf("salt hex length = %d, want %d", len(m.Salt), SaltBytes*2)
	}
	if len(m.Checksum) != 64 {
		t.Errorf("checksum hex length = %d, want 64", len(m.Checksum))
	}

	// The checksum must be reproducible from the salt.
	sum, err := Compute(m.Salt, "04AA11BB", "ch-1")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum != m.Checksum {
		t.Error("Compute does not reproduce the encoded checksum")
	}
}

func TestEncode_RotatesSalt(t *testing.T) {
	first, err := Encode("04AA", "ch-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := Encode("04AA", "ch-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Salt == second.Salt {
		t.Error("expected a fresh salt on every encode")
	}
	if first.Checksum == second.Checksum {
		t.Error("expected a fresh checksum on every encode")
	}
}

func TestCompute_IdentifierBinding(t *testing.T) {
	m, err := Encode("04AA", "ch-1")
	if err != nil {
		t.Fatal(err)
	}

	// Changing either identifier changes the checksum.
	otherUID, _ := Compute(m.Salt, "04AB", "ch-1")
	if otherUID == m.Checksum {
		t.Error("checksum must depend on the uid")
	}
	otherID, _ := Compute(m.Salt, "04AA", "ch-2")
	if otherID == m.Checksum {
		t.Error("checksum must depend on the chip id")
	}
}

func TestCompute_BadSalt(t *testing.T) {
	if _, err := Compute("not-hex", "04AA", "ch-1"); err == nil {
		t.Error("expected error for malformed salt")
	}
}

func TestVerify_Authentic(t *testing.T) {
	chip, m := encodedChip(t, "ch-1", "04AA", model.StatusInStock)
	res := Verify(chip, "04AA", m.Checksum)
	if !res.Authentic {
		t.Fatalf("got %+v, want authentic", res)
	}
	if res.Reason != "" {
		t.Errorf("authentic result carries reason %q", res.Reason)
	}
}

func TestVerify_NilChip(t *testing.T) {
	res := Verify(nil, "04AA", "deadbeef")
	if res.Authentic || res.Reason != ReasonUnknown {
		t.Fatalf("got %+v, want unknown rejection", res)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	chip, m := encodedChip(t, "ch-1", "04AA", model.StatusActive)

	// Wrong checksum.
	res := Verify(chip, "04AA", "deadbeef")
	if res.Authentic || res.Reason != ReasonMismatch {
		t.Fatalf("wrong checksum: got %+v", res)
	}

	// Right checksum, wrong scanned uid: a clone stamped onto different
	// hardware.
	res = Verify(chip, "04BB", m.Checksum)
	if res.Authentic || res.Reason != ReasonMismatch {
		t.Fatalf("wrong uid: got %+v", res)
	}
}

func TestVerify_AfterRotation(t *testing.T) {
	chip, old := encodedChip(t, "ch-1", "04AA", model.StatusInStock)

	// Re-encode: the stored material changes, the old tag contents are dead.
	fresh, err := Encode("04AA", "ch-1")
	if err != nil {
		t.Fatal(err)
	}
	chip.SecretSalt = fresh.Salt
	chip.Checksum = fresh.Checksum

	if res := Verify(chip, "04AA", old.Checksum); res.Authentic {
		t.Error("pre-rotation checksum must not verify")
	}
	if res := Verify(chip, "04AA", fresh.Checksum); !res.Authentic {
		t.Error("post-rotation checksum must verify")
	}
}

func TestVerify_NonScannable(t *testing.T) {
	// Not yet encoded.
	chip := &model.Chip{ID: "ch-1", UID: "04AA", Status: model.StatusInTransit}
	if res := Verify(chip, "04AA", "deadbeef"); res.Reason != ReasonNonScannable {
		t.Errorf("unencoded chip: got %+v, want non_scannable", res)
	}

	// Out of circulation. The checksum is genuine but the state does not
	// admit verification.
	retired, m := encodedChip(t, "ch-2", "04BB", model.StatusReplaced)
	if res := Verify(retired, "04BB", m.Checksum); res.Reason != ReasonNonScannable {
		t.Errorf("replaced chip: got %+v, want non_scannable", res)
	}

	archived, m2 := encodedChip(t, "ch-3", "04CC", model.StatusArchived)
	if res := Verify(archived, "04CC", m2.Checksum); res.Reason != ReasonNonScannable {
		t.Errorf("archived chip: got %+v, want non_scannable", res)
	}

	// Encoded status but missing secret material (should not happen, but
	// must fail closed).
	bare := &model.Chip{ID: "ch-4", UID: "04DD", Status: model.StatusInStock}
	if res := Verify(bare, "04DD", "deadbeef"); res.Reason != ReasonNonScannable {
		t.Errorf("missing material: got %+v, want non_scannable", res)
	}
}

func TestVerify_ScannableStatuses(t *testing.T) {
	for _, status := range []model.ChipStatus{
		model.StatusInStock,
		model.StatusAssignedInactive,
		model.StatusActive,
		model.StatusReturnedForService,
		model.StatusReceivedForService,
	} {
		chip, m := encodedChip(t, "ch-1", "04AA", status)
		if res := Verify(chip, "04AA", m.Checksum); !res.Authentic {
			t.Errorf("status %s: got %+v, want authentic", status, res)
		}
	}
}

func TestChecksumIsLowerHex(t *testing.T) {
	m, err := Encode("04AA", "ch-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Checksum != strings.ToLower(m.Checksum) {
		t.Error("checksum must be lowercase hex")
	}
}
