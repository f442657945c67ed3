package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// TestCrypto_DeriveKey_Deterministic tests that DeriveKey is a pure function.
func TestCrypto_DeriveKey_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		masterKey := rapid.SliceOfN(rapid.Byte(), 16, 64).Draw(t, "masterKey")
		purpose := rapid.String().Draw(t, "purpose")
		version := rapid.IntRange(1, 1000).Draw(t, "version")

		k1 := DeriveKey(masterKey, purpose, version)
		k2 := DeriveKey(masterKey, purpose, version)

		if !bytes.Equal(k1, k2) {
			t.Fatalf("key derivation not deterministic: %x != %x", k1, k2)
		}
		if len(k1) != DerivedKeySize {
			t.Fatalf("derived key length = %d, want %d", len(k1), DerivedKeySize)
		}
	})
}

// TestCrypto_DeriveKey_DomainSeparation tests that different purposes and
// versions produce different keys.
func TestCrypto_DeriveKey_DomainSeparation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		masterKey := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "masterKey")
		p1 := rapid.StringMatching(`[a-z]{1,16}`).Draw(t, "p1")
		p2 := rapid.StringMatching(`[a-z]{1,16}`).Filter(func(s string) bool { return s != p1 }).Draw(t, "p2")
		v := rapid.IntRange(1, 1000).Draw(t, "v")

		if bytes.Equal(DeriveKey(masterKey, p1, v), DeriveKey(masterKey, p2, v)) {
			t.Fatalf("purposes %q and %q produced the same key", p1, p2)
		}
		if bytes.Equal(DeriveKey(masterKey, p1, v), DeriveKey(masterKey, p1, v+1)) {
			t.Fatalf("versions %d and %d produced the same key", v, v+1)
		}
	})
}

// TestCrypto_DeriveKey_DifferentMasters tests that the master key matters.
func TestCrypto_DeriveKey_DifferentMasters(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m1 := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "m1")
		m2 := rapid.SliceOfN(rapid.Byte(), 32, 32).Filter(func(b []byte) bool { return !bytes.Equal(b, m1) }).Draw(t, "m2")

		if bytes.Equal(DeriveKey(m1, PurposeDatabase, 1), DeriveKey(m2, PurposeDatabase, 1)) {
			t.Fatal("different master keys produced the same key")
		}
	})
}

func TestParseMasterKey(t *testing.T) {
	key, err := ParseMasterKey(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("ParseMasterKey: %v", err)
	}
	if len(key) != MasterKeySize {
		t.Fatalf("len = %d", len(key))
	}

	for _, bad := range []string{"", "zz", strings.Repeat("ab", 16), strings.Repeat("ab", 33)} {
		if _, err := ParseMasterKey(bad); err == nil {
			t.Errorf("ParseMasterKey(%q) should fail", bad)
		}
	}
}

func TestDatabaseKeyHex_IsHexOfDerivedKey(t *testing.T) {
	master := bytes.Repeat([]byte{0x42}, MasterKeySize)
	got := DatabaseKeyHex(master)
	want := hex.EncodeToString(DeriveKey(master, PurposeDatabase, 1))
	if got != want {
		t.Fatalf("DatabaseKeyHex = %s, want %s", got, want)
	}
	if len(got) != 2*DerivedKeySize {
		t.Fatalf("hex length = %d", len(got))
	}
}
