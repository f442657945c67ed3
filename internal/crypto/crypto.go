// Package crypto derives purpose-bound keys from the server master key.
// The notes database key is derived with HKDF-SHA256 so the master key
// itself never reaches SQLCipher.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the size of the decoded MASTER_KEY in bytes (256 bits)
	MasterKeySize = 32

	// DerivedKeySize is the size of every derived key in bytes (256 bits)
	DerivedKeySize = 32

	// PurposeDatabase is the HKDF purpose for the SQLCipher key.
	PurposeDatabase = "database"
)

// ParseMasterKey decodes a 64 character hex master key.
func ParseMasterKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(key))
	}
	return key, nil
}

// DeriveKey derives a key from masterKey using HKDF-SHA256.
// info = "yanote:" + purpose + ":v" + version, so keys for different
// purposes or versions never coincide.
func DeriveKey(masterKey []byte, purpose string, version int) []byte {
	info := fmt.Sprintf("yanote:%s:v%d", purpose, version)

	// Salt is nil: the master key is already uniformly random.
	hkdfReader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// HKDF only fails when asked for more than 255*HashLen bytes.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}

// DatabaseKeyHex returns the hex-encoded SQLCipher key for the notes database.
func DatabaseKeyHex(masterKey []byte) string {
	return hex.EncodeToString(DeriveKey(masterKey, PurposeDatabase, 1))
}
