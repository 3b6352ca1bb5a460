package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of msg under key.
func HMACSHA256Hex(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256Hex checks a hex signature in constant time.
func VerifyHMACSHA256Hex(key []byte, msg, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hmac.Equal(mac.Sum(nil), want)
}

// idNamespace scopes every derived id of this ledger.
var idNamespace = uuid.MustParse("6f1c2a8e-3b5d-5c7e-9f40-1a2b3c4d5e6f")

// DeriveID maps a namespaced business key to a stable UUID string. The
// mapping is a one-way name-based UUID (SHA-1), so the same (namespace, key)
// always resolves to the same id and ids cannot be reversed into keys.
//
//	DeriveID("tontine", groupID+":escrow")
func DeriveID(namespace, key string) string {
	return uuid.NewSHA1(idNamespace, []byte(namespace+":"+key)).String()
}
