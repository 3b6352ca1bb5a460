package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	securityCodeAlgorithm = "pbkdf2_sha256"
	securityCodeSaltLen   = 16
	securityCodeKeyLen    = 32
)

var securityCodePattern = regexp.MustCompile(`^[0-9]{5}$`)

// SecurityCodeManager hashes and verifies the shared code of a group. The
// stored form is pbkdf2_sha256$<iterations>$<salt hex>$<digest hex>.
type SecurityCodeManager struct {
	pepper     []byte
	iterations int
}

func NewSecurityCodeManager(pepper []byte, iterations int) *SecurityCodeManager {
	return &SecurityCodeManager{pepper: pepper, iterations: iterations}
}

func (m *SecurityCodeManager) Hash(code string) (string, error) {
	if !securityCodePattern.MatchString(code) {
		return "", common.ErrInvalidSecurityCode
	}
	salt := common.GenerateRandByteArray(securityCodeSaltLen)
	digest := m.derive(code, salt, m.iterations)
	return fmt.Sprintf("%s$%d$%s$%s", securityCodeAlgorithm, m.iterations,
		hex.EncodeToString(salt), hex.EncodeToString(digest)), nil
}

// Verify recomputes the digest under the stored salt and iteration count.
// A malformed stored value is an error; a malformed code simply fails.
func (m *SecurityCodeManager) Verify(code, stored string) (bool, error) {
	iterations, salt, digest, err := parseCodeHash(stored)
	if err != nil {
		return false, err
	}
	if !securityCodePattern.MatchString(code) {
		return false, nil
	}
	candidate := m.derive(code, salt, iterations)
	return subtle.ConstantTimeCompare(candidate, digest) == 1, nil
}

// derive runs PBKDF2 over HMAC(pepper, code).
func (m *SecurityCodeManager) derive(code string, salt []byte, iterations int) []byte {
	mac := hmac.New(sha256.New, m.pepper)
	mac.Write([]byte(code))
	password := mac.Sum(nil)
	defer common.WipeByteArray(password)
	return pbkdf2.Key(password, salt, iterations, securityCodeKeyLen, sha256.New)
}

func parseCodeHash(stored string) (int, []byte, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != securityCodeAlgorithm {
		return 0, nil, nil, common.ErrMalformedCodeHash
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return 0, nil, nil, common.ErrMalformedCodeHash
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, common.ErrMalformedCodeHash
	}
	digest, err := hex.DecodeString(parts[3])
	if err != nil || len(digest) != securityCodeKeyLen {
		return 0, nil, nil, common.ErrMalformedCodeHash
	}
	return iterations, salt, digest, nil
}
