package auth

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress  = errors.New("wallet address must be 0x followed by 40 hex characters")
	ErrAddressChecksum = errors.New("wallet address checksum mismatch")
)

// NormalizeAddress validates an EVM address and returns it lower-cased.
// Mixed-case input must carry a valid EIP-55 checksum.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", ErrInvalidAddress
	}
	body := addr[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrInvalidAddress
	}

	lower := strings.ToLower(body)
	if body != lower && body != strings.ToUpper(body) {
		if ChecksumAddress("0x"+lower) != "0x"+body {
			return "", ErrAddressChecksum
		}
	}
	return "0x" + lower, nil
}

// ChecksumAddress returns the EIP-55 mixed-case form of a lower-case address.
func ChecksumAddress(addr string) string {
	body := strings.ToLower(strings.TrimPrefix(addr, "0x"))

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(body))
	digest := h.Sum(nil)

	out := []byte(body)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
