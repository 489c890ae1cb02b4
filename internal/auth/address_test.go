package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var checksummed = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	"0x52908400098527886E0F7030069857D2E4169EE7",
}

func TestChecksumAddress(t *testing.T) {
	for _, addr := range checksummed {
		assert.Equal(t, addr, ChecksumAddress(strings.ToLower(addr)))
	}
}

func TestNormalizeAddress(t *testing.T) {
	t.Run("valid checksum is lower-cased", func(t *testing.T) {
		for _, addr := range checksummed {
			got, err := NormalizeAddress(addr)
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(addr), got)
		}
	})

	t.Run("all lower and all upper skip checksum", func(t *testing.T) {
		lower := "0x27b1fdb04752bbc536007a920d24acb045561c26"
		got, err := NormalizeAddress(lower)
		require.NoError(t, err)
		assert.Equal(t, lower, got)

		got, err = NormalizeAddress("0x" + strings.ToUpper(lower[2:]))
		require.NoError(t, err)
		assert.Equal(t, lower, got)
	})

	t.Run("bad checksum rejected", func(t *testing.T) {
		_, err := NormalizeAddress("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
		assert.ErrorIs(t, err, ErrAddressChecksum)
	})

	t.Run("malformed rejected", func(t *testing.T) {
		for _, addr := range []string{"", "0x1234", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"} {
			_, err := NormalizeAddress(addr)
			assert.ErrorIs(t, err, ErrInvalidAddress, addr)
		}
	})
}
