package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns n random bytes as upper-case hex.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateTicketCode returns a short code an operator can type by hand,
// grouped as XXXX-XXXX.
func GenerateTicketCode() (string, error) {
	code, err := GenerateCode(4)
	if err != nil {
		return "", err
	}
	return code[:4] + "-" + code[4:], nil
}
