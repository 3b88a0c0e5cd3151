package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateTicketCode mints a random uppercase hex code for tickets
// added by hand on the dashboard.
func GenerateTicketCode(nBytes int) (string, error) {
	byt := make([]byte, nBytes)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
