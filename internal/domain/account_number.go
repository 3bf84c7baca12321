package domain

import (
	"fmt"
	"math/rand/v2"
)

// NewAccountNumber generates an IBAN-shaped account number:
// country code, two check digits, bank code, branch and serial.
func NewAccountNumber() string {
	return fmt.Sprintf("IQ%02dNTB%06d%08d",
		rand.IntN(90)+10,
		rand.IntN(900000)+100000,
		rand.IntN(90000000)+10000000,
	)
}
