package utils

import (
	"strings"

	"github.com/google/uuid"
)

func NewID() string {
	return uuid.NewString()
}

// GenerateCertificateID returns "CERT-" followed by 16 upper-case hex digits.
func GenerateCertificateID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "CERT-" + strings.ToUpper(hex[:16])
}
