package plugin

import "strings"

// NormalizeEmail lowercases and trims an email address so case and
// whitespace variants compare equal.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips everything but digits and prefixes the default
// country code (55) when the number looks like a bare national number of
// 10 or 11 digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 || len(digits) == 11 {
		return "55" + digits
	}
	return digits
}

// NormalizeTaxID strips punctuation from a tax identifier, keeping digits
// only (CPF/CNPJ style).
func NormalizeTaxID(taxID string) string {
	var b strings.Builder
	for _, r := range taxID {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
