// Package rut handles Chilean tax identifiers (RUT): a numeric body plus a
// single modulo-11 check character.
package rut

import (
	"fmt"
	"strconv"
	"strings"
)

// Split separates a RUT into its numeric body and check character. It accepts
// both separated ("12345678-9") and compact ("123456789") inputs, with or
// without thousands dots, and round-trips to the same pair for either form.
func Split(rut string) (body string, dv string, err error) {
	clean := Normalize(rut)
	if len(clean) < 2 {
		return "", "", fmt.Errorf("rut %q too short", rut)
	}
	body, dv = clean[:len(clean)-1], clean[len(clean)-1:]
	if _, err := strconv.ParseInt(body, 10, 64); err != nil {
		return "", "", fmt.Errorf("rut body %q is not numeric", body)
	}
	if !strings.ContainsAny(dv, "0123456789K") {
		return "", "", fmt.Errorf("rut check character %q invalid", dv)
	}
	return body, dv, nil
}

// Normalize strips dots, dashes and whitespace and upper-cases the check
// character.
func Normalize(rut string) string {
	clean := strings.ToUpper(strings.TrimSpace(rut))
	clean = strings.ReplaceAll(clean, ".", "")
	clean = strings.ReplaceAll(clean, "-", "")
	return clean
}

// Format renders a RUT in the canonical "body-dv" form.
func Format(body, dv string) string {
	return body + "-" + strings.ToUpper(dv)
}

// CheckDigit computes the modulo-11 check character for a numeric body.
func CheckDigit(body string) (string, error) {
	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return "", fmt.Errorf("rut body %q is not numeric", body)
	}
	sum := int64(0)
	factor := int64(2)
	for n > 0 {
		sum += (n % 10) * factor
		n /= 10
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch rem := 11 - sum%11; rem {
	case 11:
		return "0", nil
	case 10:
		return "K", nil
	default:
		return strconv.FormatInt(rem, 10), nil
	}
}

// Valid reports whether the RUT's check character matches its body.
func Valid(rut string) bool {
	body, dv, err := Split(rut)
	if err != nil {
		return false
	}
	want, err := CheckDigit(body)
	if err != nil {
		return false
	}
	return dv == want
}
