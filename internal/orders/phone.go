package orders

import (
	"fmt"
	"strings"
)

// Ghana mobile prefixes (0 + two digits) across MTN, Telecel and AirtelTigo.
var mobilePrefixes = map[string]bool{
	"020": true, "023": true, "024": true, "025": true, "026": true, "027": true,
	"028": true, "050": true, "053": true, "054": true, "055": true, "056": true,
	"057": true, "059": true,
}

// NormalizePhone returns the canonical local form 0XXXXXXXXX.
// Accepted inputs: 0XXXXXXXXX, +233XXXXXXXXX, 233XXXXXXXXX and 00233XXXXXXXXX,
// with spaces, dashes, dots and parentheses ignored.
func NormalizePhone(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(s, "+233"):
		s = "0" + s[4:]
	case strings.HasPrefix(s, "00233"):
		s = "0" + s[5:]
	case strings.HasPrefix(s, "233") && len(s) == 12:
		s = "0" + s[3:]
	}

	if len(s) != 10 || s[0] != '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	if !mobilePrefixes[s[:3]] {
		return "", fmt.Errorf("%w: unknown prefix %s", ErrInvalidPhone, s[:3])
	}
	return s, nil
}
