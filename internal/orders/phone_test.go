package orders

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	ok := map[string]string{
		"0241234567":       "0241234567",
		"024 123 4567":     "0241234567",
		"+233241234567":    "0241234567",
		"+233 24-123-4567": "0241234567",
		"233501234567":     "0501234567",
		"00233551234567":   "0551234567",
	}
	for in, want := range ok {
		got, err := NormalizePhone(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}

	bad := []string{
		"",
		"024123456",      // too short
		"02412345678",    // too long
		"0211234567",     // not a mobile prefix
		"+234241234567",  // wrong country
		"24123456a7",     // letters
		"241234567",      // missing trunk zero
		"+2330241234567", // trunk zero after country code
	}
	for _, in := range bad {
		if _, err := NormalizePhone(in); !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("%q: expected ErrInvalidPhone, got %v", in, err)
		}
	}
}

func TestTransitions(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusSuccessful},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusRefunded},
	}
	for _, p := range allowed {
		if !p[0].CanTransitionTo(p[1]) {
			t.Fatalf("expected %s -> %s to be allowed", p[0], p[1])
		}
	}

	denied := [][2]Status{
		{StatusSuccessful, StatusFailed},
		{StatusSuccessful, StatusRefunded},
		{StatusRefunded, StatusRefunded},
		{StatusProcessing, StatusPending},
		{StatusPending, StatusRefunded},
		{StatusFailed, StatusProcessing},
	}
	for _, p := range denied {
		if p[0].CanTransitionTo(p[1]) {
			t.Fatalf("expected %s -> %s to be denied", p[0], p[1])
		}
	}
}
