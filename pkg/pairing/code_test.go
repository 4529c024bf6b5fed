package pairing

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[Code]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode() error = %v", err)
		}
		if code > CodeMax {
			t.Fatalf("GenerateCode() = %d, exceeds max %d", code, CodeMax)
		}
		if len(code.String()) != CodeLength {
			t.Fatalf("String() = %q, want %d digits", code.String(), CodeLength)
		}
		seen[code] = true
	}
	// 50 draws from a million values should essentially never collide
	// down to a single value
	if len(seen) < 2 {
		t.Error("GenerateCode() returned the same code 50 times")
	}
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Code
		wantErr bool
	}{
		{"valid", "482913", 482913, false},
		{"all zeros", "000000", 0, false},
		{"leading zeros", "000042", 42, false},
		{"max", "999999", 999999, false},
		{"surrounding whitespace", "  482913  ", 482913, false},
		{"too short", "12345", 0, true},
		{"too long", "1234567", 0, true},
		{"empty", "", 0, true},
		{"letters", "48a913", 0, true},
		{"negative", "-12345", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCode(%q) error = nil, want error", tt.input)
				}
				if !errors.Is(err, ErrInvalidCode) {
					t.Errorf("ParseCode(%q) error = %v, want ErrInvalidCode", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCode(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseCode(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestCodeString(t *testing.T) {
	if got := Code(42).String(); got != "000042" {
		t.Errorf("Code(42).String() = %q, want %q", got, "000042")
	}
	if got := Code(482913).String(); got != "482913" {
		t.Errorf("Code(482913).String() = %q, want %q", got, "482913")
	}
}

func TestMustParseCode(t *testing.T) {
	if got := MustParseCode("482913"); got != 482913 {
		t.Errorf("MustParseCode(482913) = %d, want 482913", got)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseCode with invalid input did not panic")
		}
	}()
	MustParseCode("nope")
}

func TestCodeValidate(t *testing.T) {
	if err := Code(999999).Validate(); err != nil {
		t.Errorf("Validate() error = %v for max code", err)
	}
	err := Code(1000000).Validate()
	if err == nil {
		t.Fatal("Validate() error = nil for out-of-range code")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("Validate() error = %v, want exceeds-maximum message", err)
	}
}
