package verification

import (
	"strings"
	"testing"
)

func TestParseNDCFromBarcode(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		ok     bool
		ndc    string
		format BarcodeFormat
	}{
		{"11-digit plain", "00071015523", true, "00071015523", FormatPlainNDC},
		{"10-digit plain", "0071015523", true, "00071015523", FormatPlainNDC},
		{"dashed 5-4-2", "00071-0155-23", true, "00071015523", FormatNDCDash},
		{"dashed 4-4-2", "0071-0155-23", true, "00071015523", FormatNDCDash},
		{"UPC-A", "300710155237", true, "00710155237", FormatUPCA},
		{"GS1 GTIN", "0100300710155230", true, "00071015523", FormatGS1GTIN},
		{"garbage", "hello", false, "", FormatUnknown},
		{"too short", "12345", false, "", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseNDCFromBarcode(tt.raw)
			if result.OK != tt.ok {
				t.Fatalf("ok = %v, want %v (err %q)", result.OK, tt.ok, result.Err)
			}
			if result.RawData != tt.raw {
				t.Errorf("raw data not preserved: %q", result.RawData)
			}
			if !tt.ok {
				if result.Err == "" {
					t.Error("failed parse should carry an error")
				}
				if result.NDC != "" {
					t.Errorf("failed parse should carry no NDC, got %q", result.NDC)
				}
				return
			}
			if result.NDC != tt.ndc {
				t.Errorf("ndc = %q, want %q", result.NDC, tt.ndc)
			}
			if result.Format != tt.format {
				t.Errorf("format = %s, want %s", result.Format, tt.format)
			}
		})
	}
}

func TestNormalizeFormatRoundTrip(t *testing.T) {
	inputs := []string{"00071015523", "0071-0155-23", "71-155-23", "0071015523"}

	for _, in := range inputs {
		normalized, err := NormalizeNDC(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		formatted, err := FormatNDC(normalized)
		if err != nil {
			t.Fatalf("format %q: %v", normalized, err)
		}
		again, err := NormalizeNDC(formatted)
		if err != nil {
			t.Fatalf("re-normalize %q: %v", formatted, err)
		}
		if again != normalized {
			t.Errorf("round trip of %q: %q != %q", in, again, normalized)
		}
	}
}

func TestNormalizeNDCRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "123", "1-2", "1-2-3-4", "abcde-1234-12", "123456789012"} {
		if _, err := NormalizeNDC(in); err == nil {
			t.Errorf("normalize %q should fail", in)
		}
	}
}

func TestVerifyNDCMatch(t *testing.T) {
	const expected = "00071-0155-23"

	t.Run("exact", func(t *testing.T) {
		result := VerifyNDCMatch(expected, expected, false)
		if !result.Matches || result.MatchType != MatchExact {
			t.Errorf("self match = %+v, want exact", result)
		}
	})

	t.Run("package variant blocked", func(t *testing.T) {
		result := VerifyNDCMatch("00071-0155-40", expected, false)
		if result.Matches || result.MatchType != MatchPackageVariant {
			t.Errorf("result = %+v, want package_variant mismatch", result)
		}
		if result.Err == "" {
			t.Error("blocked variant should carry a descriptive error")
		}
	})

	t.Run("package variant allowed", func(t *testing.T) {
		result := VerifyNDCMatch("00071-0155-40", expected, true)
		if !result.Matches || result.MatchType != MatchPackageVariant {
			t.Errorf("result = %+v, want package_variant match", result)
		}
		if result.Warning == "" {
			t.Error("allowed variant should carry a warning")
		}
	})

	t.Run("same labeler different product", func(t *testing.T) {
		result := VerifyNDCMatch("00071-9999-23", expected, true)
		if result.Matches || result.MatchType != MatchLabelerOnly {
			t.Errorf("result = %+v, want labeler_only mismatch", result)
		}
		if !strings.Contains(result.Err, "different product") {
			t.Errorf("error %q should mention a different product", result.Err)
		}
	})

	t.Run("different manufacturer", func(t *testing.T) {
		result := VerifyNDCMatch("55555-0155-23", expected, true)
		if result.Matches || result.MatchType != MatchNone {
			t.Errorf("result = %+v, want none", result)
		}
		if !strings.Contains(result.Err, "Different manufacturers") {
			t.Errorf("error %q should mention different manufacturers", result.Err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		result := VerifyNDCMatch("garbage", expected, false)
		if result.Matches || result.Err == "" {
			t.Errorf("invalid scan should fail with an error: %+v", result)
		}
	})
}

func TestVerifyNDCMatchSelfIsAlwaysExact(t *testing.T) {
	for _, ndc := range []string{"00071015523", "12345-6789-01", "9999999999"} {
		result := VerifyNDCMatch(ndc, ndc, false)
		if !result.Matches || result.MatchType != MatchExact {
			t.Errorf("VerifyNDCMatch(%q, %q) = %+v, want exact match", ndc, ndc, result)
		}
	}
}
