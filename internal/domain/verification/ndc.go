package verification

import (
	"fmt"
	"strings"
)

// BarcodeFormat identifies the shape of a scanned product barcode.
type BarcodeFormat string

const (
	FormatPlainNDC BarcodeFormat = "ndc"
	FormatNDCDash  BarcodeFormat = "ndc_dashed"
	FormatUPCA     BarcodeFormat = "upc_a"
	FormatGS1GTIN  BarcodeFormat = "gs1_gtin"
	FormatUnknown  BarcodeFormat = "unknown"
)

// BarcodeResult is the outcome of parsing a scanned barcode. RawData is
// always preserved for audit regardless of outcome.
type BarcodeResult struct {
	OK      bool          `json:"ok"`
	NDC     string        `json:"ndc,omitempty"`
	Format  BarcodeFormat `json:"format"`
	RawData string        `json:"raw_data"`
	Err     string        `json:"error,omitempty"`
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseNDCFromBarcode extracts an 11-digit NDC from the supported scan
// shapes: plain 10/11-digit NDC, dash-delimited NDC, 12-digit UPC-A
// (embedded NDC after the leading digit), and GS1 AI 01 + GTIN-14
// (embedded NDC in the GTIN body).
func ParseNDCFromBarcode(raw string) BarcodeResult {
	trimmed := strings.TrimSpace(raw)
	result := BarcodeResult{RawData: raw, Format: FormatUnknown}

	switch {
	case strings.Contains(trimmed, "-"):
		ndc, err := NormalizeNDC(trimmed)
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.OK = true
		result.NDC = ndc
		result.Format = FormatNDCDash
		return result

	case isDigits(trimmed) && (len(trimmed) == 10 || len(trimmed) == 11):
		ndc, err := NormalizeNDC(trimmed)
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.OK = true
		result.NDC = ndc
		result.Format = FormatPlainNDC
		return result

	case isDigits(trimmed) && len(trimmed) == 12:
		// UPC-A: the NDC occupies the 11 digits after the leading digit.
		ndc, err := NormalizeNDC(trimmed[1:])
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.OK = true
		result.NDC = ndc
		result.Format = FormatUPCA
		return result

	case strings.HasPrefix(trimmed, "01") && len(trimmed) >= 16 && isDigits(trimmed[:16]):
		// GS1: AI 01 followed by a 14-digit GTIN. The 10-digit NDC sits
		// between the package indicator and the check digit.
		gtin := trimmed[2:16]
		ndc, err := NormalizeNDC(gtin[3:13])
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.OK = true
		result.NDC = ndc
		result.Format = FormatGS1GTIN
		return result
	}

	result.Err = fmt.Sprintf("unrecognized barcode format: %q", raw)
	return result
}

// NormalizeNDC converts an NDC in any accepted form to the canonical
// 11-digit 5-4-2 form. Dashed input is padded per segment; a plain
// 10-digit NDC is padded with a leading zero.
func NormalizeNDC(ndc string) (string, error) {
	trimmed := strings.TrimSpace(ndc)

	if strings.Contains(trimmed, "-") {
		parts := strings.Split(trimmed, "-")
		if len(parts) != 3 {
			return "", fmt.Errorf("invalid NDC format: %s", ndc)
		}
		for _, p := range parts {
			if !isDigits(p) {
				return "", fmt.Errorf("invalid NDC format: %s", ndc)
			}
		}
		labeler, product, pkg := parts[0], parts[1], parts[2]
		if len(labeler) > 5 || len(product) > 4 || len(pkg) > 2 {
			return "", fmt.Errorf("invalid NDC segment lengths: %s", ndc)
		}
		normalized := leftPad(labeler, 5) + leftPad(product, 4) + leftPad(pkg, 2)
		return normalized, nil
	}

	if !isDigits(trimmed) {
		return "", fmt.Errorf("invalid NDC format: %s", ndc)
	}

	switch len(trimmed) {
	case 11:
		return trimmed, nil
	case 10:
		return "0" + trimmed, nil
	default:
		return "", fmt.Errorf("invalid NDC length %d: %s", len(trimmed), ndc)
	}
}

// FormatNDC renders an 11-digit NDC in the dashed 5-4-2 display form.
func FormatNDC(ndc string) (string, error) {
	normalized, err := NormalizeNDC(ndc)
	if err != nil {
		return "", err
	}
	return normalized[:5] + "-" + normalized[5:9] + "-" + normalized[9:], nil
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// MatchType ranks how closely a scanned NDC matches the expected one,
// from exact down to a different manufacturer entirely.
type MatchType string

const (
	MatchExact          MatchType = "exact"
	MatchPackageVariant MatchType = "package_variant"
	MatchLabelerOnly    MatchType = "labeler_only"
	MatchNone           MatchType = "none"
)

// MatchResult is the outcome of comparing a scanned NDC against the
// expected product.
type MatchResult struct {
	Matches   bool      `json:"matches"`
	MatchType MatchType `json:"match_type"`
	Warning   string    `json:"warning,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// VerifyNDCMatch normalizes both NDCs and compares them structurally in
// order of specificity: identical, same labeler+product with a different
// package size, same labeler with a different product, different labeler.
// A package variant counts as a match only when allowPackageVariant is
// set, which covers substituting an equivalent bottle size.
func VerifyNDCMatch(scanned, expected string, allowPackageVariant bool) MatchResult {
	s, err := NormalizeNDC(scanned)
	if err != nil {
		return MatchResult{MatchType: MatchNone, Err: fmt.Sprintf("scanned NDC invalid: %v", err)}
	}
	e, err := NormalizeNDC(expected)
	if err != nil {
		return MatchResult{MatchType: MatchNone, Err: fmt.Sprintf("expected NDC invalid: %v", err)}
	}

	if s == e {
		return MatchResult{Matches: true, MatchType: MatchExact}
	}

	sLabeler, sProduct := s[:5], s[5:9]
	eLabeler, eProduct := e[:5], e[5:9]

	if sLabeler == eLabeler && sProduct == eProduct {
		if allowPackageVariant {
			return MatchResult{
				Matches:   true,
				MatchType: MatchPackageVariant,
				Warning:   "Package size differs from the expected NDC",
			}
		}
		return MatchResult{
			MatchType: MatchPackageVariant,
			Err:       "Scanned package size does not match the expected NDC",
		}
	}

	if sLabeler == eLabeler {
		return MatchResult{
			MatchType: MatchLabelerOnly,
			Err:       "Scanned product is a different product from the same manufacturer",
		}
	}

	return MatchResult{
		MatchType: MatchNone,
		Err:       "Different manufacturers: scanned product does not match",
	}
}
