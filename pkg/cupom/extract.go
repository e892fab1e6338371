package cupom

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rule is one prioritized total-amount pattern. The package-level rule set
// is compiled once at init and never mutated, so it is safe for any number
// of concurrent readers.
type Rule struct {
	Priority int
	Pattern  *regexp.Regexp
}

// totalRules are the direct (tier 1) patterns, in priority order. Each
// phrase may be followed by an optional currency marker and a decimal
// number using either '.' or ',' as the fractional separator. Whitespace
// is restricted to the same line so a phrase never captures a number from
// the following line; cross-line layouts are tier 2's job.
var totalRules = compileRules(
	`VALOR TOTAL`,
	`TOTAL`,
	`TOTAL A PAGAR`,
	`VALOR A PAGAR`,
	`TOTAL:`,
	`VL TOTAL`,
)

// amountRE matches a decimal number with an optional currency marker.
var amountRE = regexp.MustCompile(`R?\$?[ \t]*(\d+[.,]\d+)`)

// keywords flag lines/windows likely to contain the grand total.
var keywords = []string{"TOTAL", "VALOR", "PAGAR"}

// keywordWindow is how many bytes after a keyword hit the window scan reads.
const keywordWindow = 30

func compileRules(phrases ...string) []Rule {
	rules := make([]Rule, 0, len(phrases))
	for i, p := range phrases {
		rules = append(rules, Rule{
			Priority: i,
			Pattern:  regexp.MustCompile(`(?i)` + p + `[ \t]*R?\$?[ \t]*(\d+[.,]\d+)`),
		})
	}
	return rules
}

// ExtractTotal parses raw OCR text for the receipt's total amount in reais.
// Tier 1 applies the direct phrase patterns in priority order; on a miss,
// tier 2 degrades to a keyword-proximity scan, preferring the last number
// on a qualifying line (receipts place the grand total after itemized
// values). Returns ErrNoTotal when both tiers miss.
//
// Thousands separators are not handled by tier 1; only totals formatted
// without grouping are guaranteed correct.
func ExtractTotal(text string) (float64, error) {
	for _, r := range totalRules {
		if m := r.Pattern.FindStringSubmatch(text); len(m) >= 2 {
			return parseAmount(m[1])
		}
	}
	if v, ok := scanKeywordLines(text); ok {
		return v, nil
	}
	if v, ok := scanKeywordWindow(text); ok {
		return v, nil
	}
	return 0, ErrNoTotal
}

// parseAmount normalizes a captured numeral (comma separator -> dot) and
// parses it as a decimal value.
func parseAmount(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return v, nil
}

// scanKeywordLines walks the text line by line; for a line containing any
// keyword it takes the last amount on that line, then looks ahead up to two
// lines when the keyword line itself carries no number.
func scanKeywordLines(text string) (float64, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !containsKeyword(line) {
			continue
		}
		if v, ok := lastAmount(line); ok {
			return v, true
		}
		for j := 1; j <= 2 && i+j < len(lines); j++ {
			if v, ok := lastAmount(lines[i+j]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// scanKeywordWindow is the byte-offset variant for single-line OCR output:
// it reads a fixed window after the first occurrence of each keyword. The
// keyword is located directly in text so the offset stays valid even when
// case conversion would change a rune's byte length.
func scanKeywordWindow(text string) (float64, bool) {
	for _, kw := range keywords {
		idx := indexFold(text, kw)
		if idx < 0 {
			continue
		}
		end := idx + keywordWindow
		if end > len(text) {
			end = len(text)
		}
		if v, ok := lastAmount(text[idx:end]); ok {
			return v, true
		}
	}
	return 0, false
}

// indexFold returns the byte index in s of the first case-insensitive match
// of the ASCII keyword sub, or -1.
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func containsKeyword(line string) bool {
	upper := strings.ToUpper(line)
	for _, kw := range keywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// lastAmount returns the last decimal-number match in s, parsed.
func lastAmount(s string) (float64, bool) {
	ms := amountRE.FindAllStringSubmatch(s, -1)
	if len(ms) == 0 {
		return 0, false
	}
	v, err := parseAmount(ms[len(ms)-1][1])
	if err != nil {
		return 0, false
	}
	return v, true
}
