package signal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/candree7-rgb/Systemic.Systems/models"
)

// num matches a price with optional thousands separators.
const num = `([0-9][0-9,]*\.?[0-9]*)`

// Header patterns in priority order: the first match decides asset and
// direction, later patterns are only consulted to detect conflicts.
var headerRules = []headerRule{
	{"slash_pair", regexp.MustCompile(`(?i)([A-Z0-9]+)\s*/\s*[A-Z0-9]+\b.*\b(LONG|SHORT)\b`), 1, 2},
	{"legacy_line", regexp.MustCompile(`(?i)(^|\n)\s*([A-Z0-9]+)\s+(LONG|SHORT)\s+Signal\s*(\n|$)`), 2, 3},
	{"coin_direction", regexp.MustCompile(`(?is)Coin\s*:\s*([A-Z0-9]+).*?Direction\s*:\s*(LONG|SHORT)`), 1, 2},
}

type headerRule struct {
	name    string
	re      *regexp.Regexp
	baseIdx int
	sideIdx int
}

// Entry patterns in priority order.
var entryRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Enter\s+on\s+Trigger\s*:\s*\$?\s*` + num),
	regexp.MustCompile(`(?i)\bEntry\s*:\s*\$?\s*` + num),
	regexp.MustCompile(`(?i)\bENTRY\b\s*\n\s*\$?\s*` + num),
}

var tpRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bTP\s*1\s*:\s*\$?\s*` + num),
	regexp.MustCompile(`(?i)\bTP\s*2\s*:\s*\$?\s*` + num),
	regexp.MustCompile(`(?i)\bTP\s*3\s*:\s*\$?\s*` + num),
}

var dcaRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDCA\s*#?\s*1\s*:\s*\$?\s*` + num),
	regexp.MustCompile(`(?i)\bDCA\s*#?\s*2\s*:\s*\$?\s*` + num),
	regexp.MustCompile(`(?i)\bDCA\s*#?\s*3\s*:\s*\$?\s*` + num),
}

// Parse recovers a trading intent from normalized text. The second return is
// false when no signal is present; that is the expected outcome for any
// message that is not a trade alert, not an error.
func Parse(text string) (models.Signal, bool) {
	base, side, ambiguous, ok := findBaseSide(text)
	if !ok {
		return models.Signal{}, false
	}
	entry, ok := findEntry(text)
	if !ok {
		return models.Signal{}, false
	}

	sig := models.Signal{
		Base:      base,
		Side:      side,
		Entry:     entry,
		Ambiguous: ambiguous,
	}
	sig.TP1, sig.TP2, sig.TP3 = findPrice(text, tpRules[0]), findPrice(text, tpRules[1]), findPrice(text, tpRules[2])
	sig.DCA1, sig.DCA2, sig.DCA3 = findPrice(text, dcaRules[0]), findPrice(text, dcaRules[1]), findPrice(text, dcaRules[2])
	return sig, true
}

// findBaseSide runs the header cascade. All rules are evaluated so that a
// lower-priority rule disagreeing with the winner can be flagged.
func findBaseSide(text string) (base string, side models.Side, ambiguous, ok bool) {
	for _, rule := range headerRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		b := strings.ToUpper(m[rule.baseIdx])
		s := toSide(m[rule.sideIdx])
		if !ok {
			base, side, ok = b, s, true
			continue
		}
		if b != base || s != side {
			ambiguous = true
		}
	}
	return base, side, ambiguous, ok
}

// findEntry runs the entry cascade; first match wins.
func findEntry(text string) (float64, bool) {
	for _, re := range entryRules {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		p, err := toPrice(m[1])
		if err != nil || p <= 0 {
			return 0, false
		}
		return p, true
	}
	return 0, false
}

func findPrice(text string, re *regexp.Regexp) *float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	p, err := toPrice(m[1])
	if err != nil {
		return nil
	}
	return &p
}

// toPrice strips thousands separators before conversion.
func toPrice(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func toSide(s string) models.Side {
	if strings.EqualFold(s, "LONG") {
		return models.SideLong
	}
	return models.SideShort
}
