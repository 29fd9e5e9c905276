package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// Hint is one ranked candidate from the engine's hint output.
type Hint struct {
	Rank          int       `json:"rank"`
	MoveText      string    `json:"move_text"`
	Equity        float64   `json:"equity"`
	Probabilities []float64 `json:"probabilities"`
}

var (
	reANSI      = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b[()][A-Za-z0-9]|\x1b[=>78]`)
	reRankLine  = regexp.MustCompile(`^\s*(\d+)\.\s+(.*?)\s*Eq\.?:\s*([+-]?\d+(?:\.\d+)?)`)
	reQualParen = regexp.MustCompile(`^[(\[][^)\]]*[)\]]\s*`)
	reQualPly   = regexp.MustCompile(`(?i)^(cubeful|cubeless)\s+\d+-ply\s*`)
	// interactive prompt, e.g. "(Alice) 31: "
	rePrompt = regexp.MustCompile(`(?m)^\([^)\n]+\)[^\n]*:[ \t]*$`)
)

// NoOutput stands in for a hint turn whose exchange produced no text.
const NoOutput = "<no engine output>"

// CleanOutput drops terminal escapes and carriage returns from raw pty output.
func CleanOutput(raw []byte) string {
	s := reANSI.ReplaceAllString(string(raw), "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

// ParseHints reads ranked candidates. A rank line looks like
//
//	1. Cubeful 2-ply    24/18 13/11     Eq.:  +0.123
//
// and may be followed by lines of probabilities, which are collected until
// the first line that is not purely numeric.
func ParseHints(text string) []Hint {
	var out []Hint
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		sm := reRankLine.FindStringSubmatch(lines[i])
		if sm == nil {
			continue
		}
		rank, _ := strconv.Atoi(sm[1])
		eq, err := strconv.ParseFloat(sm[3], 64)
		if err != nil {
			continue
		}
		h := Hint{Rank: rank, MoveText: stripQualifiers(sm[2]), Equity: eq}
		for i+1 < len(lines) {
			probs, ok := parseFloatLine(lines[i+1])
			if !ok {
				break
			}
			h.Probabilities = append(h.Probabilities, probs...)
			i++
		}
		out = append(out, h)
	}
	return out
}

func stripQualifiers(s string) string {
	s = strings.TrimSpace(s)
	for {
		next := reQualParen.ReplaceAllString(s, "")
		next = reQualPly.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == s {
			break
		}
		s = next
	}
	return strings.Join(strings.Fields(s), " ")
}

// parseFloatLine accepts lines like "0.550 0.300 0.150 - 0.450 0.120 0.010".
func parseFloatLine(line string) ([]float64, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	var out []float64
	for _, f := range fields {
		if f == "-" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, len(out) > 0
}
