package ask

import (
	"encoding/json"
	"regexp"
	"strings"
)

// First bracket-delimited span in the reply, matched non-greedily across
// lines. Deliberately naive: a nested array makes the span unparseable and
// the reply is then returned untouched, which is the compatible behavior.
var arrayPattern = regexp.MustCompile(`(?s)\[.*?\]`)

// ExtractValidationResults pulls the embedded findings array out of an
// assistant reply. On success the matched substring is stripped from the
// prose; on any parse failure the reply is returned unchanged with no
// results.
func ExtractValidationResults(reply string) (string, []ValidationResult) {
	match := arrayPattern.FindString(reply)
	if match == "" {
		return reply, []ValidationResult{}
	}
	var results []ValidationResult
	if err := json.Unmarshal([]byte(match), &results); err != nil {
		return reply, []ValidationResult{}
	}
	clean := strings.TrimSpace(strings.Replace(reply, match, "", 1))
	return clean, results
}
