package consumer

import "strings"

const (
	boldDelimiter   = "**"
	italicDelimiter = "*"
	codeDelimiter   = "`"
)

// RepairMarkup closes emphasis left open by a stream cut mid-token: an odd
// number of "**" gets one more, then an odd number of single "*" (counted with
// every "**" removed) gets one more, then an odd number of backticks gets one
// more. Balanced text is returned unchanged. Nested or interleaved breakage is
// not handled.
func RepairMarkup(text string) string {
	if strings.Count(text, boldDelimiter)%2 != 0 {
		text += boldDelimiter
	}

	withoutBold := strings.ReplaceAll(text, boldDelimiter, "")
	if strings.Count(withoutBold, italicDelimiter)%2 != 0 {
		text += italicDelimiter
	}

	if strings.Count(text, codeDelimiter)%2 != 0 {
		text += codeDelimiter
	}

	return text
}
