package reasoning

import "strings"

// MatchOption returns the first option, in declared order, whose lower-cased
// form occurs anywhere in the lower-cased, trimmed response.
func MatchOption(response string, options []string) (string, bool) {
	answer := strings.ToLower(strings.TrimSpace(response))
	if answer == "" {
		return "", false
	}
	for _, opt := range options {
		o := strings.ToLower(strings.TrimSpace(opt))
		if o != "" && strings.Contains(answer, o) {
			return opt, true
		}
	}
	return "", false
}
