package bitrix

import (
	"regexp"
	"sort"
)

// dealNumberPatterns match the ways operators reference deal numbers in
// free-text comments. Collected from sampled data, most specific first.
var dealNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)сделка по обращению \((\d+)\)`),
	regexp.MustCompile(`(?i)обращению \((\d+)\)`),
	regexp.MustCompile(`(?i)дело №(\d+)`),
	regexp.MustCompile(`\((\d{6,})\)`),
	regexp.MustCompile(`№(\d{6,})`),
}

// ExtractDealNumbers finds deal numbers referenced in a text, unique and
// sorted for stable output.
func ExtractDealNumbers(text string) []string {
	if text == "" {
		return nil
	}

	found := make(map[string]struct{})
	for _, pattern := range dealNumberPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			found[match[1]] = struct{}{}
		}
	}
	if len(found) == 0 {
		return nil
	}

	numbers := make([]string, 0, len(found))
	for n := range found {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	return numbers
}
