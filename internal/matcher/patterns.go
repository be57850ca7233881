package matcher

import (
	"regexp"
)

// RecurringPattern identifies a family of recurring payments.
type RecurringPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultRecurringPatterns are matched against normalized descriptions.
var DefaultRecurringPatterns = []RecurringPattern{
	{Name: "salary", Regex: regexp.MustCompile(`\b(salary|salaries|wages?|payroll)\b`)},
	{Name: "rent", Regex: regexp.MustCompile(`\b(rent|rental|lease)\b`)},
	{Name: "insurance", Regex: regexp.MustCompile(`\b(insurance|assurance|premium|policy)\b`)},
	{Name: "subscription", Regex: regexp.MustCompile(`\b(subscription|subscr|membership|netflix|spotify|dstv|showmax)\b`)},
	{Name: "utility", Regex: regexp.MustCompile(`\b(electricity|water|municipal|municipality|eskom|utility|utilities|prepaid)\b`)},
	{Name: "loan", Regex: regexp.MustCompile(`\b(loan|bond|instalment|installment|repayment)\b`)},
}

// recurringPatternOf returns the first recurring pattern matching the
// normalized description. A category hint naming a pattern also counts.
func recurringPatternOf(normalized, hint string, patterns []RecurringPattern) string {
	for _, p := range patterns {
		if p.Regex.MatchString(normalized) {
			return p.Name
		}
	}
	for _, p := range patterns {
		if hint == p.Name {
			return p.Name
		}
	}
	return ""
}
