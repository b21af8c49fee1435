// Package answer scores submissions against question definitions.
package answer

import (
	"math"
	"strconv"
	"strings"

	"quiz-room-sync/internal/domain"
)

// Epsilon is the absolute tolerance for numeric answers.
const Epsilon = 1e-4

// ParseNumeric parses integers, decimals and "a/b" fractions. Each number is read
// from its leading numeric prefix, so "22 cm" parses as 22.
// ok is false for empty input, input without a leading number and zero denominators.
func ParseNumeric(input string) (float64, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, "/") {
		parts := strings.Split(s, "/")
		if len(parts) != 2 {
			return 0, false
		}
		num, ok := parseFloat(parts[0])
		if !ok {
			return 0, false
		}
		den, ok := parseFloat(parts[1])
		if !ok || den == 0 {
			return 0, false
		}
		return num / den, true
	}
	return parseFloat(s)
}

func parseFloat(s string) (float64, bool) {
	prefix := numericPrefix(strings.TrimSpace(s))
	if prefix == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// numericPrefix returns the longest leading decimal literal of s: an optional sign,
// digits with an optional fraction, and an optional exponent.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if digits+(j-i-1) > 0 {
			digits += j - i - 1
			i = j
		}
	}
	if digits == 0 {
		return ""
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	return s[:i]
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func numericEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// ValidateFreeForm compares typed text against the canonical answer and its alternatives.
func ValidateFreeForm(text string, q domain.Question) bool {
	if q.CorrectAnswer == nil {
		return false
	}
	correct := *q.CorrectAnswer

	if q.AnswerType.IsNumeric() {
		got, ok := ParseNumeric(text)
		if !ok {
			return false
		}
		if want, ok := ParseNumeric(correct); ok && numericEqual(got, want) {
			return true
		}
		for _, alt := range q.AcceptableAnswers {
			if want, ok := ParseNumeric(alt); ok && numericEqual(got, want) {
				return true
			}
		}
		return false
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == strings.ToLower(strings.TrimSpace(correct)) {
		return true
	}
	for _, alt := range q.AcceptableAnswers {
		if strings.ToLower(strings.TrimSpace(alt)) == normalized {
			return true
		}
	}
	return false
}

// Validate scores one submission. A submission with neither option nor text never scores.
func Validate(q domain.Question, selectedOptionIndex *int, answerText *string) bool {
	if q.Type == domain.FreeForm {
		return answerText != nil && ValidateFreeForm(*answerText, q)
	}
	return selectedOptionIndex != nil &&
		q.CorrectOptionIndex != nil &&
		*selectedOptionIndex == *q.CorrectOptionIndex
}
