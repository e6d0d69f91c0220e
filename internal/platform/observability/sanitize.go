package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLength   = 180
	maxMethodLength  = 10
	maxStaffIDLength = 64
)

// piiFields are event-log keys whose values identify a buyer.
var piiFields = map[string]func(string) string{
	"customerEmail": MaskEmail,
	"email":         MaskEmail,
	"customerPhone": MaskPhone,
	"phone":         MaskPhone,
}

// clean drops control characters and truncates to limit runes.
func clean(value string, limit int) string {
	var b strings.Builder
	b.Grow(min(len(value), limit))
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute strips control characters from a request path or route pattern.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, maxRouteLength)
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(clean(method, maxMethodLength))
}

// SanitizeStaffID bounds the staff uid attached to request logs.
func SanitizeStaffID(uid string) string {
	return clean(strings.TrimSpace(uid), maxStaffIDLength)
}

// MaskEmail keeps the first character of the local part and the domain: s***@example.com.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + clean(email[at:], maxStaffIDLength)
}

// MaskPhone keeps the last three digits: ***890.
func MaskPhone(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 3 {
		return "***"
	}
	return "***" + string(digits[len(digits)-3:])
}

func maskField(key string, value any) any {
	mask, ok := piiFields[key]
	if !ok {
		return value
	}
	if s, ok := value.(string); ok {
		return mask(s)
	}
	return value
}
