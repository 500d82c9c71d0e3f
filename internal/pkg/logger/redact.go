package logger

import "strings"

// RedactEmail masks the local part of a contact address so PII never
// lands in a log line, while keeping the domain readable for
// deliverability debugging: "john.doe@example.com" becomes
// "jo***@example.com". Local parts of two characters or fewer are
// masked entirely, and anything that does not look like an address
// collapses to "***@***".
func RedactEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
