package logger

import "strings"

// RedactEmail masks an address for logs. The first two characters of the
// mailbox survive, a "+tag" suffix is dropped and the domain is kept in
// lower case:
//
//	"John.Doe+pricing@Example.com" -> "Jo***@example.com"
//	"ab@example.com"               -> "***@example.com"
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***@***"
	}
	local, domain := email[:at], strings.ToLower(email[at+1:])
	if domain == "" {
		domain = "***"
	}
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactEmails masks each address and joins them for a log line.
func RedactEmails(emails []string) string {
	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = RedactEmail(e)
	}
	return strings.Join(out, ", ")
}
