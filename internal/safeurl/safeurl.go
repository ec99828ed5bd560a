package safeurl

import "net/url"

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// RedactURL returns u with any embedded userinfo (user:pass@) and any query
// parameter commonly used to carry credentials or tokens replaced with
// "REDACTED", so upstream stream/playlist URLs can be logged without leaking
// provider credentials. Malformed input is returned with a generic marker
// rather than logged verbatim.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "[unparseable-url]"
	}
	if parsed.User != nil {
		parsed.User = url.UserPassword("REDACTED", "REDACTED")
	}
	q := parsed.Query()
	for _, key := range []string{
		"token", "auth", "password", "pass", "pwd", "key", "apikey",
		"api_key", "username", "user", "signature", "sig",
	} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
