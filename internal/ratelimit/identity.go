package ratelimit

const userAgentSuffixLen = 4

// IdentityKey derives the rate limit key for a request: the client address
// plus the last four characters of the User-Agent. The suffix separates
// clients sharing one address, such as private browsing windows. The
// User-Agent is client controlled, so this is a best-effort throttle and not
// a security boundary.
func IdentityKey(clientIP, userAgent string) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	return clientIP + "-" + uaSuffix(userAgent)
}

func uaSuffix(ua string) string {
	if len(ua) <= userAgentSuffixLen {
		return ua
	}
	return ua[len(ua)-userAgentSuffixLen:]
}
