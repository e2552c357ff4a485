package credential

import "strings"

// Token keys searched in priority order. Suffixed variants
// ("<base>:<suffix>") hold additional accounts.
var TokenKeys = []string{
	"kirocli:social:token",
	"kirocli:odic:token",
	"codewhisperer:odic:token",
}

// Device-registration keys holding client id/secret pairs for the
// device-oauth mechanism.
var RegistrationKeys = []string{
	"kirocli:odic:device-registration",
	"codewhisperer:odic:device-registration",
}

// tokenKeySuffix extracts the ":<suffix>" part of a token key relative to
// its base, or "" when the key is the base itself.
func tokenKeySuffix(key, base string) string {
	if key == base {
		return ""
	}
	if strings.HasPrefix(key, base+":") {
		return key[len(base):]
	}
	return ""
}

// registrationCandidates returns registration keys to try for a token key,
// in lookup priority order. Social tokens have no registration.
func registrationCandidates(tokenKey string) []string {
	if strings.HasPrefix(tokenKey, "kirocli:social:token") {
		return nil
	}

	var candidates []string
	switch {
	case strings.HasPrefix(tokenKey, "kirocli:odic:token"):
		if suffix := tokenKeySuffix(tokenKey, "kirocli:odic:token"); suffix != "" {
			candidates = append(candidates, "kirocli:odic:device-registration"+suffix)
		}
		candidates = append(candidates,
			"kirocli:odic:device-registration",
			"codewhisperer:odic:device-registration")
	case strings.HasPrefix(tokenKey, "codewhisperer:odic:token"):
		if suffix := tokenKeySuffix(tokenKey, "codewhisperer:odic:token"); suffix != "" {
			candidates = append(candidates, "codewhisperer:odic:device-registration"+suffix)
		}
		candidates = append(candidates,
			"codewhisperer:odic:device-registration",
			"kirocli:odic:device-registration")
	}
	return candidates
}

// isTokenKey reports whether the key belongs to one of the token families.
func isTokenKey(key string) bool {
	for _, base := range TokenKeys {
		if key == base || strings.HasPrefix(key, base+":") {
			return true
		}
	}
	return false
}
