package verify

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// looseTLDs are stripped from both sides before the final comparison, so that
// e.g. acme.com matches acme.org. Deliberately loose; see CanAutoClaim.
var looseTLDs = []string{".com", ".org", ".net", ".edu", ".gov"}

// IsValidEmail reports whether s is a syntactically plausible email address.
func IsValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// ExtractEmailDomain returns the lower-cased domain part of an email address,
// or "" when the input has no domain.
func ExtractEmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// ExtractSiteDomain returns the lower-cased hostname of a URL with any www.
// prefix stripped, or "" when the input cannot be parsed.
func ExtractSiteDomain(rawurl string) string {
	if rawurl == "" {
		return ""
	}
	if !strings.HasPrefix(rawurl, "http") {
		rawurl = "https://" + rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// registrable collapses a hostname to its registrable domain (eTLD+1), so a
// subdomain of the business's site matches the root. Hosts the public suffix
// list cannot resolve are compared as-is.
func registrable(host string) string {
	if host == "" {
		return ""
	}
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return reg
}

// CanAutoClaim reports whether the email's domain matches the listing
// website's domain closely enough to auto-approve an ownership claim.
//
// Both sides are normalized to their registrable domain, so mail.acme.com and
// shop.acme.com both match jane@acme.com. After normalization an exact match
// wins; failing that, stripping one of a fixed set of TLD suffixes from both
// sides and comparing again also counts as a match. Fails closed on missing
// or unparseable input. Pure function, no I/O.
func CanAutoClaim(email, website string) bool {
	emailDomain := registrable(ExtractEmailDomain(email))
	siteDomain := registrable(ExtractSiteDomain(website))
	if emailDomain == "" || siteDomain == "" {
		return false
	}
	if emailDomain == siteDomain {
		return true
	}
	return stripLooseTLD(emailDomain) == stripLooseTLD(siteDomain)
}

func stripLooseTLD(domain string) string {
	for _, tld := range looseTLDs {
		if strings.HasSuffix(domain, tld) {
			return strings.TrimSuffix(domain, tld)
		}
	}
	return domain
}
