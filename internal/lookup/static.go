package lookup

import "strings"

// Known burner providers. Addresses here resolve and often verify fine,
// but anything sent to them evaporates.
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
	"maildrop.cc": {}, "fakeinbox.com": {}, "trashmail.com": {},
}

// MX targets that indicate a parked, inactive domain.
var parkedMXHosts = []string{
	"secureserver.net",
	"parking.reg.ru",
	"namecheap.com",
	"domaincontrol.com",
}

// Generic function mailboxes rather than a person.
var roleAccounts = map[string]bool{
	"admin": true, "support": true, "info": true, "sales": true,
	"contact": true, "help": true, "office": true, "marketing": true,
	"jobs": true, "billing": true, "abuse": true, "postmaster": true,
	"noreply": true, "no-reply": true, "webmaster": true, "hostmaster": true,
	"hr": true,
}

// IsDisposableDomain checks if the domain is a known burner provider.
func IsDisposableDomain(domain string) bool {
	_, exists := disposableDomains[strings.ToLower(domain)]
	return exists
}

// IsRoleAccount checks if the local part is a generic function/role.
func IsRoleAccount(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return roleAccounts[strings.ToLower(parts[0])]
}

// IsParkedMX checks if an MX host points to a known parking service.
func IsParkedMX(mxHost string) bool {
	host := strings.ToLower(mxHost)
	for _, parked := range parkedMXHosts {
		if strings.Contains(host, parked) {
			return true
		}
	}
	return false
}
