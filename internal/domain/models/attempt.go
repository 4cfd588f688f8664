package models

import (
	"net/netip"
	"strings"

	"github.com/turtacn/certguard/pkg/constants"
)

// Attempt is the raw identifying data a caller supplies for one guarded action.
// Fields may be empty; malformed values are skipped rather than rejected.
type Attempt struct {
	IP        string `json:"ip"`
	Email     string `json:"email"`
	TaxID     string `json:"tax_id"`
	UserAgent string `json:"user_agent"`
}

// Identity is one normalized (dimension, identifier) pair of an attempt.
type Identity struct {
	Dimension  constants.Dimension
	Identifier string
}

// Identities returns the well-formed identifiers of the attempt in dimension priority
// order. The global dimension is not included.
func (a Attempt) Identities() []Identity {
	out := make([]Identity, 0, 3)
	if ip := NormalizeIP(a.IP); ip != "" {
		out = append(out, Identity{Dimension: constants.DimensionIP, Identifier: ip})
	}
	if email := NormalizeEmail(a.Email); email != "" {
		out = append(out, Identity{Dimension: constants.DimensionEmail, Identifier: email})
	}
	if taxID := NormalizeTaxID(a.TaxID); taxID != "" {
		out = append(out, Identity{Dimension: constants.DimensionTaxID, Identifier: taxID})
	}
	return out
}

// Primary returns the highest-priority well-formed identity.
func (a Attempt) Primary() (Identity, bool) {
	ids := a.Identities()
	if len(ids) == 0 {
		return Identity{}, false
	}
	return ids[0], true
}

// IdentifierFor returns the normalized identifier of the attempt for a dimension.
func (a Attempt) IdentifierFor(dim constants.Dimension) string {
	switch dim {
	case constants.DimensionIP:
		return NormalizeIP(a.IP)
	case constants.DimensionEmail:
		return NormalizeEmail(a.Email)
	case constants.DimensionTaxID:
		return NormalizeTaxID(a.TaxID)
	default:
		return ""
	}
}

// Normalize maps an identifier to its canonical form for the dimension.
// It returns "" when the value is malformed for that dimension.
func Normalize(dim constants.Dimension, raw string) string {
	switch dim {
	case constants.DimensionIP:
		return NormalizeIP(raw)
	case constants.DimensionEmail:
		return NormalizeEmail(raw)
	case constants.DimensionTaxID:
		return NormalizeTaxID(raw)
	default:
		return ""
	}
}

// NormalizeIP returns the canonical textual form of an IPv4 or IPv6 address.
func NormalizeIP(raw string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// NormalizeEmail lowercases and trims an address; it must have a local part and a domain.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return ""
	}
	return email
}

// NormalizeTaxID keeps only the digits of a tax identifier.
func NormalizeTaxID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
