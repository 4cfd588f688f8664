package service

import (
	"net/netip"
	"strings"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

// Pattern matches normalized identifiers of one dimension.
type Pattern interface {
	Match(identifier string) bool
}

// exactPattern matches a set of identifiers verbatim.
type exactPattern map[string]struct{}

func (p exactPattern) Match(identifier string) bool {
	_, ok := p[identifier]
	return ok
}

// domainPattern matches any local part at a set of email domains ("*@domain.com").
type domainPattern map[string]struct{}

func (p domainPattern) Match(identifier string) bool {
	at := strings.LastIndexByte(identifier, '@')
	if at < 0 {
		return false
	}
	_, ok := p[identifier[at+1:]]
	return ok
}

// cidrPattern matches IP addresses inside any of a set of prefixes.
type cidrPattern []netip.Prefix

func (p cidrPattern) Match(identifier string) bool {
	addr, err := netip.ParseAddr(identifier)
	if err != nil {
		return false
	}
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// patternSet is the compiled form of one list for one dimension.
type patternSet []Pattern

func (s patternSet) Match(identifier string) bool {
	for _, p := range s {
		if p.Match(identifier) {
			return true
		}
	}
	return false
}

// compilePattern turns raw list entries into patterns. New pattern kinds only need
// a case here.
func compilePattern(dim constants.Dimension, entries []string) patternSet {
	exact := exactPattern{}
	domains := domainPattern{}
	var prefixes cidrPattern

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		switch {
		case dim == constants.DimensionEmail && strings.HasPrefix(entry, "*@"):
			domains[strings.ToLower(entry[2:])] = struct{}{}
		case dim == constants.DimensionIP && strings.Contains(entry, "/"):
			if prefix, err := netip.ParsePrefix(entry); err == nil {
				prefixes = append(prefixes, prefix.Masked())
			}
		default:
			if id := models.Normalize(dim, entry); id != "" {
				exact[id] = struct{}{}
			}
		}
	}

	set := patternSet{}
	if len(exact) > 0 {
		set = append(set, exact)
	}
	if len(domains) > 0 {
		set = append(set, domains)
	}
	if len(prefixes) > 0 {
		set = append(set, prefixes)
	}
	return set
}

// ListMatcher classifies identifiers against the allow and deny lists.
type ListMatcher struct {
	allow map[constants.Dimension]patternSet
	deny  map[constants.Dimension]patternSet
}

// NewListMatcher compiles the allow and deny lists.
func NewListMatcher(allow, deny models.ListConfig) *ListMatcher {
	m := &ListMatcher{
		allow: make(map[constants.Dimension]patternSet),
		deny:  make(map[constants.Dimension]patternSet),
	}
	for dim, entries := range allow.Entries {
		m.allow[dim] = compilePattern(dim, entries)
	}
	for dim, entries := range deny.Entries {
		m.deny[dim] = compilePattern(dim, entries)
	}
	return m
}

// Classify returns ListDenied when the identifier is on the deny list (even if it is
// also allowed), ListAllowed when it is only on the allow list, else ListUnmatched.
// The identifier must already be normalized for the dimension.
func (m *ListMatcher) Classify(dim constants.Dimension, identifier string) constants.ListVerdict {
	if identifier == "" {
		return constants.ListUnmatched
	}
	if m.deny[dim].Match(identifier) {
		return constants.ListDenied
	}
	if m.allow[dim].Match(identifier) {
		return constants.ListAllowed
	}
	return constants.ListUnmatched
}
