// Package router maps input targets onto platform identifiers.
package router

import (
	"net/url"
	"strings"

	"github.com/webharvest/harvester/internal/content"
)

// Router identifies the platform responsible for a target. It is a pure
// function over the platform table: no I/O, deterministic, and ties are
// resolved by declaration order, not by pattern specificity.
type Router struct {
	descriptors []content.PlatformDescriptor
}

// New builds a Router over the configured platform table. The slice order is
// the matching order.
func New(descriptors []content.PlatformDescriptor) *Router {
	return &Router{descriptors: descriptors}
}

// Identify returns the platform id for target. A keyword-search directive
// routes straight to its platform without hostname parsing. An unmatched
// target returns ok=false; that is a normal outcome, not a fault.
func (r *Router) Identify(target string) (string, bool) {
	if strings.HasPrefix(target, content.KeywordPrefix) {
		return "xiaohongshu", true
	}

	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())

	for _, desc := range r.descriptors {
		for _, pattern := range desc.DomainPatterns {
			if strings.Contains(host, strings.ToLower(pattern)) {
				return desc.ID, true
			}
		}
	}
	return "", false
}

// Descriptor returns the table entry for a platform id.
func (r *Router) Descriptor(id string) (content.PlatformDescriptor, bool) {
	for _, desc := range r.descriptors {
		if desc.ID == id {
			return desc, true
		}
	}
	return content.PlatformDescriptor{}, false
}
