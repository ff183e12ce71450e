package authz

import "strings"

// legacyTokens maps the historical permission vocabularies onto the canonical
// enum. Three conventions coexisted: colon-scoped ("read:dashboard"),
// SCREAMING_SNAKE resource names ("VIEW_OWN_PERMITS") and bare verbs.
var legacyTokens = map[string]Permission{
	"read:dashboard":      PermRead,
	"read:permits":        PermRead,
	"create:application":  PermCreate,
	"update:application":  PermUpdate,
	"delete:application":  PermDelete,
	"view_own_permits":    PermRead,
	"view_all_permits":    PermReview,
	"edit_own_permits":    PermUpdateOwn,
	"submit_applications": PermSubmit,
	"approve_permits":     PermApprove,
	"reject_permits":      PermReject,
	"manage_users":        PermAdmin,
}

// NormalizeToken resolves a permission token from any historical vocabulary.
// Unknown tokens report ok=false and must be dropped at the boundary.
func NormalizeToken(raw string) (Permission, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	if norm == "" {
		return "", false
	}
	for _, p := range []Permission{
		PermRead, PermCreate, PermUpdate, PermUpdateOwn, PermDelete,
		PermSubmit, PermReview, PermApprove, PermReject, PermAdmin,
	} {
		if norm == string(p) {
			return p, true
		}
	}
	if p, ok := legacyTokens[norm]; ok {
		return p, true
	}
	return "", false
}

// NormalizeTokens maps a raw token list onto the canonical enum, silently
// dropping unknown entries and duplicates.
func NormalizeTokens(raw []string) []Permission {
	var out []Permission
	seen := map[Permission]bool{}
	for _, r := range raw {
		p, ok := NormalizeToken(r)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
