package scrollsync

import "net/url"

// SamePage reports whether two URLs address the same document: equal
// scheme, host and path. Query strings and fragments are ignored.
func SamePage(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return a == b
	}
	ub, err := url.Parse(b)
	if err != nil {
		return a == b
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host && normalizePath(ua.Path) == normalizePath(ub.Path)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
