package gateway

import (
	"path"
	"regexp"
	"strings"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
)

// PathClass tags a request path as a static asset or a client-side route.
type PathClass int

const (
	// ClassRoute paths resolve to the tenant's index.html (SPA fallback).
	ClassRoute PathClass = iota
	// ClassAsset paths resolve to the literal object, with no fallback.
	ClassAsset
)

func (c PathClass) String() string {
	if c == ClassAsset {
		return "asset"
	}
	return "route"
}

// Classify tags a request path. Root, trailing-slash and extensionless paths
// are routes; anything ending in a known static-file extension is an asset.
func Classify(requestPath string) PathClass {
	if requestPath == "" || requestPath == "/" || strings.HasSuffix(requestPath, "/") {
		return ClassRoute
	}
	if ext := path.Ext(requestPath); ext != "" && storage.KnownExtension(requestPath) {
		return ClassAsset
	}
	return ClassRoute
}

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-_]{3,50}$`)

// ValidTenantID reports whether id is an acceptable subdomain label.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

var repeatedSlashes = regexp.MustCompile(`/+`)

// SanitizePath removes traversal segments and collapses repeated slashes so
// a resolved key can never escape the tenant namespace.
func SanitizePath(requestPath string) string {
	cleaned := strings.ReplaceAll(requestPath, "..", "")
	cleaned = repeatedSlashes.ReplaceAllString(cleaned, "/")
	return strings.TrimPrefix(cleaned, "/")
}

// ResolveKey maps a tenant id and request path to the artifact store key.
// Empty and trailing-slash paths resolve straight to the tenant's index.html.
func ResolveKey(tenantID, requestPath string) string {
	cleaned := SanitizePath(requestPath)
	if cleaned == "" || strings.HasSuffix(cleaned, "/") {
		cleaned += "index.html"
	}
	return tenantID + "/dist/" + cleaned
}

// IndexKey returns the key of the tenant's SPA entry point.
func IndexKey(tenantID string) string {
	return tenantID + "/dist/index.html"
}
