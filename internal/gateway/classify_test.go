package gateway

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want PathClass
	}{
		{"/", ClassRoute},
		{"", ClassRoute},
		{"/about", ClassRoute},
		{"/docs/", ClassRoute},
		{"/dashboard/settings", ClassRoute},
		{"/index.html", ClassAsset},
		{"/assets/app.js", ClassAsset},
		{"/styles/main.css", ClassAsset},
		{"/img/logo.svg", ClassAsset},
		{"/fonts/inter.woff2", ClassAsset},
		{"/report.unknownext", ClassRoute},
	}
	for _, tc := range cases {
		if got := Classify(tc.path); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestValidTenantID(t *testing.T) {
	valid := []string{"abc", "my-app", "build_01", "a1b2c3d4"}
	for _, id := range valid {
		if !ValidTenantID(id) {
			t.Errorf("ValidTenantID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "ab", "has.dot", "has space", "x", string(make([]byte, 51))}
	for _, id := range invalid {
		if ValidTenantID(id) {
			t.Errorf("ValidTenantID(%q) = true, want false", id)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/app.js", "app.js"},
		{"/../../etc/passwd", "etc/passwd"},
		{"/a//b///c.css", "a/b/c.css"},
		{"/..%2f..", "%2f"},
		{"/", ""},
	}
	for _, tc := range cases {
		if got := SanitizePath(tc.in); got != tc.want {
			t.Errorf("SanitizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveKey(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/", "site1/dist/index.html"},
		{"/docs/", "site1/dist/docs/index.html"},
		{"/app.js", "site1/dist/app.js"},
		{"/../secret.txt", "site1/dist/secret.txt"},
	}
	for _, tc := range cases {
		if got := ResolveKey("site1", tc.path); got != tc.want {
			t.Errorf("ResolveKey(site1, %q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
