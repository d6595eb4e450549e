package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/groups":                           "/v1/groups",
		"/v1/groups/NkK9z4aw5p0":               "/v1/groups/:id",
		"/v1/groups/NkK9z4aw5p0/watch":         "/v1/groups/:id/watch",
		"/v1/groups/NkK9z4aw5p0/future-tenure": "/v1/groups/:id/future-tenure",
		"/v1/watches/42":                       "/v1/watches/:id",
		"/v1/groups?include_deleted=true":      "/v1/groups",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
