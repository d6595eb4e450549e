package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"plain token", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"case-insensitive scheme", "bearer abc", "abc", false},
		{"surrounding whitespace", "  Bearer abc  ", "abc", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"scheme only", "Bearer ", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("token = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPublicPaths(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/auth/token", "/v1/info", "/"} {
		if !isPublicPath(path) {
			t.Fatalf("%s should be public", path)
		}
	}
	for _, path := range []string{"/v1/groups", "/v1/groups/NkK9z4aw5p0", "/v1/watches/1"} {
		if isPublicPath(path) {
			t.Fatalf("%s should require auth", path)
		}
	}
}
