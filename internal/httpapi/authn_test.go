package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		ok     bool
	}{
		"valid":     {"Bearer abc.def.ghi", "abc.def.ghi", true},
		"lowercase": {"bearer abc", "abc", true},
		"empty":     {"", "", false},
		"basic":     {"Basic Zm9vOmJhcg==", "", false},
		"no token":  {"Bearer   ", "", false},
		"too short": {"Bear", "", false},
	}
	for name, tc := range cases {
		token, ok := extractBearerToken(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", name, token, ok, tc.token, tc.ok)
		}
	}
}
