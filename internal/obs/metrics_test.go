package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	hash := "0x7b1f2c3d4e5f60718293a4b5c6d7e8f90123456789abcdef0123456789abcd"
	ulid := "01HZX3KM9N0P1Q2R3S4T5U6V7W"

	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/healthz":                              "/healthz",
		"/v1/channels/" + ulid:                  "/v1/channels/:id",
		"/v1/channels/" + ulid + "/pull":        "/v1/channels/:id/pull",
		"/v1/consent/" + hash:                   "/v1/consent/:id",
		"/v1/consent/" + hash + "?foo=bar":      "/v1/consent/:id",
		"/v1/mesh/tick":                         "/v1/mesh/tick",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
