package runtimefacade

import "testing"

func TestLocalName(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"debian:bullseye", "wormhole_debian"},
		{"ghcr.io/acme/base", "wormhole_ghcr.io_acme_base"},
		{"plain", "wormhole_plain"},
	} {
		if got := LocalName(tc.in); got != tc.want {
			t.Errorf("LocalName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
