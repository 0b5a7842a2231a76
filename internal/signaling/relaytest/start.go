package relaytest

import (
	"net/http/httptest"
	"testing"
)

// Start serves a new Relay on a loopback httptest server for the duration of
// the test and returns it with its base URL.
func Start(t testing.TB, opts Options) (*Relay, string) {
	t.Helper()
	r := New(opts)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return r, srv.URL
}
