package auth

import (
	"errors"
	"testing"
	"time"
)

func TestRelayCredentials_QueryAppendsAuthPair(t *testing.T) {
	c := RelayCredentials{AuthKey: "authKey", AuthSecret: "KubeEdgeSecret"}
	q, err := c.Query("tok", RelayClaims{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if q.Get("token") != "tok" {
		t.Fatalf("token=%q, want %q", q.Get("token"), "tok")
	}
	if q.Get("authKey") != "KubeEdgeSecret" {
		t.Fatalf("authKey=%q, want %q", q.Get("authKey"), "KubeEdgeSecret")
	}
}

func TestRelayCredentials_QuerySkipsHalfConfiguredPair(t *testing.T) {
	c := RelayCredentials{AuthSecret: "KubeEdgeSecret"}
	q, err := c.Query("", RelayClaims{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(q) != 1 || !q.Has("token") {
		t.Fatalf("query=%v, want only an empty token", q)
	}
}

func TestRelayCredentials_QueryMintsTokenWhenEmpty(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := RelayCredentials{JWTSecret: "secret", JWTTTL: time.Minute, Now: func() time.Time { return now }}
	q, err := c.Query("", RelayClaims{Operator: "alice", Room: "teleop"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	v := JWTVerifier{secret: []byte("secret"), now: func() time.Time { return now.Add(30 * time.Second) }}
	claims, err := v.VerifyAndExtractClaims(q.Get("token"))
	if err != nil {
		t.Fatalf("VerifyAndExtractClaims: %v", err)
	}
	if claims.Operator != "alice" || claims.Room != "teleop" || claims.SID == "" {
		t.Fatalf("claims=%+v", claims)
	}

	// An explicit token is never replaced.
	q, err = c.Query("given", RelayClaims{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if q.Get("token") != "given" {
		t.Fatalf("token=%q, want %q", q.Get("token"), "given")
	}
}

func TestJWTVerifier_RejectsExpiredAndWrongSecret(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	token, err := MintRelayToken("secret", RelayClaims{SID: "s1"}, now, time.Minute)
	if err != nil {
		t.Fatalf("MintRelayToken: %v", err)
	}

	expired := JWTVerifier{secret: []byte("secret"), now: func() time.Time { return now.Add(2 * time.Minute) }}
	if err := expired.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired err=%v, want ErrInvalidCredentials", err)
	}

	wrong := JWTVerifier{secret: []byte("other"), now: func() time.Time { return now }}
	if err := wrong.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong secret err=%v, want ErrInvalidCredentials", err)
	}
}

func TestSharedSecretVerifier(t *testing.T) {
	v := SharedSecretVerifier{Expected: "s3cret"}
	if err := v.Verify("s3cret"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := v.Verify("nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
	if err := (SharedSecretVerifier{}).Verify(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty err=%v, want ErrInvalidCredentials", err)
	}
}
