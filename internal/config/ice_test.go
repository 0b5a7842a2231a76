package config

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[
	  {"urls": "stun:stun.example.com:3478"},
	  {"urls": [" turn:turn.example.com:3478?transport=udp ", ""], "username": " user ", "credential": "pass"}
	]`)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("stun urls=%#v", got)
	}
	if servers[0].Credential != nil {
		t.Fatalf("stun credential=%#v, want nil", servers[0].Credential)
	}
	if got := servers[1].URLs; len(got) != 1 || got[0] != "turn:turn.example.com:3478?transport=udp" {
		t.Fatalf("turn urls=%#v, want trimmed single entry", got)
	}
	if servers[1].Username != "user" {
		t.Fatalf("username=%q, want user", servers[1].Username)
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
		t.Fatalf("credential=%#v, want pass", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{raw: `[{"urls": ["turn:turn.example.com:3478"]}]`, want: "iceServers[0]: turn urls require username"},
		{raw: `[{"urls": "stun:a"}, {"urls": ["http://stun"]}]`, want: "iceServers[1]: unsupported url scheme"},
		{raw: `[{"urls": 3}]`, want: "urls: expected a string or a list of strings"},
		{raw: `[{"urls": []}]`, want: "iceServers[0]: missing urls"},
		{raw: `[{"urls": "turn:t", "username": "u"}]`, want: "turn urls require credential"},
		{raw: `{"urls": "stun:stun.example.com"}`, want: "cannot unmarshal"},
	}
	for _, tc := range cases {
		_, err := ParseICEServersJSON(tc.raw)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("ParseICEServersJSON(%s) err=%v, want %q", tc.raw, err, tc.want)
		}
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example:3478, stun:b.example:3478",
		"turn:turn.example.com:3478?transport=udp",
		"user",
		"pass",
	)
	if err != nil {
		t.Fatalf("ParseICEServersFromConvenienceEnv: %v", err)
	}
	if len(servers) != 2 || len(servers[0].URLs) != 2 {
		t.Fatalf("servers=%#v", servers)
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("stun server has credentials: %#v", servers[0])
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Fatalf("turn server=%#v", servers[1])
	}

	if _, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com:3478", "user", ""); err == nil {
		t.Fatal("TURN without credential accepted")
	}
	if servers, err := ParseICEServersFromConvenienceEnv("", "", "", ""); err != nil || servers != nil {
		t.Fatalf("empty settings: servers=%v err=%v", servers, err)
	}
}

func TestICESettings_JSONWinsOverConvenienceValues(t *testing.T) {
	t.Parallel()

	servers, err := iceSettings{
		jsonList: `[{"urls": "stun:json.example"}]`,
		stunURLs: "stun:env.example",
	}.servers()
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example" {
		t.Fatalf("servers=%#v, want the JSON list", servers)
	}

	_, err = iceSettings{jsonList: "["}.servers()
	if err == nil || !strings.HasPrefix(err.Error(), envICEServersJSON) {
		t.Fatalf("err=%v, want it prefixed with %s", err, envICEServersJSON)
	}
}

func TestValidateICEServers(t *testing.T) {
	t.Parallel()

	ok := []webrtc.ICEServer{
		{URLs: []string{"stuns:s.example:5349"}},
		{URLs: []string{"turns:t.example:5349"}, Username: "u", Credential: "c"},
	}
	if err := ValidateICEServers(ok); err != nil {
		t.Fatalf("ValidateICEServers: %v", err)
	}
	bad := append(ok, webrtc.ICEServer{URLs: []string{"stun"}})
	if err := ValidateICEServers(bad); err == nil || !strings.HasPrefix(err.Error(), "iceServers[2]") {
		t.Fatalf("err=%v, want iceServers[2] error", err)
	}
}
