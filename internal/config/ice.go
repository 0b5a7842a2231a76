package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// The console's own ICE servers. Rooms use them when the robot descriptor
// lists none.
const (
	envICEServersJSON = "TELEOP_ICE_SERVERS_JSON"

	envStunURLs       = "TELEOP_STUN_URLS"
	envTurnURLs       = "TELEOP_TURN_URLS"
	envTurnUsername   = "TELEOP_TURN_USERNAME"
	envTurnCredential = "TELEOP_TURN_CREDENTIAL"
)

var iceSchemes = map[string]bool{"stun": true, "stuns": true, "turn": true, "turns": true}

// iceSettings are the raw ICE knobs. A JSON list wins over the STUN/TURN
// convenience values.
type iceSettings struct {
	jsonList       string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

func (s iceSettings) servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.jsonList); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(s.stunURLs, s.turnURLs, s.turnUsername, s.turnCredential)
}

// urlList accepts "urls" as a single string or a list, as browsers do.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("urls: expected a string or a list of strings")
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses a JSON ICE server list in the shape of
// RTCConfiguration.iceServers, the same shape a robot descriptor's
// iceServers field uses.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username"`
		Credential string  `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, len(entries))
	for i, e := range entries {
		servers[i] = webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(e.URLs, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			servers[i].Credential = e.Credential
		}
	}
	if err := ValidateICEServers(servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN
// server from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		username, credential := strings.TrimSpace(turnUsername), strings.TrimSpace(turnCredential)
		if username == "" || credential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: urls, Username: username, Credential: credential}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// ValidateICEServers checks every server of a list, naming the first bad
// entry by index.
func ValidateICEServers(servers []webrtc.ICEServer) error {
	for i, server := range servers {
		if err := validateICEServer(server); err != nil {
			return fmt.Errorf("iceServers[%d]: %w", i, err)
		}
	}
	return nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCredentials := false
	for _, raw := range server.URLs {
		u := strings.TrimSpace(raw)
		if u == "" {
			return errors.New("urls must not contain empty entries")
		}
		scheme, _, ok := strings.Cut(u, ":")
		if !ok || !iceSchemes[scheme] {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
		needsCredentials = needsCredentials || strings.HasPrefix(scheme, "turn")
	}
	if !needsCredentials {
		return nil
	}

	if strings.TrimSpace(server.Username) == "" {
		return errors.New("turn urls require username")
	}
	if cred, _ := server.Credential.(string); strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
