package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// iceServersFromValues resolves the ICE list handed to browsers. The JSON form
// wins over the convenience variables. When TURN REST is enabled TURN entries
// may omit static credentials; they are minted per request instead.
func iceServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, turnREST)
}

type iceServerEntry struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// urlList accepts the RTCIceServer shapes browsers accept: a single URL or an
// array of them.
type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*u = many
	return nil
}

// ParseICEServersJSON parses AERO_ICE_SERVERS_JSON, an RTCIceServer[] array.
func ParseICEServersJSON(raw string, turnREST bool) ([]webrtc.ICEServer, error) {
	var entries []iceServerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server := webrtc.ICEServer{
			URLs:     trimURLs(e.URLs),
			Username: strings.TrimSpace(e.Username),
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			server.Credential = cred
		}
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN entry
// from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitURLs(stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitURLs(turnURLs); len(urls) > 0 {
		username := strings.TrimSpace(turnUsername)
		credential := strings.TrimSpace(turnCredential)
		if !turnREST && (username == "" || credential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: urls, Username: username}
		if credential != "" {
			server.Credential = credential
		}
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitURLs(value string) []string {
	return trimURLs(strings.Split(value, ","))
}

func trimURLs(urls []string) []string {
	return lo.Compact(lo.Map(urls, func(u string, _ int) string { return strings.TrimSpace(u) }))
}

func checkICEServer(server webrtc.ICEServer, turnREST bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, u := range server.URLs {
		if !hasICEScheme(u) {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !IsTURNServer(server) || turnREST {
		return nil
	}
	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || cred == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

func hasICEScheme(u string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}

// IsTURNServer reports whether any of server's URLs is a turn: or turns: URL.
func IsTURNServer(server webrtc.ICEServer) bool {
	return lo.SomeBy(server.URLs, func(u string) bool {
		return strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")
	})
}
