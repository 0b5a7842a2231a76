package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "TELEOP_CONSOLE_LISTEN_ADDR"
	envVarLogFormat       = "TELEOP_CONSOLE_LOG_FORMAT"
	envVarLogLevel        = "TELEOP_CONSOLE_LOG_LEVEL"
	envVarShutdownTimeout = "TELEOP_CONSOLE_SHUTDOWN_TIMEOUT"
	envVarMode            = "TELEOP_CONSOLE_MODE"
	envVarRobotFile       = "TELEOP_CONSOLE_ROBOT_FILE"
	envVarOperatorName    = "TELEOP_CONSOLE_OPERATOR_NAME"
	envVarOperatorToken   = "TELEOP_CONSOLE_OPERATOR_TOKEN"
	envVarAllowedOrigins  = "TELEOP_CONSOLE_ALLOWED_ORIGINS"
	envVarAPIToken        = "TELEOP_CONSOLE_API_TOKEN"

	// Relay endpoint and credentials. The server URL and auth pair keep the
	// names the web console reads so one environment serves both.
	envVarServerURL           = "TELEOP_SERVER_URL"
	envVarServerAuthKey       = "TELEOP_SERVER_AUTH_KEY"
	envVarServerAuthSecret    = "TELEOP_SERVER_AUTH_SECRET"
	envVarRelayJWTSecret      = "TELEOP_CONSOLE_RELAY_JWT_SECRET"
	envVarRelayJWTTTL         = "TELEOP_CONSOLE_RELAY_JWT_TTL"
	envVarRelayConnectTimeout = "TELEOP_CONSOLE_RELAY_CONNECT_TIMEOUT"

	// Data channel delivery semantics.
	envVarDataChannelOrdered           = "TELEOP_CONSOLE_DATACHANNEL_ORDERED"
	envVarDataChannelMaxRetransmits    = "TELEOP_CONSOLE_DATACHANNEL_MAX_RETRANSMITS"
	envVarDataChannelMaxPacketLifeTime = "TELEOP_CONSOLE_DATACHANNEL_MAX_PACKET_LIFETIME_MS"
	envVarDataChannelMessagesPerSecond = "TELEOP_CONSOLE_DATACHANNEL_MAX_MESSAGES_PER_SECOND"

	envVarRemoteAudioMuted = "TELEOP_CONSOLE_REMOTE_AUDIO_MUTED"

	// Session resume marker storage.
	envVarResumeBackend = "TELEOP_CONSOLE_RESUME_BACKEND"
	envVarResumeGrace   = "TELEOP_CONSOLE_RESUME_GRACE"
	envVarRedisAddr     = "TELEOP_CONSOLE_REDIS_ADDR"
	envVarRedisPassword = "TELEOP_CONSOLE_REDIS_PASSWORD"
	envVarRedisDB       = "TELEOP_CONSOLE_REDIS_DB"

	// WebRTC network knobs.
	envVarWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"
	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"

	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagDataChannelMaxRetransmits    = "datachannel-max-retransmits"
	flagDataChannelMaxPacketLifeTime = "datachannel-max-packet-lifetime-ms"

	DefaultListenAddr          = "127.0.0.1:8090"
	DefaultShutdown            = 15 * time.Second
	DefaultMode                = ModeDev
	DefaultServerURL           = "http://127.0.0.1:3333/v1"
	DefaultServerAuthSecret    = "KubeEdgeSecret"
	DefaultOperatorToken       = "kubeedge"
	DefaultRelayConnectTimeout = 20 * time.Second
	DefaultRelayJWTTTL         = 5 * time.Minute
	DefaultResumeGrace         = 5 * time.Minute
	DefaultResumeBackend       = ResumeBackendMemory
	DefaultRedisAddr           = "127.0.0.1:6379"
	DefaultWebRTCUDPListenIP   = "0.0.0.0"
)

// recommendedWebRTCUDPPortRangeSize is the smallest port range accepted for
// WEBRTC_UDP_PORT_MIN/MAX. A console with several rooms holds one ICE agent
// per remote participant and per room, so tiny ranges exhaust quickly.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type ResumeBackend string

const (
	ResumeBackendMemory ResumeBackend = "memory"
	ResumeBackendRedis  ResumeBackend = "redis"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// DataChannelConfig is the delivery semantics the caller side uses when it
// opens a room's data channel. MaxRetransmits and MaxPacketLifeTime are
// mutually exclusive; nil means unset.
type DataChannelConfig struct {
	Ordered           bool
	MaxRetransmits    *uint16
	MaxPacketLifeTime *uint16
}

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// RobotFile is the YAML robot descriptor; empty starts the console with
	// no rooms.
	RobotFile     string
	OperatorName  string
	OperatorToken string

	// AllowedOrigins lists browser origins allowed to call the operator API.
	// Empty allows requests without an Origin header only.
	AllowedOrigins []string

	// APIToken, when set, is required as a bearer token on the room routes.
	APIToken string

	ServerURL           string
	ServerAuthKey       string
	ServerAuthSecret    string
	RelayJWTSecret      string
	RelayJWTTTL         time.Duration
	RelayConnectTimeout time.Duration

	DataChannel                  DataChannelConfig
	DataChannelMessagesPerSecond int
	RemoteAudioMuted             bool

	ResumeBackend ResumeBackend
	ResumeGrace   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// WebRTCUDPPortRange restricts the ephemeral UDP ports used for ICE when set.
	WebRTCUDPPortRange *UDPPortRange
	// WebRTCUDPListenIP optionally restricts the local IP ICE binds to.
	WebRTCUDPListenIP net.IP
	// WebRTCNAT1To1IPs configures pion to advertise these public IPs for ICE when
	// the console runs behind a fixed NAT.
	WebRTCNAT1To1IPs []string
	// WebRTCNAT1To1IPCandidateType configures whether the NAT 1:1 IPs are
	// advertised as host or srflx candidates.
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	ICEServers []webrtc.ICEServer

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. Load keeps going
// so the caller decides whether it is fatal.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	robotFile := envOrDefault(lookup, envVarRobotFile, "")
	operatorName := envOrDefault(lookup, envVarOperatorName, "")
	operatorToken := envOrDefault(lookup, envVarOperatorToken, DefaultOperatorToken)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	apiToken := envOrDefault(lookup, envVarAPIToken, "")
	serverURL := envOrDefault(lookup, envVarServerURL, DefaultServerURL)
	serverAuthKey := envOrDefault(lookup, envVarServerAuthKey, "")
	serverAuthSecret := envOrDefault(lookup, envVarServerAuthSecret, DefaultServerAuthSecret)
	relayJWTSecret := envOrDefault(lookup, envVarRelayJWTSecret, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	resumeBackendStr := envOrDefault(lookup, envVarResumeBackend, string(DefaultResumeBackend))
	redisAddr := envOrDefault(lookup, envVarRedisAddr, DefaultRedisAddr)
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	relayJWTTTL, err := envDurationOrDefault(lookup, envVarRelayJWTTTL, DefaultRelayJWTTTL)
	if err != nil {
		return Config{}, err
	}
	relayConnectTimeout, err := envDurationOrDefault(lookup, envVarRelayConnectTimeout, DefaultRelayConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	resumeGrace, err := envDurationOrDefault(lookup, envVarResumeGrace, DefaultResumeGrace)
	if err != nil {
		return Config{}, err
	}

	dataChannelOrdered, err := envBoolOrDefault(lookup, envVarDataChannelOrdered, true)
	if err != nil {
		return Config{}, err
	}
	remoteAudioMuted, err := envBoolOrDefault(lookup, envVarRemoteAudioMuted, true)
	if err != nil {
		return Config{}, err
	}
	// -1 leaves the reliability parameter unset.
	dataChannelMaxRetransmits, err := envIntOrDefault(lookup, envVarDataChannelMaxRetransmits, -1)
	if err != nil {
		return Config{}, err
	}
	dataChannelMaxPacketLifeTime, err := envIntOrDefault(lookup, envVarDataChannelMaxPacketLifeTime, -1)
	if err != nil {
		return Config{}, err
	}
	dataChannelMessagesPerSecond, err := envIntOrDefault(lookup, envVarDataChannelMessagesPerSecond, 0)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}

	// WebRTC network defaults (env values become flag defaults).
	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}

	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}

	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := flag.NewFlagSet("teleop-console", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "Operator API listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&robotFile, "robot-file", robotFile, "YAML robot descriptor listing the service rooms to join (env "+envVarRobotFile+")")
	fs.StringVar(&operatorName, "operator-name", operatorName, "Display name announced to the relay (default: the robot's control name; env "+envVarOperatorName+")")
	fs.StringVar(&operatorToken, "operator-token", operatorToken, "Operator token sent to the relay (env "+envVarOperatorToken+")")

	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to call the operator API (env "+envVarAllowedOrigins+")")
	fs.StringVar(&apiToken, "api-token", apiToken, "Bearer token required on the operator room routes (env "+envVarAPIToken+")")

	fs.StringVar(&serverURL, "server-url", serverURL, "Teleop server base URL; rooms connect to <url>/service/<id> (env "+envVarServerURL+")")
	fs.StringVar(&serverAuthKey, "server-auth-key", serverAuthKey, "Relay auth query key (env "+envVarServerAuthKey+")")
	fs.StringVar(&serverAuthSecret, "server-auth-secret", serverAuthSecret, "Relay auth query secret (env "+envVarServerAuthSecret+")")
	fs.StringVar(&relayJWTSecret, "relay-jwt-secret", relayJWTSecret, "Mint an HS256 relay token when the operator token is empty (env "+envVarRelayJWTSecret+")")
	fs.DurationVar(&relayJWTTTL, "relay-jwt-ttl", relayJWTTTL, "Lifetime of minted relay tokens (env "+envVarRelayJWTTTL+")")
	fs.DurationVar(&relayConnectTimeout, "relay-connect-timeout", relayConnectTimeout, "Max time to connect and join a room (env "+envVarRelayConnectTimeout+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")

	fs.BoolVar(&dataChannelOrdered, "datachannel-ordered", dataChannelOrdered, "Open room data channels as ordered (env "+envVarDataChannelOrdered+")")
	fs.IntVar(&dataChannelMaxRetransmits, flagDataChannelMaxRetransmits, dataChannelMaxRetransmits, "Data channel max retransmits (-1 = unset; env "+envVarDataChannelMaxRetransmits+")")
	fs.IntVar(&dataChannelMaxPacketLifeTime, flagDataChannelMaxPacketLifeTime, dataChannelMaxPacketLifeTime, "Data channel max packet lifetime in ms (-1 = unset; env "+envVarDataChannelMaxPacketLifeTime+")")
	fs.IntVar(&dataChannelMessagesPerSecond, "datachannel-max-messages-per-second", dataChannelMessagesPerSecond, "Outbound data channel messages/sec per room (0 = unlimited; env "+envVarDataChannelMessagesPerSecond+")")
	fs.BoolVar(&remoteAudioMuted, "remote-audio-muted", remoteAudioMuted, "Start media rooms with remote audio muted (env "+envVarRemoteAudioMuted+")")

	fs.StringVar(&resumeBackendStr, "resume-backend", resumeBackendStr, "Session resume marker store: memory or redis (env "+envVarResumeBackend+")")
	fs.DurationVar(&resumeGrace, "resume-grace", resumeGrace, "How long a stashed room configuration stays resumable (env "+envVarResumeGrace+")")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address for the redis resume backend (env "+envVarRedisAddr+")")
	fs.StringVar(&redisPassword, "redis-password", redisPassword, "Redis password (env "+envVarRedisPassword+")")
	fs.IntVar(&redisDB, "redis-db", redisDB, "Redis database number (env "+envVarRedisDB+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if relayConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarRelayConnectTimeout, "--relay-connect-timeout")
	}
	if relayJWTTTL <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarRelayJWTTTL, "--relay-jwt-ttl")
	}
	if resumeGrace <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarResumeGrace, "--resume-grace")
	}
	if dataChannelMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarDataChannelMessagesPerSecond)
	}
	if redisDB < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarRedisDB)
	}

	if err := validateServerURL(serverURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarServerURL, "--server-url", serverURL, err)
	}

	resumeBackend, err := parseResumeBackend(resumeBackendStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarResumeBackend, "--resume-backend", resumeBackendStr, err)
	}
	if resumeBackend == ResumeBackendRedis && strings.TrimSpace(redisAddr) == "" {
		return Config{}, fmt.Errorf("%s is required when %s=%s", envVarRedisAddr, envVarResumeBackend, ResumeBackendRedis)
	}

	dataChannel, err := dataChannelConfig(dataChannelOrdered, dataChannelMaxRetransmits, dataChannelMaxPacketLifeTime)
	if err != nil {
		return Config{}, err
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/%s and %s/%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin,
				envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		size := int(max) - int(min) + 1
		if size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q", envVarWebRTCUDPListenIP, "--"+flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		ips, err := parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarWebRTCNAT1To1IPs, "--"+flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, err)
		}
		webrtcNAT1To1IPs = ips
	}

	if strings.TrimSpace(webrtcNAT1To1CandidateTypeStr) == "" {
		webrtcNAT1To1CandidateTypeStr = string(NAT1To1CandidateTypeHost)
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarWebRTCNAT1To1IPCandidateType, "--"+flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		RobotFile:     strings.TrimSpace(robotFile),
		OperatorName:  strings.TrimSpace(operatorName),
		OperatorToken: operatorToken,

		AllowedOrigins: splitCommaSeparated(allowedOriginsStr),
		APIToken:       strings.TrimSpace(apiToken),

		ServerURL:           strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		ServerAuthKey:       serverAuthKey,
		ServerAuthSecret:    serverAuthSecret,
		RelayJWTSecret:      relayJWTSecret,
		RelayJWTTTL:         relayJWTTTL,
		RelayConnectTimeout: relayConnectTimeout,

		DataChannel:                  dataChannel,
		DataChannelMessagesPerSecond: dataChannelMessagesPerSecond,
		RemoteAudioMuted:             remoteAudioMuted,

		ResumeBackend: resumeBackend,
		ResumeGrace:   resumeGrace,
		RedisAddr:     redisAddr,
		RedisPassword: redisPassword,
		RedisDB:       redisDB,

		WebRTCUDPPortRange:           webrtcUDPPortRange,
		WebRTCUDPListenIP:            webrtcUDPListenIP,
		WebRTCNAT1To1IPs:             webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType: webrtcNAT1To1CandidateType,
	}

	iceServers, err := iceSettings{
		jsonList:       iceServersJSON,
		stunURLs:       stunURLs,
		turnURLs:       turnURLs,
		turnUsername:   turnUsername,
		turnCredential: turnCredential,
	}.servers()
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// ServiceURL returns the relay URL for a robot service.
func (c Config) ServiceURL(service string) string {
	return c.ServerURL + "/service/" + url.PathEscape(service)
}

func dataChannelConfig(ordered bool, maxRetransmits, maxPacketLifeTime int) (DataChannelConfig, error) {
	out := DataChannelConfig{Ordered: ordered}
	if maxRetransmits >= 0 && maxPacketLifeTime >= 0 {
		return DataChannelConfig{}, fmt.Errorf("%s/%s and %s/%s are mutually exclusive",
			envVarDataChannelMaxRetransmits, "--"+flagDataChannelMaxRetransmits,
			envVarDataChannelMaxPacketLifeTime, "--"+flagDataChannelMaxPacketLifeTime,
		)
	}
	if maxRetransmits >= 0 {
		if maxRetransmits > 65535 {
			return DataChannelConfig{}, fmt.Errorf("invalid %s %d: out of range (0-65535)", envVarDataChannelMaxRetransmits, maxRetransmits)
		}
		v := uint16(maxRetransmits)
		out.MaxRetransmits = &v
	}
	if maxPacketLifeTime >= 0 {
		if maxPacketLifeTime > 65535 {
			return DataChannelConfig{}, fmt.Errorf("invalid %s %d: out of range (0-65535)", envVarDataChannelMaxPacketLifeTime, maxPacketLifeTime)
		}
		v := uint16(maxPacketLifeTime)
		out.MaxPacketLifeTime = &v
	}
	return out, nil
}

func validateServerURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("expected http, https, ws or wss scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseResumeBackend(raw string) (ResumeBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ResumeBackendMemory), "":
		return ResumeBackendMemory, nil
	case string(ResumeBackendRedis):
		return ResumeBackendRedis, nil
	default:
		return "", fmt.Errorf("expected %s or %s", ResumeBackendMemory, ResumeBackendRedis)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
