// Package config defines the typed Properties the rest of the service
// reads its settings from, and binds them onto a *pflag.FlagSet the way
// the cmd/notifyd cobra commands do — the same flags-plus-environment
// shape the teacher's CLI entrypoint uses, generalized to this service's
// own key set from §6.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Properties holds every recognized configuration key. Field comments
// name the key each binds to; see SPEC_FULL.md §6 for the full list.
type Properties struct {
	// C3 idempotence.
	EnableIdempotence     bool  // enable.idempotence
	ClientID              int64 // client.id, 0 means "allocate a new one"
	InitialSequenceNumber int64 // initial.sequence.number

	// C6 transport.
	GRPCMaxReceiveMessageLength int // grpc.max_receive_message_length

	// C5 HA client tunables.
	ListMemberIntervalMs int64 // list_member_interval_ms
	RetryTimeoutMs       int64 // retry_timeout_ms

	// C5 HA server tunables (ambient additions, not in the original key
	// set, needed to actually run a peer).
	ServerURI               string // ha.server_uri
	ServerUUID              string // ha.server_uuid
	HeartbeatIntervalMs     int64  // ha.heartbeat_interval_ms
	HeartbeatTTLMs          int64  // ha.ttl_ms

	// Ambient: logging, storage backend, metrics, listen address.
	LogLevel    string // log.level
	StoreDriver string // store.driver: "memory" | "sqlite"
	StoreDSN    string // store.dsn
	MetricsAddr string // metrics.addr, empty disables the metrics server
	ListenAddr  string // listen.addr, the C6 wire server's bind address
}

// Defaults returns a Properties with every field set to the value the
// service runs with if nothing overrides it.
func Defaults() Properties {
	return Properties{
		EnableIdempotence:     false,
		InitialSequenceNumber: 0,
		GRPCMaxReceiveMessageLength: 4 << 20,
		ListMemberIntervalMs:  30_000,
		RetryTimeoutMs:        60_000,
		HeartbeatIntervalMs:   2_000,
		HeartbeatTTLMs:        10_000,
		LogLevel:              "info",
		StoreDriver:           "memory",
		StoreDSN:              "",
		MetricsAddr:           "",
		ListenAddr:            ":7443",
	}
}

// BindFlags registers every Properties field on fs, defaulted from p,
// and returns a function that must be called after fs.Parse to write the
// parsed values back into p.
func BindFlags(fs *pflag.FlagSet, p *Properties) func() {
	enableIdempotence := fs.Bool("enable-idempotence", p.EnableIdempotence, "enable producer-side sequence-number idempotence")
	clientID := fs.Int64("client-id", p.ClientID, "rebind to an existing client record instead of allocating a new one")
	initialSeq := fs.Int64("initial-sequence-number", p.InitialSequenceNumber, "seed value for the sequence number manager after recovery")
	maxRecv := fs.Int("grpc-max-receive-message-length", p.GRPCMaxReceiveMessageLength, "inbound frame size limit in bytes")
	listMemberInterval := fs.Int64("list-member-interval-ms", p.ListMemberIntervalMs, "HA client peer-list refresh interval")
	retryTimeout := fs.Int64("retry-timeout-ms", p.RetryTimeoutMs, "HA client failover retry budget")
	serverURI := fs.String("ha-server-uri", p.ServerURI, "this peer's advertised URI")
	serverUUID := fs.String("ha-server-uuid", p.ServerUUID, "this peer's stable identity across restarts")
	heartbeatInterval := fs.Int64("ha-heartbeat-interval-ms", p.HeartbeatIntervalMs, "how often this peer writes its heartbeat")
	heartbeatTTL := fs.Int64("ha-ttl-ms", p.HeartbeatTTLMs, "how stale a heartbeat may be before the peer is considered dead")
	logLevel := fs.String("log-level", p.LogLevel, "debug|info|warn|error")
	storeDriver := fs.String("store-driver", p.StoreDriver, "memory|sqlite")
	storeDSN := fs.String("store-dsn", p.StoreDSN, "sqlite data source name, ignored for the memory driver")
	metricsAddr := fs.String("metrics-addr", p.MetricsAddr, "address to serve /metrics on, empty disables it")
	listenAddr := fs.String("listen-addr", p.ListenAddr, "address the wire protocol server binds")

	return func() {
		p.EnableIdempotence = *enableIdempotence
		p.ClientID = *clientID
		p.InitialSequenceNumber = *initialSeq
		p.GRPCMaxReceiveMessageLength = *maxRecv
		p.ListMemberIntervalMs = *listMemberInterval
		p.RetryTimeoutMs = *retryTimeout
		p.ServerURI = *serverURI
		p.ServerUUID = *serverUUID
		p.HeartbeatIntervalMs = *heartbeatInterval
		p.HeartbeatTTLMs = *heartbeatTTL
		p.LogLevel = *logLevel
		p.StoreDriver = *storeDriver
		p.StoreDSN = *storeDSN
		p.MetricsAddr = *metricsAddr
		p.ListenAddr = *listenAddr
	}
}

// ApplyEnv overrides any field whose corresponding NOTIFYD_* environment
// variable is set. notifyd serve calls it after flags have already been
// applied, so a set variable wins over both the default and any flag
// value.
func ApplyEnv(p *Properties) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int64) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if err := boolean("NOTIFYD_ENABLE_IDEMPOTENCE", &p.EnableIdempotence); err != nil {
		return err
	}
	if err := integer("NOTIFYD_CLIENT_ID", &p.ClientID); err != nil {
		return err
	}
	if err := integer("NOTIFYD_INITIAL_SEQUENCE_NUMBER", &p.InitialSequenceNumber); err != nil {
		return err
	}
	if err := integer("NOTIFYD_LIST_MEMBER_INTERVAL_MS", &p.ListMemberIntervalMs); err != nil {
		return err
	}
	if err := integer("NOTIFYD_RETRY_TIMEOUT_MS", &p.RetryTimeoutMs); err != nil {
		return err
	}
	str("NOTIFYD_HA_SERVER_URI", &p.ServerURI)
	str("NOTIFYD_HA_SERVER_UUID", &p.ServerUUID)
	str("NOTIFYD_LOG_LEVEL", &p.LogLevel)
	str("NOTIFYD_STORE_DRIVER", &p.StoreDriver)
	str("NOTIFYD_STORE_DSN", &p.StoreDSN)
	str("NOTIFYD_METRICS_ADDR", &p.MetricsAddr)
	str("NOTIFYD_LISTEN_ADDR", &p.ListenAddr)
	return nil
}

// Validate rejects configurations that would fail later in a confusing
// way — an unknown store driver, the sqlite driver without a DSN, a
// negative initial sequence number, or a heartbeat TTL shorter than twice
// the heartbeat interval.
func (p Properties) Validate() error {
	switch p.StoreDriver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown store.driver %q", p.StoreDriver)
	}
	if p.StoreDriver == "sqlite" && p.StoreDSN == "" {
		return fmt.Errorf("config: store.dsn is required for the sqlite driver")
	}
	if p.InitialSequenceNumber < 0 {
		return fmt.Errorf("config: initial.sequence.number must be >= 0")
	}
	if p.HeartbeatTTLMs < 2*p.HeartbeatIntervalMs {
		return fmt.Errorf("config: ha.ttl_ms must be at least 2x ha.heartbeat_interval_ms")
	}
	return nil
}
