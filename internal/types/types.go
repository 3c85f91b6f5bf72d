/*
Package types defines the data model shared by every VPN supervisor
component: the persisted ServerRecord, the in-memory RuntimeState, the
narrow interfaces the core consumes from out-of-scope collaborators
(organization/user store, event bus, audit log), and the filesystem/event
name constants that make up the on-disk and bus wire contract.
*/
package types

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Protocol is the OpenVPN transport protocol.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// Status is the run state of a server, derived from the RuntimeRegistry.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// ServerRecord is the persisted, declarative unit of server configuration.
// It is immutable on disk between Commit calls; in memory it is owned by
// exactly one lifecycle.Controller instance.
type ServerRecord struct {
	ID string `yaml:"id"`

	Name     string   `yaml:"name"`
	Network  string   `yaml:"network"`
	Interface string  `yaml:"interface"`
	Port     int      `yaml:"port"`
	Protocol Protocol `yaml:"protocol"`

	LocalNetworks  []string `yaml:"local_networks"`
	PublicAddress  string   `yaml:"public_address"`

	OTPAuth         bool `yaml:"otp_auth"`
	LZOCompression  bool `yaml:"lzo_compression"`
	Debug           bool `yaml:"debug"`

	Organizations []string `yaml:"organizations"`

	PrimaryOrganization string `yaml:"primary_organization"`
	PrimaryUser         string `yaml:"primary_user"`
}

// NewID mints a fresh 128-bit, hex-encoded opaque id (the original's
// uuid4().hex equivalent — no dashes, lowercase hex).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// OutputBuffer is a growable text buffer, safe for concurrent appends from
// the supervisor's output loop and concurrent reads/clears from callers.
type OutputBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Append adds a line (or chunk) of captured daemon output.
func (b *OutputBuffer) Append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(s)
}

// String returns the buffer's current contents.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Clear empties the buffer and reports whether it held anything.
func (b *OutputBuffer) Clear() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	had := b.buf.Len() > 0
	b.buf.Reset()
	return had
}

// Handshake is a one-shot synchronization signal between the lifecycle
// controller and the process supervisor. Fire is idempotent so a spawn
// failure path and a normal teardown path can never double-panic on a
// closed channel.
type Handshake struct {
	mu   sync.Mutex
	once sync.Once
	ch   chan struct{}
}

// NewHandshake creates an armed, unfired handshake.
func NewHandshake() *Handshake {
	return &Handshake{ch: make(chan struct{})}
}

// Fire signals the handshake. Safe to call more than once per arming.
func (h *Handshake) Fire() {
	h.mu.Lock()
	once := &h.once
	h.mu.Unlock()
	once.Do(func() {
		h.mu.Lock()
		ch := h.ch
		h.mu.Unlock()
		close(ch)
	})
}

// Wait returns a channel that is closed once Fire is called on the
// current arming.
func (h *Handshake) Wait() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ch
}

// Clear re-arms the handshake for a second wait/fire cycle — the
// Lifecycle Controller reuses one Handshake across a server's start-wait
// and stop-wait, mirroring the original's threading.Event.clear().
func (h *Handshake) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.once = sync.Once{}
	h.ch = make(chan struct{})
}

// Directory and file basenames, per spec.md §6 filesystem layout.
const (
	ServersDirName     = "servers"
	TempDirName        = "temp"
	ServerConfName     = "server.conf"
	DHParamName        = "dh_param.pem"
	IfcPoolName        = "ifc_pool"
	OVPNConfName       = "openvpn.conf"
	CABundleName       = "ca.pem"
	TLSVerifyName      = "tls_verify.py"
	UserPassVerifyName = "user_pass_verify.py"
	StatusFileName     = "status"

	// Data-root basenames consumed by the rendered helper verification
	// scripts (spec.md §4.B), analogous to the original's ORGS_DIR,
	// USERS_DIR, AUTH_LOG_NAME, INDEX_NAME, OTP_JSON_NAME constants.
	OrgsDirName  = "organizations"
	UsersDirName = "users"
	AuthLogName  = "auth.log"
	IndexName    = "index"
	OTPJSONName  = "otp_secret.json"
)

// EventType is an outbound event bus notification kind.
type EventType string

const (
	EventServersUpdated     EventType = "SERVERS_UPDATED"
	EventServerOrgsUpdated  EventType = "SERVER_ORGS_UPDATED"
	EventServerOutputUpdated EventType = "SERVER_OUTPUT_UPDATED"
	EventUsersUpdated       EventType = "USERS_UPDATED"
)

// EventBus is the narrow outbound interface to the (out-of-scope) global
// event bus. ResourceID may be empty.
type EventBus interface {
	Publish(eventType EventType, resourceID string)
}

// AuditLog is the narrow outbound interface to the (out-of-scope) audit
// log sink.
type AuditLog interface {
	Logf(format string, args ...any)
}

// CertType distinguishes the kind of certificate a User carries.
type CertType string

const (
	CertServer CertType = "server"
	CertClient CertType = "client"
)

// User is the narrow inbound view of a user managed by the (out-of-scope)
// organization/user store.
type User interface {
	ID() string
	Type() CertType
	CertPath() string
	KeyPath() string
}

// Organization is the narrow inbound view of an organization managed by
// the (out-of-scope) organization store.
type Organization interface {
	ID() string
	CACertPath() string
	GetUser(userID string) (User, bool)
	GetUsers() []User
	NewUser(certType CertType, name string) (User, error)
	RemoveUser(userID string) error
}

// OrganizationStore looks up organizations by id.
type OrganizationStore interface {
	Organization(id string) (Organization, bool)
}

// Templates holds the format strings the caller supplies for config and
// helper-script rendering (spec.md §6 "format templates"). These are
// treated as an inbound string-valued collaborator surface, never
// hardcoded by the renderer itself.
type Templates struct {
	// ServerConf is used when the daemon reads certs/keys/DH params from
	// standalone files (external-file variant).
	ServerConf string
	// InlineServerConf is used when certs/keys/DH params are embedded
	// inline in the config (all-inline variant).
	InlineServerConf string
	// TLSVerifyScript renders the TLS-verify helper script.
	TLSVerifyScript string
	// UserPassVerifyScript renders the OTP/user-pass-verify helper script.
	UserPassVerifyScript string
}

// ClientInfo is a snapshot of one connected client, read from the
// daemon's periodically-rewritten status file.
type ClientInfo struct {
	RealAddress    string
	VirtAddress    string
	BytesReceived  string
	BytesSent      string
	ConnectedSince string
}

// ServerPaths collects the absolute filesystem paths for one server's
// directory tree, per spec.md §6.
type ServerPaths struct {
	ServerDir          string
	TempDir            string
	ServerConfPath     string
	DHParamPath        string
	IfcPoolPath        string
	OVPNConfPath       string
	CABundlePath       string
	TLSVerifyPath      string
	UserPassVerifyPath string
	StatusFilePath     string
}

// NewServerPaths derives a ServerPaths for a server id rooted at dataDir.
func NewServerPaths(dataDir, id string) ServerPaths {
	serverDir := filepath.Join(dataDir, ServersDirName, id)
	tempDir := filepath.Join(serverDir, TempDirName)
	return ServerPaths{
		ServerDir:          serverDir,
		TempDir:            tempDir,
		ServerConfPath:     filepath.Join(serverDir, ServerConfName),
		DHParamPath:        filepath.Join(serverDir, DHParamName),
		IfcPoolPath:        filepath.Join(serverDir, IfcPoolName),
		OVPNConfPath:       filepath.Join(tempDir, OVPNConfName),
		CABundlePath:       filepath.Join(tempDir, CABundleName),
		TLSVerifyPath:      filepath.Join(tempDir, TLSVerifyName),
		UserPassVerifyPath: filepath.Join(tempDir, UserPassVerifyName),
		StatusFilePath:     filepath.Join(tempDir, StatusFileName),
	}
}
