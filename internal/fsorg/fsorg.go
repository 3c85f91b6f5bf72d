// Package fsorg is a minimal, filesystem-backed implementation of the
// types.OrganizationStore/Organization/User collaborator interfaces that
// spec.md §1 places out of scope for the core ("the certificate
// authority, user store, and organization model ... accessed through
// narrow read interfaces"). It exists so the supervisor is runnable and
// testable standalone, mirroring internal/events' default Broker/AuditSink
// for the same reason. Certificate issuance follows
// pkg/security/ca.go's IssueNodeCertificate/IssueClientCertificate shape,
// simplified to one self-signed root per organization.
package fsorg

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

const (
	caKeyBits     = 4096
	userKeyBits   = 2048
	caValidity    = 10 * 365 * 24 * time.Hour
	userValidity  = 825 * 24 * time.Hour
	caCertName    = "ca.pem"
	caKeyName     = "ca.key"
	usersDirName  = "users"
	certFileName  = "cert.pem"
	keyFileName   = "key.pem"
	typeFileName  = "type"
	namesFileName = "name"
)

// Store is a directory-per-organization OrganizationStore.
type Store struct {
	mu      sync.Mutex
	rootDir string
}

// New creates a Store rooted at dataDir/organizations.
func New(dataDir string) *Store {
	return &Store{rootDir: filepath.Join(dataDir, types.OrgsDirName)}
}

// Organization implements types.OrganizationStore.
func (s *Store) Organization(id string) (types.Organization, bool) {
	dir := filepath.Join(s.rootDir, id)
	if _, err := os.Stat(filepath.Join(dir, caCertName)); err != nil {
		return nil, false
	}
	return &organization{id: id, dir: dir}, true
}

// CreateOrganization materializes a new organization with a fresh
// self-signed CA.
func (s *Store) CreateOrganization(id string) (types.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.rootDir, id)
	if err := os.MkdirAll(filepath.Join(dir, usersDirName), 0700); err != nil {
		return nil, fmt.Errorf("fsorg: create organization directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, fmt.Errorf("fsorg: generate ca key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("fsorg: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{id}, CommonName: id + " CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("fsorg: create ca certificate: %w", err)
	}

	if err := writePEM(filepath.Join(dir, caCertName), "CERTIFICATE", der); err != nil {
		return nil, err
	}
	if err := writePEM(filepath.Join(dir, caKeyName), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)); err != nil {
		return nil, err
	}

	return &organization{id: id, dir: dir}, nil
}

type organization struct {
	id  string
	dir string
}

func (o *organization) ID() string { return o.id }

func (o *organization) CACertPath() string { return filepath.Join(o.dir, caCertName) }

func (o *organization) GetUser(userID string) (types.User, bool) {
	userDir := filepath.Join(o.dir, usersDirName, userID)
	if _, err := os.Stat(filepath.Join(userDir, certFileName)); err != nil {
		return nil, false
	}
	return newUser(userID, userDir), true
}

func (o *organization) GetUsers() []types.User {
	entries, err := os.ReadDir(filepath.Join(o.dir, usersDirName))
	if err != nil {
		return nil
	}
	users := make([]types.User, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		userDir := filepath.Join(o.dir, usersDirName, entry.Name())
		users = append(users, newUser(entry.Name(), userDir))
	}
	return users
}

// NewUser mints a certificate signed by the organization's CA, writes it
// alongside its key and type marker under users/<id>/, and returns the
// new User.
func (o *organization) NewUser(certType types.CertType, name string) (types.User, error) {
	caCertPEM, err := os.ReadFile(o.CACertPath())
	if err != nil {
		return nil, fmt.Errorf("fsorg: read org ca cert: %w", err)
	}
	caKeyPEM, err := os.ReadFile(filepath.Join(o.dir, caKeyName))
	if err != nil {
		return nil, fmt.Errorf("fsorg: read org ca key: %w", err)
	}
	caCert, caKey, err := parseCAPair(caCertPEM, caKeyPEM)
	if err != nil {
		return nil, err
	}

	userID := types.NewID()
	userKey, err := rsa.GenerateKey(rand.Reader, userKeyBits)
	if err != nil {
		return nil, fmt.Errorf("fsorg: generate user key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("fsorg: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{o.id}, CommonName: name},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(userValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &userKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("fsorg: create user certificate: %w", err)
	}

	userDir := filepath.Join(o.dir, usersDirName, userID)
	if err := os.MkdirAll(userDir, 0700); err != nil {
		return nil, fmt.Errorf("fsorg: create user directory: %w", err)
	}
	if err := writePEM(filepath.Join(userDir, certFileName), "CERTIFICATE", der); err != nil {
		return nil, err
	}
	if err := writePEM(filepath.Join(userDir, keyFileName), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(userKey)); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(userDir, typeFileName), []byte(certType), 0600); err != nil {
		return nil, fmt.Errorf("fsorg: write user type: %w", err)
	}
	if err := os.WriteFile(filepath.Join(userDir, namesFileName), []byte(name), 0600); err != nil {
		return nil, fmt.Errorf("fsorg: write user name: %w", err)
	}

	return newUser(userID, userDir), nil
}

func (o *organization) RemoveUser(userID string) error {
	return os.RemoveAll(filepath.Join(o.dir, usersDirName, userID))
}

type user struct {
	id  string
	dir string
}

func newUser(id, dir string) *user {
	return &user{id: id, dir: dir}
}

func (u *user) ID() string { return u.id }

func (u *user) Type() types.CertType {
	data, err := os.ReadFile(filepath.Join(u.dir, typeFileName))
	if err != nil {
		return types.CertClient
	}
	return types.CertType(data)
}

func (u *user) CertPath() string { return filepath.Join(u.dir, certFileName) }

func (u *user) KeyPath() string { return filepath.Join(u.dir, keyFileName) }

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, 0600)
}

func parseCAPair(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("fsorg: decode ca certificate pem")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("fsorg: parse ca certificate: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("fsorg: decode ca key pem")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("fsorg: parse ca key: %w", err)
	}
	return cert, key, nil
}
