// Package ovpnconf produces everything the OpenVPN daemon reads at spawn
// time: the main config file, the concatenated CA bundle, the two helper
// verification scripts, and the Diffie-Hellman parameter file, all
// deterministically derived from a declarative server record.
package ovpnconf

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"text/template"

	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

// openSSLLock serializes every invocation of the host OpenSSL toolchain:
// per spec.md §5, the host-side toolchain is not reentrant.
var openSSLLock sync.Mutex

// DHParamBits is the default prime bit-length for generated DH parameters.
const DHParamBits = 2048

// DHParams generates the server's Diffie-Hellman parameter file exactly
// once, at the given path, unless it already exists. Produced once per
// server lifetime; regenerated only if the file has been removed.
func DHParams(path string, bits int) error {
	if bits <= 0 {
		bits = DHParamBits
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	openSSLLock.Lock()
	defer openSSLLock.Unlock()

	log.WithComponent("ovpnconf").Debug().Str("path", path).Msg("generating dh params")
	cmd := exec.Command("openssl", "dhparam", "-out", path, fmt.Sprintf("%d", bits))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ovpnconf: generate dh params: %w (output: %s)", err, out)
	}
	return nil
}

// CABundle concatenates the CA certificate of every given organization, in
// order, into a single PEM file at path.
func CABundle(path string, orgs []types.Organization) error {
	var buf bytes.Buffer
	for _, org := range orgs {
		data, err := os.ReadFile(org.CACertPath())
		if err != nil {
			return fmt.Errorf("ovpnconf: read ca cert for org %s: %w", org.ID(), err)
		}
		buf.Write(data)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// HelperScriptParams parameterizes the two helper verification scripts.
type HelperScriptParams struct {
	DataPath    string
	OrgsDir     string
	UsersDir    string
	TempDir     string
	AuthLogPath string
	IndexPath   string
	OTPJSONName string
}

// RenderTLSVerifyScript renders the TLS-verify helper script (invoked by
// the daemon at connection time to check a client certificate's CN against
// the index of revoked/valid users) and chmods it to 0755.
func RenderTLSVerifyScript(path, tmplText string, params HelperScriptParams) error {
	return renderExecutableScript(path, tmplText, params)
}

// RenderUserPassVerifyScript renders the OTP/user-pass-verify helper
// script and chmods it to 0755.
func RenderUserPassVerifyScript(path, tmplText string, params HelperScriptParams) error {
	return renderExecutableScript(path, tmplText, params)
}

func renderExecutableScript(path, tmplText string, params HelperScriptParams) error {
	tmpl, err := template.New("script").Parse(tmplText)
	if err != nil {
		return fmt.Errorf("ovpnconf: parse helper script template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return fmt.Errorf("ovpnconf: render helper script: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0755); err != nil {
		return fmt.Errorf("ovpnconf: write helper script: %w", err)
	}
	return os.Chmod(path, 0755)
}

// MainConfigParams parameterizes the two main-config template variants.
type MainConfigParams struct {
	Port               int
	Protocol           string
	Interface          string
	CACertPath         string
	CertPath           string
	KeyPath            string
	TLSVerifyPath      string
	UserPassVerifyPath string
	DHParamPath        string
	NetworkAddress     string
	NetworkMask        string
	IfcPoolPath        string
	Push               string
	StatusPath         string
	Verb               int
	Mute               int
}

// RenderMainConfig renders the main daemon config, selecting the
// external-file or all-inline template variant, then appending the
// conditional OTP/LZO/client-to-client directives and (inline mode only)
// the PEM blocks, exactly as spec.md §4.B describes.
func RenderMainConfig(
	rec *types.ServerRecord,
	params MainConfigParams,
	templates types.Templates,
	inline bool,
	primaryUser types.User,
	dhParamPath string,
) (string, error) {
	tmplText := templates.ServerConf
	if inline {
		tmplText = templates.InlineServerConf
	}

	tmpl, err := template.New("ovpnconf").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("ovpnconf: parse main config template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("ovpnconf: render main config: %w", err)
	}

	if rec.OTPAuth {
		fmt.Fprintf(&buf, "auth-user-pass-verify %s via-file\n", params.UserPassVerifyPath)
	}
	if rec.LZOCompression {
		buf.WriteString("comp-lzo\npush \"comp-lzo\"\n")
	}
	if len(rec.LocalNetworks) > 0 {
		buf.WriteString("client-to-client\n")
	}

	if inline {
		caBlock, err := os.ReadFile(params.CACertPath)
		if err != nil {
			return "", fmt.Errorf("ovpnconf: read ca bundle for inline render: %w", err)
		}
		certBlock, err := os.ReadFile(primaryUser.CertPath())
		if err != nil {
			return "", fmt.Errorf("ovpnconf: read primary user cert: %w", err)
		}
		keyBlock, err := os.ReadFile(primaryUser.KeyPath())
		if err != nil {
			return "", fmt.Errorf("ovpnconf: read primary user key: %w", err)
		}
		dhBlock, err := os.ReadFile(dhParamPath)
		if err != nil {
			return "", fmt.Errorf("ovpnconf: read dh params: %w", err)
		}

		fmt.Fprintf(&buf, "<ca>\n%s\n</ca>\n", trimTrailingNewline(caBlock))
		fmt.Fprintf(&buf, "<cert>\n%s\n</cert>\n", trimTrailingNewline(certBlock))
		fmt.Fprintf(&buf, "<key>\n%s\n</key>\n", trimTrailingNewline(keyBlock))
		fmt.Fprintf(&buf, "<dh>\n%s\n</dh>\n", trimTrailingNewline(dhBlock))
	}

	return buf.String(), nil
}

func trimTrailingNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
