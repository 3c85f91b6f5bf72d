package ovpnconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

func TestDHParamsSkipsWhenExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dh.pem")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0644))

	require.NoError(t, DHParams(path, 2048))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data), "DHParams should not touch an existing file")
}

func TestCABundleConcatenates(t *testing.T) {
	dir := t.TempDir()
	org1 := filepath.Join(dir, "org1.pem")
	org2 := filepath.Join(dir, "org2.pem")
	require.NoError(t, os.WriteFile(org1, []byte("CERT-ONE\n"), 0644))
	require.NoError(t, os.WriteFile(org2, []byte("CERT-TWO\n"), 0644))

	out := filepath.Join(dir, "bundle.pem")
	orgs := []types.Organization{
		&fakeOrg{id: "org1", caPath: org1},
		&fakeOrg{id: "org2", caPath: org2},
	}

	require.NoError(t, CABundle(out, orgs))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "CERT-ONE\nCERT-TWO\n", string(data))
}

func TestRenderTLSVerifyScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tls_verify.py")
	params := HelperScriptParams{
		DataPath:  "/data",
		IndexPath: "/data/index",
	}
	const tmpl = `data={{.DataPath}} index={{.IndexPath}}`

	require.NoError(t, RenderTLSVerifyScript(path, tmpl, params))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data=/data index=/data/index", string(data))
}

func TestRenderMainConfigExternalFileVariant(t *testing.T) {
	rec := &types.ServerRecord{}
	templates := types.Templates{
		ServerConf: "port {{.Port}}\nca {{.CACertPath}}\n",
	}
	params := MainConfigParams{Port: 1194, CACertPath: "/ca.pem"}

	out, err := RenderMainConfig(rec, params, templates, false, nil, "")
	require.NoError(t, err)
	assert.Contains(t, out, "port 1194")
	assert.Contains(t, out, "ca /ca.pem")
	assert.NotContains(t, out, "<ca>", "external-file variant should not inline PEM blocks")
}

func TestRenderMainConfigAppendsConditionalDirectives(t *testing.T) {
	rec := &types.ServerRecord{
		OTPAuth:        true,
		LZOCompression: true,
		LocalNetworks:  []string{"10.0.0.0/24"},
	}
	templates := types.Templates{ServerConf: "base\n"}
	params := MainConfigParams{TLSVerifyPath: "/verify.py", UserPassVerifyPath: "/user_pass_verify.py"}

	out, err := RenderMainConfig(rec, params, templates, false, nil, "")
	require.NoError(t, err)
	assert.Contains(t, out, "auth-user-pass-verify /user_pass_verify.py via-file")
	assert.NotContains(t, out, "auth-user-pass-verify /verify.py", "OTP auth must not be verified by the tls-verify script")
	assert.Contains(t, out, "comp-lzo")
	assert.Contains(t, out, "client-to-client")
}

func TestRenderMainConfigInlineVariant(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	dhPath := filepath.Join(dir, "dh.pem")
	require.NoError(t, os.WriteFile(caPath, []byte("CADATA\n"), 0644))
	require.NoError(t, os.WriteFile(certPath, []byte("CERTDATA\n"), 0644))
	require.NoError(t, os.WriteFile(keyPath, []byte("KEYDATA\n"), 0644))
	require.NoError(t, os.WriteFile(dhPath, []byte("DHDATA\n"), 0644))

	rec := &types.ServerRecord{}
	templates := types.Templates{InlineServerConf: "inline\n"}
	params := MainConfigParams{CACertPath: caPath}
	user := &fakeUser{id: "u1", certType: types.CertServer, certPath: certPath, keyPath: keyPath}

	out, err := RenderMainConfig(rec, params, templates, true, user, dhPath)
	require.NoError(t, err)
	for _, want := range []string{"<ca>\nCADATA\n</ca>", "<cert>\nCERTDATA\n</cert>", "<key>\nKEYDATA\n</key>", "<dh>\nDHDATA\n</dh>"} {
		assert.Contains(t, out, want)
	}
}

func TestTrimTrailingNewline(t *testing.T) {
	assert.Equal(t, "abc", trimTrailingNewline([]byte("abc\n\r\n")))
	assert.Equal(t, "abc", trimTrailingNewline([]byte("abc")))
}
