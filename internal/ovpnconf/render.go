package ovpnconf

import (
	"fmt"
	"os"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

// Render produces everything the daemon reads at spawn time for rec:
// ensuring the primary user exists, generating DH params if missing, the
// CA bundle, the two helper scripts, and the main config file — writing
// each to its path in paths. Grounded on
// original_source/pritunl/server.py:_generate_ovpn_conf.
func Render(
	rec *types.ServerRecord,
	orgs []types.Organization,
	paths types.ServerPaths,
	templates types.Templates,
	dataPath string,
	dhParamBits int,
	inline bool,
	commit func() error,
) error {
	if len(orgs) == 0 {
		return fmt.Errorf("ovpnconf: ovpn conf cannot be generated without any organizations")
	}

	if err := EnsurePrimaryUser(rec, orgs, commit); err != nil {
		return err
	}

	if err := DHParams(paths.DHParamPath, dhParamBits); err != nil {
		return err
	}

	var primaryOrg types.Organization
	for _, org := range orgs {
		if org.ID() == rec.PrimaryOrganization {
			primaryOrg = org
			break
		}
	}
	if primaryOrg == nil {
		return fmt.Errorf("ovpnconf: primary organization %s not attached", rec.PrimaryOrganization)
	}
	primaryUser, ok := primaryOrg.GetUser(rec.PrimaryUser)
	if !ok {
		return fmt.Errorf("ovpnconf: primary user %s not found in organization %s", rec.PrimaryUser, primaryOrg.ID())
	}

	if err := CABundle(paths.CABundlePath, orgs); err != nil {
		return err
	}

	scriptParams := HelperScriptParams{
		DataPath:    dataPath,
		OrgsDir:     types.OrgsDirName,
		UsersDir:    types.UsersDirName,
		TempDir:     types.TempDirName,
		AuthLogPath: types.AuthLogName,
		IndexPath:   types.IndexName,
		OTPJSONName: types.OTPJSONName,
	}
	if err := RenderTLSVerifyScript(paths.TLSVerifyPath, templates.TLSVerifyScript, scriptParams); err != nil {
		return err
	}
	if err := RenderUserPassVerifyScript(paths.UserPassVerifyPath, templates.UserPassVerifyScript, scriptParams); err != nil {
		return err
	}

	push, err := PushDirective(rec.LocalNetworks)
	if err != nil {
		return err
	}
	networkAddr, networkMask, err := ParseNetwork(rec.Network)
	if err != nil {
		return err
	}
	verb, mute := Verbosity(rec.Debug)

	mainParams := MainConfigParams{
		Port:               rec.Port,
		Protocol:           string(rec.Protocol),
		Interface:          rec.Interface,
		CACertPath:         paths.CABundlePath,
		CertPath:           primaryUser.CertPath(),
		KeyPath:            primaryUser.KeyPath(),
		TLSVerifyPath:      paths.TLSVerifyPath,
		UserPassVerifyPath: paths.UserPassVerifyPath,
		DHParamPath:        paths.DHParamPath,
		NetworkAddress:     networkAddr,
		NetworkMask:        networkMask,
		IfcPoolPath:        paths.IfcPoolPath,
		Push:               push,
		StatusPath:         paths.StatusFilePath,
		Verb:               verb,
		Mute:               mute,
	}

	rendered, err := RenderMainConfig(rec, mainParams, templates, inline, primaryUser, paths.DHParamPath)
	if err != nil {
		return err
	}

	return os.WriteFile(paths.OVPNConfPath, []byte(rendered), 0644)
}
