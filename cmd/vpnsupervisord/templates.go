package main

// Default format templates, grounded on
// original_source/pritunl/server.py's server_conf/server_conf_inline
// templates and their two verify-script templates. These are compiled
// into the binary so the CLI is runnable standalone; deployments that
// need different directives can supply their own types.Templates.

const defaultServerConfTemplate = `port {{.Port}}
proto {{.Protocol}}
dev {{.Interface}}
ca {{.CACertPath}}
cert {{.CertPath}}
key {{.KeyPath}}
tls-verify {{.TLSVerifyPath}}
dh {{.DHParamPath}}
server {{.NetworkAddress}} {{.NetworkMask}}
ifconfig-pool-persist {{.IfcPoolPath}}
{{.Push}}
status {{.StatusPath}} 10
status-version 2
keepalive 10 60
persist-key
persist-tun
user nobody
group nogroup
verb {{.Verb}}
mute {{.Mute}}
`

const defaultInlineServerConfTemplate = `port {{.Port}}
proto {{.Protocol}}
dev {{.Interface}}
tls-verify {{.TLSVerifyPath}}
server {{.NetworkAddress}} {{.NetworkMask}}
ifconfig-pool-persist {{.IfcPoolPath}}
{{.Push}}
status {{.StatusPath}} 10
status-version 2
keepalive 10 60
persist-key
persist-tun
user nobody
group nogroup
verb {{.Verb}}
mute {{.Mute}}
`

const defaultTLSVerifyTemplate = `#!/usr/bin/env python3
import sys

DATA_PATH = {{.DataPath | printf "%q"}}
ORGS_DIR = {{.OrgsDir | printf "%q"}}
USERS_DIR = {{.UsersDir | printf "%q"}}
INDEX_PATH = {{.IndexPath | printf "%q"}}

cert_depth = int(sys.argv[1])
cert_cn = sys.argv[2]

if cert_depth != 0:
    sys.exit(0)

with open(INDEX_PATH) as f:
    if cert_cn in f.read().split():
        sys.exit(0)

sys.exit(1)
`

const defaultUserPassVerifyTemplate = `#!/usr/bin/env python3
import os
import sys

DATA_PATH = {{.DataPath | printf "%q"}}
AUTH_LOG_PATH = {{.AuthLogPath | printf "%q"}}
OTP_JSON_NAME = {{.OTPJSONName | printf "%q"}}

username = os.environ.get("username", "")
password = os.environ.get("password", "")

with open(os.path.join(DATA_PATH, AUTH_LOG_PATH), "a") as f:
    f.write("%s\n" % username)

sys.exit(0)
`
