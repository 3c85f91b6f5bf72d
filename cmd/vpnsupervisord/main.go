// Command vpnsupervisord is the bootstrap/CLI for the VPN server
// supervisor: server CRUD, lifecycle control, and a standalone event
// bus/audit log/organization store so the core is runnable without an
// external admin service. Grounded on cmd/warren/main.go's root command,
// persistent flags, and cobra.OnInitialize(initLogging) shape.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/nullvine/vpnsupervisor/internal/events"
	"github.com/nullvine/vpnsupervisor/internal/fsorg"
	"github.com/nullvine/vpnsupervisor/internal/lifecycle"
	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/metrics"
	"github.com/nullvine/vpnsupervisor/internal/recordstore"
	"github.com/nullvine/vpnsupervisor/internal/registry"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vpnsupervisord",
	Short:   "VPN server supervisor",
	Long:    "vpnsupervisord manages the lifecycle of external OpenVPN daemon processes: config rendering, host network plumbing, process supervision, and start/stop/restart/reload.",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vpnsupervisord version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/vpnsupervisor", "Data directory root")
	rootCmd.PersistentFlags().Int("dh-param-bits", 2048, "Diffie-Hellman parameter bit length")
	rootCmd.PersistentFlags().Bool("inline", false, "Render all-inline config variant instead of external-file variant")
	rootCmd.PersistentFlags().String("daemon-path", lifecycle.DefaultDaemonPath, "Path to the openvpn daemon binary")
	rootCmd.PersistentFlags().String("metrics-addr", "", "If set, serve Prometheus /metrics on this address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

type app struct {
	store *recordstore.Store
	ctl   *lifecycle.Controller
	reg   *registry.Registry
	orgs  *fsorg.Store
}

func newApp(cmd *cobra.Command) (*app, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dhBits, _ := cmd.Flags().GetInt("dh-param-bits")
	inline, _ := cmd.Flags().GetBool("inline")
	daemonPath, _ := cmd.Flags().GetString("daemon-path")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditSink()
	orgs := fsorg.New(dataDir)
	store := recordstore.New(dataDir, orgs, broker)
	reg := registry.New()

	ctl := lifecycle.New(lifecycle.Config{
		DataDir:     dataDir,
		DHParamBits: dhBits,
		DaemonPath:  daemonPath,
		Inline:      inline,
		Templates:   loadTemplates(),
	}, store, reg, orgs, broker, audit)

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	return &app{store: store, ctl: ctl, reg: reg, orgs: orgs}, nil
}

// loadTemplates returns the format templates the caller supplies, per
// spec.md §6. Production deployments are expected to supply their own
// (e.g. read from files shipped alongside the binary); these defaults
// keep the CLI self-contained.
func loadTemplates() types.Templates {
	return types.Templates{
		ServerConf:           defaultServerConfTemplate,
		InlineServerConf:     defaultInlineServerConfTemplate,
		TLSVerifyScript:      defaultTLSVerifyTemplate,
		UserPassVerifyScript: defaultUserPassVerifyTemplate,
	}
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage VPN servers",
}

func init() {
	serverCreateCmd.Flags().String("name", "", "Server name")
	serverCreateCmd.Flags().String("network", "", "Virtual subnet CIDR")
	serverCreateCmd.Flags().String("interface", "tun0", "Virtual device name")
	serverCreateCmd.Flags().Int("port", 1194, "Listen port")
	serverCreateCmd.Flags().String("protocol", "udp", "Transport protocol (udp, tcp)")
	serverCreateCmd.Flags().StringSlice("local-networks", nil, "Local networks to push (CIDR list)")
	serverCreateCmd.Flags().String("public-address", "", "Public address advertised to clients")
	serverCreateCmd.Flags().Bool("otp-auth", false, "Require OTP authentication")
	serverCreateCmd.Flags().Bool("lzo", false, "Enable LZO compression")
	serverCreateCmd.Flags().Bool("debug", false, "Enable verbose daemon logging")

	serverCmd.AddCommand(
		serverCreateCmd,
		serverListCmd,
		serverStartCmd,
		serverStopCmd,
		serverForceStopCmd,
		serverRestartCmd,
		serverReloadCmd,
		serverRemoveCmd,
		serverStatusCmd,
		serverOutputCmd,
	)
}

var serverCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new server record",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		dhBits, _ := cmd.Flags().GetInt("dh-param-bits")

		name, _ := cmd.Flags().GetString("name")
		network, _ := cmd.Flags().GetString("network")
		iface, _ := cmd.Flags().GetString("interface")
		port, _ := cmd.Flags().GetInt("port")
		protocol, _ := cmd.Flags().GetString("protocol")
		localNetworks, _ := cmd.Flags().GetStringSlice("local-networks")
		publicAddr, _ := cmd.Flags().GetString("public-address")
		otpAuth, _ := cmd.Flags().GetBool("otp-auth")
		lzo, _ := cmd.Flags().GetBool("lzo")
		debug, _ := cmd.Flags().GetBool("debug")

		rec := &types.ServerRecord{
			Name:           name,
			Network:        network,
			Interface:      iface,
			Port:           port,
			Protocol:       types.Protocol(protocol),
			LocalNetworks:  localNetworks,
			PublicAddress:  publicAddr,
			OTPAuth:        otpAuth,
			LZOCompression: lzo,
			Debug:          debug,
		}
		if err := a.store.Create(rec, dhBits); err != nil {
			return err
		}
		fmt.Printf("created server %s (%s)\n", rec.ID, rec.Name)
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List server records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		records, err := a.store.List()
		if err != nil {
			return err
		}
		for _, rec := range records {
			status := a.reg.Status(rec.ID)
			fmt.Printf("%s\t%s\t%s\t%d orgs\n", rec.ID, rec.Name, status, a.store.OrgCount(rec))
		}
		return nil
	},
}

func loadRecord(a *app, id string) (*types.ServerRecord, error) {
	return a.store.Load(id)
}

var serverStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		rec, err := loadRecord(a, args[0])
		if err != nil {
			return err
		}
		return a.ctl.Start(rec, false)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a server gracefully",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		rec, err := loadRecord(a, args[0])
		if err != nil {
			return err
		}
		return a.ctl.Stop(rec, false)
	},
}

var serverForceStopCmd = &cobra.Command{
	Use:   "force-stop <id>",
	Short: "Force-stop a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		rec, err := loadRecord(a, args[0])
		if err != nil {
			return err
		}
		return a.ctl.ForceStop(rec, false)
	},
}

var serverRestartCmd = &cobra.Command{
	Use:   "restart <id>",
	Short: "Restart a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		rec, err := loadRecord(a, args[0])
		if err != nil {
			return err
		}
		return a.ctl.Restart(rec)
	},
}

var serverReloadCmd = &cobra.Command{
	Use:   "reload <id>",
	Short: "Signal a server to reload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		rec, err := loadRecord(a, args[0])
		if err != nil {
			return err
		}
		return a.ctl.Reload(rec)
	},
}

var serverRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop and delete a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		rec, err := loadRecord(a, args[0])
		if err != nil {
			return err
		}
		return a.ctl.Remove(rec)
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a server's run status and uptime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("status: %s\nuptime: %ds\n", a.reg.Status(args[0]), a.reg.Uptime(args[0]))
		return nil
	},
}

var serverOutputCmd = &cobra.Command{
	Use:   "output <id>",
	Short: "Print a running server's captured daemon output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		state, ok := a.reg.Get(args[0])
		if !ok {
			return fmt.Errorf("server %s is not running", args[0])
		}
		fmt.Print(state.Output.String())

		clear, _ := cmd.Flags().GetBool("clear")
		if clear {
			state.Output.Clear()
		}
		return nil
	},
}

func init() {
	serverOutputCmd.Flags().Bool("clear", false, "Clear the captured output buffer after printing it")
}
