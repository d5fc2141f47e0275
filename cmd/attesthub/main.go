package main

import (
	"fmt"
	"os"

	"github.com/scrtlabs/attest-hub/internal/client"
	"github.com/scrtlabs/attest-hub/internal/version"
	"github.com/spf13/cobra"
)

// resolveServerURL returns the hub URL from the flag or the
// ATTESTHUB_SERVER_URL env var. Returns an error if neither is set.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("server") {
		return flagValue, nil
	}
	if v := os.Getenv("ATTESTHUB_SERVER_URL"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set ATTESTHUB_SERVER_URL")
}

func newClient(cmd *cobra.Command, serverURL string) (*client.Client, error) {
	resolved, err := resolveServerURL(cmd, serverURL)
	if err != nil {
		return nil, err
	}
	var opts []client.Option
	if token := os.Getenv("ATTESTHUB_ADMIN_TOKEN"); token != "" {
		opts = append(opts, client.WithAdminToken(token))
	}
	return client.New(resolved, opts...), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "attesthub",
		Short:   "Attestation hub CLI - query and manage TDX VM attestations",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("attesthub") + "\n")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAttestCmd())
	rootCmd.AddCommand(newVMsCmd())
	rootCmd.AddCommand(newInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show hub service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			return showStatus(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Hub server URL (or set ATTESTHUB_SERVER_URL)")

	return cmd
}

func newAttestCmd() *cobra.Command {
	var (
		serverURL string
		dual      bool
		all       bool
		batch     []string
	)

	cmd := &cobra.Command{
		Use:   "attest [vm_name]",
		Short: "Fetch attestation for one VM, the dual peer pair, a batch, or all VMs",
		Long: `Fetch and display parsed TDX attestation measurements.

With a VM name, attests that single VM. --dual attests the two designated
peer VMs atomically under one correlation ID. --all sweeps every configured
VM, tolerating per-VM failures. --batch attests only the named VMs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modes := 0
			if dual {
				modes++
			}
			if all {
				modes++
			}
			if len(batch) > 0 {
				modes++
			}
			if len(args) > 0 {
				modes++
			}
			if modes != 1 {
				return fmt.Errorf("specify exactly one of: a VM name, --dual, --all, --batch")
			}

			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			switch {
			case dual:
				return attestDual(cmd.Context(), c)
			case all:
				return attestAll(cmd.Context(), c)
			case len(batch) > 0:
				return attestBatch(cmd.Context(), c, batch)
			default:
				return attestOne(cmd.Context(), c, args[0])
			}
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Hub server URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().BoolVar(&dual, "dual", false, "Attest the two designated peer VMs atomically")
	cmd.Flags().BoolVar(&all, "all", false, "Attest every configured VM")
	cmd.Flags().StringSliceVar(&batch, "batch", nil, "Attest only the named VMs (comma-separated)")

	return cmd
}

func newVMsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vms",
		Short: "List and manage VM configurations",
	}
	cmd.AddCommand(newVMsListCmd())
	cmd.AddCommand(newVMsSetConfigCmd())
	cmd.AddCommand(newVMsProbeCmd())
	return cmd
}

func newVMsProbeCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "probe <vm_name>",
		Short: "Check whether a VM's report server is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			reachable, err := c.ProbeVM(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("vm_name=%s reachable=%v\n", args[0], reachable)
			if !reachable {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Hub server URL (or set ATTESTHUB_SERVER_URL)")

	return cmd
}

func newVMsListCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured VMs with their tracked status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			return listVMs(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Hub server URL (or set ATTESTHUB_SERVER_URL)")

	return cmd
}

func newVMsSetConfigCmd() *cobra.Command {
	var (
		serverURL string
		cfg       client.VMConfig
	)

	cmd := &cobra.Command{
		Use:   "set-config <vm_name>",
		Short: "Create or update one VM's configuration",
		Long: `Create or update a VM configuration on the hub. Requires the
ATTESTHUB_ADMIN_TOKEN env var when the server has admin auth enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			if err := c.SetVMConfig(cmd.Context(), args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("VM configuration updated: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Hub server URL (or set ATTESTHUB_SERVER_URL)")
	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "VM endpoint URL (https://, http:// or dstack+unix://)")
	cmd.Flags().StringVar(&cfg.Type, "type", "", "VM type label")
	cmd.Flags().StringVar(&cfg.ParsingStrategy, "strategy", "rest_server", "Parsing strategy: rest_server|hardcoded|dcap")
	cmd.Flags().StringVar(&cfg.FallbackStrategy, "fallback", "", "Fallback parsing strategy")
	cmd.Flags().IntVar(&cfg.Timeout, "timeout", 0, "Per-request timeout in seconds (default 30)")
	cmd.Flags().IntVar(&cfg.RetryAttempts, "retries", 0, "Retry attempts before giving up (default 3)")
	cmd.Flags().StringVar(&cfg.HealthCheckPath, "health-path", "", "Health check path (default /status)")
	cmd.Flags().BoolVar(&cfg.TLSVerify, "tls-verify", false, "Verify the VM's TLS certificate")
	cobra.CheckErr(cmd.MarkFlagRequired("endpoint"))

	return cmd
}
