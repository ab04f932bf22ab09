package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/vmaas/cmd/vmaas/handlers"
)

// deployHandler is the handler invoked by the deploy command.
var deployHandler = handlers.Deploy

// Deploy returns the command that deploys a target.
//
// Optional flags:
//
//	--config, -c: Path to the deployment document (default: deployment.yaml)
//	--env-file: dotenv file exported before anything else runs
//	--remote: Hypervisor URI, overriding the target's virsh_uri
//	--force / --use-existing: What to do with domains and volumes that exist
func Deploy() *cobra.Command {
	var opts handlers.DeployOptions

	cmd := &cobra.Command{
		Use:   "deploy [target]",
		Short: "Deploy a MAAS controller and its nodes",
		Long: `Deploy a MAAS controller and its nodes onto libvirt virtual machines.

The target names an entry of the deployment document. It may be omitted
when the document defines a single target.

Resources that already exist make the run fail unless --use-existing
reuses them or --force deletes and recreates them. --force wins when both
are given.

Examples:
  # Deploy the only target in deployment.yaml
  vmaas deploy

  # Deploy a named target against a remote hypervisor
  vmaas deploy -c lab.yaml --remote qemu+ssh://root@hv1/system lab

  # Re-run after a failure, keeping the VMs already defined
  vmaas deploy --use-existing --tui`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Target = args[0]
			}
			return deployHandler(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", handlers.DefaultConfigFile, "Path to the deployment document")
	f.StringVar(&opts.EnvFile, "env-file", "", "dotenv file with timeouts and credentials")
	f.StringVar(&opts.Remote, "remote", "", "Hypervisor URI (default: the target's virsh_uri, else qemu:///system)")
	f.BoolVar(&opts.Force, "force", false, "Delete and recreate domains and volumes that already exist")
	f.BoolVar(&opts.UseExisting, "use-existing", false, "Reuse domains and volumes that already exist")
	f.BoolVarP(&opts.Debug, "debug", "d", false, "Log debug output to the console")
	f.BoolVar(&opts.TUI, "tui", false, "Show a progress dashboard (terminal only)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.DurationVar(&opts.Timeout, "timeout", 0, "Abort the whole run after this long (0 for no limit)")

	return cmd
}
