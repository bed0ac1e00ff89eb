package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/burrowvirt/burrow/pkg/client"
	"github.com/burrowvirt/burrow/pkg/splitter"
	"github.com/burrowvirt/burrow/pkg/types"
)

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage VMs",
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.New(addr)
}

var vmCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Define a new VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memory, _ := cmd.Flags().GetString("memory")
		vcpus, _ := cmd.Flags().GetInt("vcpus")
		disk, _ := cmd.Flags().GetString("disk")
		bridge, _ := cmd.Flags().GetString("bridge")

		req := &client.CreateVMRequest{Name: args[0], Memory: memory, VCPUs: vcpus}
		if disk != "" {
			req.Devices = append(req.Devices,
				&types.Device{Type: types.DeviceDisk, Backend: disk, Frontend: "xvda"})
		}
		if bridge != "" {
			req.Devices = append(req.Devices,
				&types.Device{Type: types.DeviceNIC, Backend: bridge, Frontend: "eth0"})
		}

		vm, err := apiClient(cmd).CreateVM(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("VM %s created (%s)\n", vm.Name, vm.ID)
		return nil
	},
}

var vmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs",
	RunE: func(cmd *cobra.Command, args []string) error {
		vms, err := apiClient(cmd).ListVMs(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tMEMORY\tVCPUS\tPLACEMENT")
		for _, vm := range vms {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				vm.Name, vm.State,
				units.BytesSize(float64(vm.MemoryKiB*1024)),
				vm.VCPUs, placementString(vm.Placement))
		}
		return w.Flush()
	},
}

func placementString(dec *types.PlacementDecision) string {
	switch {
	case dec == nil:
		return "-"
	case dec.RoundRobin:
		return "round-robin"
	default:
		return fmt.Sprintf("nodes %v", dec.Nodes)
	}
}

var vmGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vm, err := apiClient(cmd).GetVM(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Name:      %s\n", vm.Name)
		fmt.Printf("ID:        %s\n", vm.ID)
		fmt.Printf("State:     %s\n", vm.State)
		fmt.Printf("Memory:    %s\n", units.BytesSize(float64(vm.MemoryKiB*1024)))
		fmt.Printf("vCPUs:     %d\n", vm.VCPUs)
		fmt.Printf("Placement: %s\n", placementString(vm.Placement))
		for _, dev := range vm.Devices {
			fmt.Printf("Device:    %s %s -> %s\n", dev.Type, dev.Backend, dev.Frontend)
		}
		if vm.LastError != "" {
			fmt.Printf("Last error: %s\n", vm.LastError)
		}
		return nil
	},
}

var vmDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a VM record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteVM(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("VM %s deleted\n", args[0])
		return nil
	},
}

func lifecycleCmd(use, short string, kind types.RequestKind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiClient(cmd).SubmitRequest(cmd.Context(), args[0], kind, nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s accepted for %s (%d micro-ops)\n", kind, args[0], len(resp.Ops))
			return nil
		},
	}
}

var vmMigrateCmd = &cobra.Command{
	Use:   "migrate NAME",
	Short: "Migrate a VM to another host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("destination")
		if dest == "" {
			return fmt.Errorf("--destination is required")
		}

		resp, err := apiClient(cmd).SubmitRequest(cmd.Context(), args[0],
			types.RequestMigrate, map[string]string{splitter.ParamDestination: dest})
		if err != nil {
			return err
		}
		fmt.Printf("migrate accepted for %s -> %s (%d micro-ops)\n", args[0], dest, len(resp.Ops))
		return nil
	},
}

var vmOpsCmd = &cobra.Command{
	Use:   "ops NAME",
	Short: "Show the micro-op history of a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := apiClient(cmd).ListOps(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tSTATE\tENQUEUED\tDURATION\tERROR")
		for _, op := range ops {
			dur := "-"
			if !op.StartedAt.IsZero() && !op.FinishedAt.IsZero() {
				dur = op.FinishedAt.Sub(op.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				op.Kind, op.State, op.EnqueuedAt.Format("15:04:05"), dur, op.Error)
		}
		return w.Flush()
	},
}

func init() {
	vmCmd.PersistentFlags().String("server", "127.0.0.1:7600", "Daemon API address")

	vmCreateCmd.Flags().String("memory", "1GiB", "VM memory size (e.g. 2GiB, 512MiB)")
	vmCreateCmd.Flags().Int("vcpus", 1, "Number of virtual CPUs")
	vmCreateCmd.Flags().String("disk", "", "Disk image path (attached as xvda)")
	vmCreateCmd.Flags().String("bridge", "", "Network bridge (attached as eth0)")

	vmMigrateCmd.Flags().String("destination", "", "Destination host")

	vmCmd.AddCommand(vmCreateCmd)
	vmCmd.AddCommand(vmListCmd)
	vmCmd.AddCommand(vmGetCmd)
	vmCmd.AddCommand(vmDeleteCmd)
	vmCmd.AddCommand(lifecycleCmd("start", "Start a VM", types.RequestStart))
	vmCmd.AddCommand(lifecycleCmd("stop", "Stop a VM", types.RequestStop))
	vmCmd.AddCommand(lifecycleCmd("reboot", "Reboot a VM", types.RequestReboot))
	vmCmd.AddCommand(vmMigrateCmd)
	vmCmd.AddCommand(vmOpsCmd)
}
