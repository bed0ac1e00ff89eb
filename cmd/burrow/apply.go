package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/burrowvirt/burrow/pkg/client"
	"github.com/burrowvirt/burrow/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a VM manifest",
	Long: `Apply VM definitions from a YAML manifest.

Examples:
  # Define the VMs in a manifest
  burrow apply -f vms.yaml

  # Define and immediately start them
  burrow apply -f vms.yaml --start`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("server", "127.0.0.1:7600", "Daemon API address")
	applyCmd.Flags().Bool("start", false, "Submit a start request for each VM after creation")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is the YAML document accepted by apply.
type Manifest struct {
	VMs []ManifestVM `yaml:"vms"`
}

// ManifestVM is one VM definition. Memory accepts human sizes ("2GiB").
type ManifestVM struct {
	Name    string          `yaml:"name"`
	Memory  string          `yaml:"memory"`
	VCPUs   int             `yaml:"vcpus"`
	Devices []*types.Device `yaml:"devices,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	start, _ := cmd.Flags().GetBool("start")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if len(manifest.VMs) == 0 {
		return fmt.Errorf("manifest %s defines no VMs", filename)
	}

	c := apiClient(cmd)
	for _, mv := range manifest.VMs {
		vm, err := c.CreateVM(cmd.Context(), &client.CreateVMRequest{
			Name:    mv.Name,
			Memory:  mv.Memory,
			VCPUs:   mv.VCPUs,
			Devices: mv.Devices,
		})
		if err != nil {
			return fmt.Errorf("create VM %s: %w", mv.Name, err)
		}
		fmt.Printf("VM %s created (%s)\n", vm.Name, vm.ID)

		if start {
			resp, err := c.SubmitRequest(cmd.Context(), vm.ID, types.RequestStart, nil)
			if err != nil {
				return fmt.Errorf("start VM %s: %w", mv.Name, err)
			}
			fmt.Printf("start accepted for %s (%d micro-ops)\n", vm.Name, len(resp.Ops))
		}
	}
	return nil
}
