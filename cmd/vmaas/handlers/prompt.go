package handlers

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/charmbracelet/huh"
)

// askControllerAddress prompts for the address the controller VM came up
// on. It is only wired in when stdin is a terminal.
func askControllerAddress(ctx context.Context, controller string) (string, error) {
	var addr string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("IP address of %s", controller)).
				Description("Check the hypervisor's DHCP leases or the VM console").
				Placeholder("192.168.122.2").
				Value(&addr).
				Validate(validateAddress),
		).Title("Controller Address"),
	).RunWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("address prompt failed: %w", err)
	}
	return strings.TrimSpace(addr), nil
}

// validateAddress accepts what maas.ip_address accepts: an IP address.
func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("address is required")
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("%q is not an IP address", s)
	}
	return nil
}
