// Package prerequisites checks that the hypervisor tools a deployment shells
// out to are installed.
package prerequisites

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/imamik/vmaas/internal/util/shell"
)

// probeTimeout bounds each version probe.
const probeTimeout = 5 * time.Second

// Tool is a binary a deployment may run on this host.
type Tool struct {
	Name string
	// Phase names the first deployment phase that runs the tool.
	Phase string
	// VersionArgs are appended to Name to print a version. Empty skips the probe.
	VersionArgs []string
	Required    bool
	InstallURL  string
}

var (
	virsh = Tool{
		Name:        "virsh",
		Phase:       "validation",
		VersionArgs: []string{"--version"},
		Required:    true,
		InstallURL:  "https://libvirt.org/downloads.html",
	}
	virtInstall = Tool{
		Name:        "virt-install",
		Phase:       "bootstrap-vm",
		VersionArgs: []string{"--version"},
		Required:    true,
		InstallURL:  "https://github.com/virt-manager/virt-manager",
	}
	maasCLI = Tool{
		Name:       "maas",
		Phase:      "client",
		Required:   true,
		InstallURL: "https://maas.io/docs/how-to-install-maas",
	}
	sshClient = Tool{
		Name:        "ssh",
		Phase:       "validation",
		VersionArgs: []string{"-V"},
		Required:    true,
		InstallURL:  "https://www.openssh.com/portable.html",
	}
)

// ForTarget lists the tools a target needs: libvirt's clients always, the
// maas CLI for the cli transport and an ssh client when libvirt is reached
// over qemu+ssh.
func ForTarget(transport, virshURI string) []Tool {
	tools := []Tool{virsh, virtInstall}
	if transport == "cli" {
		tools = append(tools, maasCLI)
	}
	if strings.HasPrefix(virshURI, "qemu+ssh://") {
		tools = append(tools, sshClient)
	}
	return tools
}

// CheckResult is the outcome for one tool.
type CheckResult struct {
	Tool    Tool
	Found   bool
	Path    string
	Version string
}

// CheckResults collects the outcome of a check.
type CheckResults struct {
	Results []CheckResult
	Missing []Tool
}

// HasErrors reports whether a required tool is missing.
func (r *CheckResults) HasErrors() bool {
	for _, tool := range r.Missing {
		if tool.Required {
			return true
		}
	}
	return false
}

// Error lists the missing required tools with the phase that needs each.
func (r *CheckResults) Error() error {
	var missing []string
	for _, tool := range r.Missing {
		if !tool.Required {
			continue
		}
		entry := tool.Name
		if tool.Phase != "" {
			entry += " (needed by " + tool.Phase + ")"
		}
		if tool.InstallURL != "" {
			entry += ", see " + tool.InstallURL
		}
		missing = append(missing, entry)
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required tools: %s", strings.Join(missing, "; "))
}

// Checker resolves tools in PATH and probes their versions.
type Checker struct {
	LookPath func(string) (string, error)
	// Runner runs version probes. Nil skips them.
	Runner shell.Runner
}

// Check resolves every tool. Version probes are best effort.
func (c Checker) Check(ctx context.Context, tools []Tool) *CheckResults {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	results := &CheckResults{}
	for _, tool := range tools {
		result := CheckResult{Tool: tool}
		path, err := lookPath(tool.Name)
		if err != nil {
			results.Missing = append(results.Missing, tool)
		} else {
			result.Found = true
			result.Path = path
			result.Version = c.version(ctx, tool)
		}
		results.Results = append(results.Results, result)
	}
	return results
}

func (c Checker) version(ctx context.Context, tool Tool) string {
	if c.Runner == nil || len(tool.VersionArgs) == 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	args := append([]string{tool.Name}, tool.VersionArgs...)
	res, err := c.Runner.Run(ctx, shell.Cmd(args...).Tolerant())
	if err != nil || !res.OK() {
		return ""
	}
	// ssh -V prints on stderr.
	out := res.Stdout
	if strings.TrimSpace(out) == "" {
		out = res.Stderr
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line)
}

// CheckFor checks the tools of a target on this host.
func CheckFor(transport, virshURI string) *CheckResults {
	return Checker{Runner: shell.Local{}}.Check(context.Background(), ForTarget(transport, virshURI))
}
