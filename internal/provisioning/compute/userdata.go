package compute

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/imamik/vmaas/internal/deployerr"
)

//go:embed templates/*
var templatesFS embed.FS

// ReadyMarker is printed to the cloud-init output log once the controller
// setup script has finished.
const ReadyMarker = "MAAS controller is now configured"

// APIKeyMarker prefixes the traced API key assignment in the same log.
const APIKeyMarker = "+ apikey="

// networkIndent places the interfaces file under its block scalar in the
// cloud-config.
const networkIndent = "        "

// part is one section of the multipart user data.
type part struct {
	name        string
	contentType string
	body        []byte
}

func renderTemplate(name string, data any) ([]byte, error) {
	content, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + strings.TrimRight(l, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// SeedFiles renders the NoCloud meta-data and user-data for s.
func SeedFiles(s CloudSpec) (map[string][]byte, error) {
	if s.NetworkConfig == "" {
		return nil, &deployerr.ConfigError{Key: "maas.network_config",
			Reason: "the content of /etc/network/interfaces is required to build the seed image"}
	}

	meta, err := renderTemplate("meta-data", struct{ Hostname string }{s.Name})
	if err != nil {
		return nil, err
	}

	cloudCfg, err := renderTemplate("cloud-init.cfg", struct {
		Hostname      string
		User          string
		Password      string
		SSHKey        string
		AptHTTPProxy  string
		AptSources    []string
		NetworkConfig string
	}{
		Hostname:      s.Name,
		User:          s.User,
		Password:      s.Password,
		SSHKey:        strings.TrimSpace(s.SSHPublicKey),
		AptHTTPProxy:  s.AptHTTPProxy,
		AptSources:    s.AptSources,
		NetworkConfig: indent(strings.TrimRight(s.NetworkConfig, "\n"), networkIndent),
	})
	if err != nil {
		return nil, err
	}

	script, err := renderTemplate("config-maas.sh", struct {
		User     string
		Password string
		Devices  []string
	}{s.User, s.Password, interfaceDevices(s.NodeGroupInterfaces)})
	if err != nil {
		return nil, err
	}

	parts := []part{
		{name: "cloud-init.cfg", contentType: "text/cloud-config", body: cloudCfg},
		{name: "config-maas.sh", contentType: "text/x-shellscript", body: script},
	}
	extra, err := userFiles(s.UserFilesDir)
	if err != nil {
		return nil, err
	}
	userData, err := multipartUserData(append(parts, extra...))
	if err != nil {
		return nil, err
	}

	return map[string][]byte{
		"meta-data": meta,
		"user-data": userData,
	}, nil
}

func interfaceDevices(ifaces []map[string]any) []string {
	var out []string
	for _, iface := range ifaces {
		for _, key := range []string{"device", "interface"} {
			if v, ok := iface[key].(string); ok && v != "" {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// userFiles reads the regular files directly under dir. Subdirectories,
// such as the preseeds, are skipped.
func userFiles(dir string) ([]part, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user files in %s: %w", dir, err)
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })
	var parts []part
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read user file %s: %w", e.Name(), err)
		}
		parts = append(parts, part{name: "user_data_" + e.Name(), contentType: guessContentType(body), body: body})
	}
	return parts, nil
}

// startsWith maps cloud-init's part prefixes to their content types.
var startsWith = []struct {
	prefix      string
	contentType string
}{
	{"#include", "text/x-include-url"},
	{"#!", "text/x-shellscript"},
	{"#cloud-config", "text/cloud-config"},
	{"#upstart-job", "text/upstart-job"},
	{"#part-handler", "text/part-handler"},
	{"#cloud-boothook", "text/cloud-boothook"},
}

func guessContentType(body []byte) string {
	for _, s := range startsWith {
		if bytes.HasPrefix(body, []byte(s.prefix)) {
			return s.contentType
		}
	}
	return "text/plain"
}

// multipartUserData assembles parts into a multipart/mixed document as
// cloud-init expects it.
func multipartUserData(parts []part) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.contentType+`; charset="us-ascii"`)
		h.Set("MIME-Version", "1.0")
		h.Set("Content-Transfer-Encoding", "7bit")
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, p.name))
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to add user data part %s: %w", p.name, err)
		}
		if _, err := io.Copy(w, bytes.NewReader(p.body)); err != nil {
			return nil, fmt.Errorf("failed to write user data part %s: %w", p.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish user data: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Content-Type: multipart/mixed; boundary=%q\n", mw.Boundary())
	out.WriteString("MIME-Version: 1.0\n\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
