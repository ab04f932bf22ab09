package compute

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/vmaas/internal/platform/virsh"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
	"github.com/imamik/vmaas/internal/util/shell/shelltest"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func imageServer(t *testing.T, hits *[]string) *http.Client {
	t.Helper()
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		*hits = append(*hits, r.URL.String())
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Body:       io.NopCloser(bytes.NewReader([]byte("QFI\xfbimage"))),
			Header:     http.Header{},
			Request:    r,
		}, nil
	})}
}

func controllerSpec(t *testing.T) CloudSpec {
	t.Helper()
	return CloudSpec{
		Spec: Spec{
			Name:      "maas-boot",
			Arch:      "amd64",
			VCPUs:     2,
			Memory:    4096,
			DiskSize:  "40G",
			Pool:      "default",
			Video:     "cirrus",
			Networks:  []string{"bridge=br0,model=virtio"},
			Autostart: true,
		},
		Release:       "trusty",
		User:          "ubuntu",
		Password:      "ubuntu",
		NetworkConfig: "auto eth0\niface eth0 inet static\n  address 192.168.122.2",
		SSHPublicKey:  "ssh-rsa AAAA test@host\n",
		UserFilesDir:  filepath.Join(t.TempDir(), "user-files"),
		CacheDir:      t.TempDir(),
	}
}

// Seed building changes the working directory, so these tests do not run
// in parallel.

func TestCloudInstanceCreate_FromScratch(t *testing.T) {
	fake := newFake()
	spec := controllerSpec(t)
	var hits []string
	inst := NewCloudInstance(spec, lifecycle.Policy{}, virsh.New(fake, ""), fake).
		WithHTTPClient(imageServer(t, &hits))

	outcome, err := inst.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)

	assert.Equal(t, []string{"https://cloud-images.ubuntu.com/trusty/current/trusty-server-cloudimg-amd64-disk1.img"}, hits)
	cached := filepath.Join(spec.CacheDir, "trusty-server-cloudimg-amd64-disk1.img")
	assert.FileExists(t, cached)

	calls := strings.Join(fake.Calls(), "\n")
	for _, want := range []string{
		"virsh -c qemu:///system vol-create-as --pool default --name trusty-amd64-base --capacity 3G\n",
		"virsh -c qemu:///system vol-upload --pool default --file " + cached + " --vol trusty-amd64-base",
		"virsh -c qemu:///system vol-clone --pool default trusty-amd64-base maas-boot-root.img",
		"virsh -c qemu:///system vol-resize --pool default maas-boot-root.img 40G",
		"virsh -c qemu:///system vol-create-as --pool default --name maas-boot-seed.img --capacity ",
		"virt-install --connect qemu:///system --name maas-boot --ram 4096 --vcpus 2 --video cirrus --arch x86_64 " +
			"--disk vol=default/maas-boot-root.img,format=qcow2,bus=virtio,io=native " +
			"--disk vol=default/maas-boot-seed.img,format=raw,bus=virtio,io=native " +
			"--network bridge=br0,model=virtio --noautoconsole --vnc --import",
		"virsh -c qemu:///system autostart maas-boot",
	} {
		assert.Contains(t, calls, want)
	}
	assert.Contains(t, calls, "--format raw")
}

func TestCloudInstanceCreate_UsesCachedImage(t *testing.T) {
	fake := newFake()
	spec := controllerSpec(t)
	cached := filepath.Join(spec.CacheDir, "trusty-server-cloudimg-amd64-disk1.img")
	require.NoError(t, os.WriteFile(cached, []byte("image"), 0o600))

	var hits []string
	inst := NewCloudInstance(spec, lifecycle.Policy{}, virsh.New(fake, ""), fake).
		WithHTTPClient(imageServer(t, &hits))

	_, err := inst.Create(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.True(t, fake.Called("virsh -c qemu:///system vol-upload --pool default --file "+cached))
}

func TestCloudInstanceCreate_ExistingVolumesReused(t *testing.T) {
	fake := newFake().On("virsh -c qemu:///system vol-list --pool default", shelltest.Reply{Stdout: ` Name                Path
---------------------------------
 trusty-amd64-base   /p/trusty-amd64-base
 maas-boot-root.img  /p/maas-boot-root.img
 maas-boot-seed.img  /p/maas-boot-seed.img
`})
	var hits []string
	inst := NewCloudInstance(controllerSpec(t), lifecycle.Policy{UseExisting: true}, virsh.New(fake, ""), fake).
		WithHTTPClient(imageServer(t, &hits))

	_, err := inst.Create(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.False(t, fake.Called("virsh -c qemu:///system vol-create-as"))
	assert.False(t, fake.Called("virsh -c qemu:///system vol-clone"))
	assert.True(t, fake.Called("virt-install"))
}

func TestCloudInstanceCreate_UploadFailureRemovesBase(t *testing.T) {
	fake := newFake().On("virsh -c qemu:///system vol-upload", shelltest.Reply{ExitCode: 1, Stderr: "pool full"})
	var hits []string
	inst := NewCloudInstance(controllerSpec(t), lifecycle.Policy{}, virsh.New(fake, ""), fake).
		WithHTTPClient(imageServer(t, &hits))

	_, err := inst.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload to volume trusty-amd64-base failed")
	assert.True(t, fake.Called("virsh -c qemu:///system vol-delete --pool default trusty-amd64-base"))
	assert.False(t, fake.Called("virt-install"))
}

func TestCloudInstanceCreate_DownloadFailure(t *testing.T) {
	fake := newFake()
	spec := controllerSpec(t)
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found",
			Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}, Request: r}, nil
	})}
	inst := NewCloudInstance(spec, lifecycle.Policy{}, virsh.New(fake, ""), fake).WithHTTPClient(client)

	_, err := inst.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404 Not Found")
	assert.NoFileExists(t, filepath.Join(spec.CacheDir, "trusty-server-cloudimg-amd64-disk1.img"))
	assert.False(t, fake.Called("virsh -c qemu:///system vol-create-as"))
}

func TestCloudInstanceCreate_MissingNetworkConfig(t *testing.T) {
	fake := newFake()
	spec := controllerSpec(t)
	spec.NetworkConfig = ""
	var hits []string
	inst := NewCloudInstance(spec, lifecycle.Policy{}, virsh.New(fake, ""), fake).
		WithHTTPClient(imageServer(t, &hits))

	_, err := inst.Create(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.False(t, fake.Called("virt-install"))
}

func TestCloudSpec_Names(t *testing.T) {
	t.Parallel()

	s := CloudSpec{Spec: Spec{Name: "maas", Arch: "ppc64"}, Release: "xenial"}
	assert.Equal(t, "xenial-ppc64-base", s.BaseVolume())
	assert.Equal(t, "maas-root.img", s.RootVolume())
	assert.Equal(t, "maas-seed.img", s.SeedVolume())
	assert.Equal(t, "https://cloud-images.ubuntu.com/xenial/current/xenial-server-cloudimg-ppc64el-disk1.img", s.ImageURL())
}
