package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgp_controller/pkg"
	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/route"
)

const testConfig = `
bgp:
  local:
    routerId: 192.0.2.254
    asn: 65000
routes:
  - prefix: 10.0.0.0/8
    peer: 65001
    nexthop: 192.0.2.1
    as_path: [65001]
  - prefix: 10.0.0.0/8
    peer: 65002
    nexthop: 192.0.2.2
    as_path: [65002, 65003]
  - prefix: 2001:db8::/32
    peer: 65002
    nexthop: 2001:db8::2
    as_path: [65002]
    communities: "65000:1"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPrefixCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{
			name: "Canonical IPv6",
			args: []string{"prefix", "2001:DB8:0:0::/32"},
			want: "2001:db8::/32 family=ipv6 afi=2 safi=1",
		},
		{
			name: "Contains",
			args: []string{"prefix", "10.0.0.0/8", "--contains", "10.1.0.0/16"},
			want: "contains(10.1.0.0/16)=true",
		},
		{
			name:    "Invalid prefix",
			args:    []string{"prefix", "10.0.0.0/33"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("prefix error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestBestCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "best")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"10.0.0.0/8 peer 65001 (nexthop: 192.0.2.1 [65001])",
		"2001:db8::/32 peer 65002 (nexthop: 2001:db8::2 [65002])",
	}, lines)

	out, err = run(t, "--config", cfg, "best", "--export-to", "65002")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8 peer 65001 (nexthop: 192.0.2.1 [65001])", strings.TrimSpace(out))

	out, err = run(t, "--config", cfg, "best", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "prefix: 2001:db8::/32")
	assert.Contains(t, out, "localPref: 100")
}

func TestLookupCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "lookup", "10.20.30.40")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.0/8 peer 65001")

	_, err = run(t, "--config", cfg, "lookup", "192.0.2.1")
	assert.Error(t, err)
}

func TestEncodeDecodeCommands(t *testing.T) {
	cfg := writeConfig(t)
	bin := filepath.Join(t.TempDir(), "routes.bin")

	_, err := run(t, "--config", cfg, "encode", "--out", bin, "--batch", "1")
	require.NoError(t, err)

	out, err := run(t, "decode", bin)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.Contains(t, out, "2001:db8::/32 peer 65002")

	_, err = run(t, "decode", filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("BGPCTL_CONFIG", writeConfig(t))
	out, err := run(t, "best")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.0/8")
}

func TestBestChangedLogsAnnouncements(t *testing.T) {
	var buf bytes.Buffer
	logger, err := pkg.NewLogger(&buf, "info")
	require.NoError(t, err)
	a := &app{logger: logger}
	changed := a.bestChanged(nil)

	e, err := route.New(route.OriginIGP, 65001, route.PrefixText("10.0.0.0/8"), "192.0.2.1", route.WithASPath(65001))
	require.NoError(t, err)
	changed(e.Prefix(), e)
	assert.Contains(t, buf.String(), "route 10.0.0.0/8 next-hop 192.0.2.1 as-path [65001]")

	changed(prefix.MustParse("10.0.0.0/8"), nil)
	assert.Contains(t, buf.String(), "withdraw route 10.0.0.0/8")
}
