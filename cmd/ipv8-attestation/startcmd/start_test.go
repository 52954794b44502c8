/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/discipl/ipv8-attestation/pkg/config"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/peer/loopback"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

const fastConfig = `
poll:
  interval: 10ms
  maxAttempts: 500
verification:
  interval: 10ms
  maxAttempts: 100
loopback:
  inMemory: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func apiRoot(p *peer.Peer) string {
	return strings.TrimSuffix(p.Endpoint, attestation.Path)
}

func TestCmds(t *testing.T) {
	names := map[string]bool{}

	for _, cmd := range Cmds() {
		names[cmd.Use] = true

		require.NotEmpty(t, cmd.Short)
		require.NotNil(t, cmd.Flags().Lookup(logLevelFlagName), cmd.Use)
	}

	for _, name := range []string{"demo", "scenario", "peer", "healthcheck"} {
		require.True(t, names[name], name)
	}

	require.True(t, strings.HasPrefix(QueryCmd().Use, "query "))
}

func TestGetUserSetVar(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringP(launcherFlagName, "", "", "")

	value, err := getUserSetVar(cmd, launcherFlagName, launcherEnvKey, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Neither launcher (command line flag) nor IPV8_LAUNCHER")
	require.Empty(t, value)

	t.Setenv(launcherEnvKey, "docker")

	value, err = getUserSetVar(cmd, launcherFlagName, launcherEnvKey, false)
	require.NoError(t, err)
	require.Equal(t, "docker", value)

	require.NoError(t, cmd.Flags().Set(launcherFlagName, "process"))

	value, err = getUserSetVar(cmd, launcherFlagName, launcherEnvKey, false)
	require.NoError(t, err)
	require.Equal(t, "process", value)
}

func TestGetUserSetVars(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringSliceP(roleFlagName, "", []string{}, "")

	_, err := getUserSetVars(cmd, roleFlagName, roleEnvKey, false)
	require.ErrorContains(t, err, "role not set")

	t.Setenv(roleEnvKey, "idowner,verifier")

	values, err := getUserSetVars(cmd, roleFlagName, roleEnvKey, false)
	require.NoError(t, err)
	require.Equal(t, []string{"idowner", "verifier"}, values)
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, setLogLevel(""))
	require.NoError(t, setLogLevel("INFO"))
	require.ErrorContains(t, setLogLevel("LOUD"), "failed to parse log level 'LOUD'")
}

func TestLoadConfig(t *testing.T) {
	t.Run("file then flags", func(t *testing.T) {
		cmd := DemoCmd()
		path := writeConfig(t, "launcher: docker\nbasePort: 9000\nattribute:\n  name: time_for_beer\n")

		require.NoError(t, cmd.Flags().Parse([]string{
			"--config", path, "--base-port", "9100", "--attribute-value", "yes", "--consent", "true",
		}))

		cfg, err := loadConfig(cmd)
		require.NoError(t, err)
		require.Equal(t, config.DockerLauncher, cfg.Launcher)
		require.Equal(t, 9100, cfg.BasePort)
		require.Equal(t, config.AttributeConfig{Name: "time_for_beer", Value: "yes"}, cfg.Attribute)
		require.True(t, cfg.Consent)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(launcherEnvKey, config.ProcessLauncher)
		t.Setenv(workRootEnvKey, "/srv/peers")

		cfg, err := loadConfig(DemoCmd())
		require.NoError(t, err)
		require.Equal(t, config.ProcessLauncher, cfg.Launcher)
		require.Equal(t, "/srv/peers", cfg.WorkRoot)
	})

	t.Run("invalid values", func(t *testing.T) {
		cmd := DemoCmd()
		require.NoError(t, cmd.Flags().Parse([]string{"--base-port", "eighty"}))

		_, err := loadConfig(cmd)
		require.ErrorContains(t, err, "invalid base-port")

		cmd = DemoCmd()
		require.NoError(t, cmd.Flags().Parse([]string{"--launcher", "vm"}))

		_, err = loadConfig(cmd)
		require.ErrorContains(t, err, "unknown launcher")
	})
}

func TestParseMid(t *testing.T) {
	mid, err := parseMid("")
	require.NoError(t, err)
	require.True(t, mid.Empty())

	plain, err := parseMid("K1ifTZ++hPN4UqU24rSc/czfYZY=")
	require.NoError(t, err)

	escaped, err := parseMid("K1ifTZ%2B%2BhPN4UqU24rSc%2FczfYZY%3D")
	require.NoError(t, err)
	require.Equal(t, plain, escaped)

	_, err = parseMid("%zz")
	require.Error(t, err)
}

func TestDemoCmd(t *testing.T) {
	cmd := DemoCmd()
	cmd.SetArgs([]string{
		"--config", writeConfig(t, fastConfig),
		"--launcher", config.LoopbackLauncher,
		"--base-port", "0",
		"--work-root", t.TempDir(),
		"--once", "true",
	})

	require.NoError(t, cmd.Execute())
}

func TestScenarioCmd(t *testing.T) {
	l := loopback.NewLauncher(loopback.WithAutoAllowVerify(true))

	args := []string{"--config", writeConfig(t, fastConfig)}

	for _, role := range peer.Roles() {
		p, err := l.Launch(context.Background(), peer.Spec{Role: role})
		require.NoError(t, err)

		t.Cleanup(func() {
			require.NoError(t, p.Stop(context.Background()))
		})

		args = append(args, "--"+string(role)+"-url", apiRoot(p))

		if role == peer.Verifier {
			args = append(args, "--verifier-mid", p.Mid.Transport())
		}
	}

	t.Run("resolves missing mids and runs", func(t *testing.T) {
		cmd := ScenarioCmd()
		cmd.SetArgs(args)

		require.NoError(t, cmd.Execute())
	})

	t.Run("missing endpoint", func(t *testing.T) {
		cmd := ScenarioCmd()
		cmd.SetArgs([]string{"--idowner-url", "http://localhost:8086"})

		require.ErrorContains(t, cmd.Execute(), attesterURLFlagName)
	})

	t.Run("bad mid", func(t *testing.T) {
		cmd := ScenarioCmd()
		cmd.SetArgs(append(append([]string{}, args...), "--idowner-mid", "not base64!"))

		require.ErrorContains(t, cmd.Execute(), "invalid idowner-mid")
	})
}

func TestPeerCmd(t *testing.T) {
	t.Run("serves until the context ends", func(t *testing.T) {
		cmd := PeerCmd()
		cmd.SetArgs([]string{"--role", "idowner,attester", "--port", "0", "--work-dir", t.TempDir()})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		require.NoError(t, cmd.ExecuteContext(ctx))
	})

	t.Run("unknown role", func(t *testing.T) {
		cmd := PeerCmd()
		cmd.SetArgs([]string{"--role", "notary"})

		require.ErrorIs(t, cmd.Execute(), errUnknownRole)
	})

	t.Run("role required", func(t *testing.T) {
		cmd := PeerCmd()
		cmd.SetArgs([]string{})

		require.ErrorContains(t, cmd.Execute(), "role not set")
	})
}

func TestHealthcheckCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attestation.QueryType(r.URL.Query().Get(attestation.TypeParam)) {
		case attestation.Peers:
			fmt.Fprint(w, `["YQ==","Yg=="]`)
		default:
			fmt.Fprint(w, `[["QR","aGFzaA=="]]`)
		}
	}))
	defer srv.Close()

	endpoint := attestation.Endpoint(srv.URL)

	cmd := HealthcheckCmd()
	cmd.SetArgs([]string{"--endpoint", endpoint, "--expected-peers", "YQ==,Yg==", "--expected-attribute", "QR"})
	require.NoError(t, cmd.Execute())

	cmd = HealthcheckCmd()
	cmd.SetArgs([]string{"--endpoint", endpoint})
	require.Error(t, cmd.Execute())
}

func TestQueryCmd(t *testing.T) {
	p, err := loopback.NewLauncher().Launch(context.Background(), peer.Spec{Role: peer.Owner})
	require.NoError(t, err)

	defer func() {
		require.NoError(t, p.Stop(context.Background()))
	}()

	t.Run("peers", func(t *testing.T) {
		var out bytes.Buffer

		cmd := QueryCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"peers", "--url", apiRoot(p)})

		require.NoError(t, cmd.Execute())
		require.Equal(t, "[]\n", out.String())
	})

	t.Run("blocks of an unknown key", func(t *testing.T) {
		var out bytes.Buffer

		cmd := QueryCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"blocks", "--url", apiRoot(p), "--public-key", "00ff"})

		require.NoError(t, cmd.Execute())
		require.Equal(t, "[]\n", out.String())
	})

	t.Run("block needs a hash", func(t *testing.T) {
		cmd := QueryCmd()
		cmd.SetArgs([]string{"block", "--url", apiRoot(p)})

		require.ErrorIs(t, cmd.Execute(), errMissingArgument)
	})

	t.Run("unknown query", func(t *testing.T) {
		cmd := QueryCmd()
		cmd.SetArgs([]string{"everything", "--url", apiRoot(p)})

		require.ErrorContains(t, cmd.Execute(), "unknown query")
	})
}
