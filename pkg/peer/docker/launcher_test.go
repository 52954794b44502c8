/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package docker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	dockerclient "github.com/fsouza/go-dockerclient"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"

	"github.com/discipl/ipv8-attestation/pkg/peer"
)

type fakeAPI struct {
	mu       sync.Mutex
	created  []dockerclient.CreateContainerOptions
	started  []string
	stopped  []string
	removed  []dockerclient.RemoveContainerOptions
	startErr error
	onStart  func()
}

func (f *fakeAPI) CreateContainer(opts dockerclient.CreateContainerOptions) (*dockerclient.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, opts)

	return &dockerclient.Container{ID: "c" + strconv.Itoa(len(f.created))}, nil
}

func (f *fakeAPI) StartContainerWithContext(id string, _ *dockerclient.HostConfig, _ context.Context) error {
	f.mu.Lock()
	f.started = append(f.started, id)
	f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}

	if f.onStart != nil {
		f.onStart()
	}

	return nil
}

func (f *fakeAPI) StopContainerWithContext(id string, _ uint, _ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = append(f.stopped, id)

	return &dockerclient.ContainerNotRunning{ID: id}
}

func (f *fakeAPI) RemoveContainer(opts dockerclient.RemoveContainerOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, opts)

	return nil
}

// servePeer answers control queries on port until the test ends.
func servePeer(t *testing.T, port int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "[]")
		}),
		ReadHeaderTimeout: time.Second,
	}

	go srv.Serve(listener) //nolint:errcheck

	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})
}

func TestLauncher_Launch(t *testing.T) {
	t.Run("runs the peer container", func(t *testing.T) {
		port, err := freeport.GetFreePort()
		require.NoError(t, err)

		api := &fakeAPI{onStart: func() { servePeer(t, port) }}

		l, err := NewLauncher(WithAPI(api), WithImage("ipv8:test"), WithNamePrefix("demo-"),
			WithReadiness(peer.Readiness{Interval: 10 * time.Millisecond, Retries: 10}))
		require.NoError(t, err)

		dir := filepath.Join(t.TempDir(), string(peer.Attester))

		p, err := l.Launch(context.Background(), peer.Spec{Role: peer.Attester, Port: port, WorkDir: dir})
		require.NoError(t, err)
		require.Equal(t, peer.LocalEndpoint(port), p.Endpoint)
		require.FileExists(t, filepath.Join(dir, peer.OverlayConfigFile))

		require.Len(t, api.created, 1)
		opts := api.created[0]
		require.Equal(t, "demo-attester", opts.Name)
		require.Equal(t, "ipv8:test", opts.Config.Image)
		require.Equal(t, []string{
			"python3", "-m", "ipv8_service", "--rest-port", strconv.Itoa(port), "--config", "/peer/overlay.json",
		}, opts.Config.Cmd)
		require.Equal(t, "host", opts.HostConfig.NetworkMode)
		require.Equal(t, []string{dir + ":/peer"}, opts.HostConfig.Binds)
		require.Equal(t, []string{"c1"}, api.started)

		require.NoError(t, p.Stop(context.Background()))
		require.Equal(t, []string{"c1"}, api.stopped)
		require.Len(t, api.removed, 1)
		require.True(t, api.removed[0].Force)
		require.Equal(t, "c1", api.removed[0].ID)
	})

	t.Run("start failure removes the container", func(t *testing.T) {
		api := &fakeAPI{startErr: errors.New("no such image")}

		l, err := NewLauncher(WithAPI(api))
		require.NoError(t, err)

		_, err = l.Launch(context.Background(), peer.Spec{Role: peer.Owner, Port: 8086, WorkDir: t.TempDir()})
		require.ErrorContains(t, err, "no such image")
		require.Len(t, api.removed, 1)
	})

	t.Run("endpoint never answers", func(t *testing.T) {
		port, err := freeport.GetFreePort()
		require.NoError(t, err)

		api := &fakeAPI{}

		l, err := NewLauncher(WithAPI(api), WithReadiness(peer.Readiness{Interval: time.Millisecond, Retries: 2}))
		require.NoError(t, err)

		_, err = l.Launch(context.Background(), peer.Spec{Role: peer.Verifier, Port: port, WorkDir: t.TempDir()})
		require.ErrorContains(t, err, "did not come up")
		require.Len(t, api.removed, 1)
	})

	t.Run("missing working directory", func(t *testing.T) {
		l, err := NewLauncher(WithAPI(&fakeAPI{}))
		require.NoError(t, err)

		_, err = l.Launch(context.Background(), peer.Spec{Role: peer.Verifier, Port: 8088})
		require.ErrorContains(t, err, "needs a working directory")
	})

	t.Run("bad command template", func(t *testing.T) {
		_, err := NewLauncher(WithAPI(&fakeAPI{}), WithCommand("{{"))
		require.Error(t, err)
	})
}
