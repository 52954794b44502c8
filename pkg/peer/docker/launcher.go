/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package docker starts overlay peers as docker containers.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	dockerclient "github.com/fsouza/go-dockerclient"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/discipl/ipv8-attestation/pkg/peer"
)

// launcher defaults.
const (
	DefaultImage   = "ipv8:latest"
	DefaultCommand = "python3 -m ipv8_service --rest-port {{.Port}} --config {{.ConfigFile}}"

	containerWorkDir = "/peer"
	hostNetwork      = "host"
	stopTimeout      = 10
)

var logger = log.New("ipv8-attestation/docker")

// API is the part of the docker client the launcher uses.
type API interface {
	CreateContainer(opts dockerclient.CreateContainerOptions) (*dockerclient.Container, error)
	StartContainerWithContext(id string, hostConfig *dockerclient.HostConfig, ctx context.Context) error
	StopContainerWithContext(id string, timeout uint, ctx context.Context) error
	RemoveContainer(opts dockerclient.RemoveContainerOptions) error
}

// TemplateData is what a command template can refer to. Paths are those seen inside the container.
type TemplateData struct {
	Role       peer.Role
	Port       int
	WorkDir    string
	ConfigFile string
}

// Launcher runs one container per peer, on the host network, with the peer's working directory mounted.
type Launcher struct {
	api        API
	image      string
	command    *template.Template
	namePrefix string
	readiness  peer.Readiness
}

// Option configures the launcher.
type Option func(opts *Launcher) error

// WithAPI sets the docker client. By default one is created from the environment.
func WithAPI(api API) Option {
	return func(opts *Launcher) error {
		opts.api = api

		return nil
	}
}

// WithImage sets the image the peers run.
func WithImage(image string) Option {
	return func(opts *Launcher) error {
		opts.image = image

		return nil
	}
}

// WithCommand sets the container command template, rendered with TemplateData and split on white space.
func WithCommand(command string) Option {
	return func(opts *Launcher) error {
		tmpl, err := template.New("command").Option("missingkey=error").Parse(command)
		if err != nil {
			return fmt.Errorf("parse command template: %w", err)
		}

		opts.command = tmpl

		return nil
	}
}

// WithNamePrefix sets the prefix of the container names, followed by the role.
func WithNamePrefix(prefix string) Option {
	return func(opts *Launcher) error {
		opts.namePrefix = prefix

		return nil
	}
}

// WithReadiness sets how long Launch waits for the control endpoint to answer.
func WithReadiness(r peer.Readiness) Option {
	return func(opts *Launcher) error {
		opts.readiness = r

		return nil
	}
}

// NewLauncher creates a launcher.
func NewLauncher(opts ...Option) (*Launcher, error) {
	l := &Launcher{image: DefaultImage, namePrefix: "ipv8-"}

	for _, opt := range append([]Option{WithCommand(DefaultCommand)}, opts...) {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if l.api == nil {
		client, err := dockerclient.NewClientFromEnv()
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}

		l.api = client
	}

	return l, nil
}

// Launch writes the overlay configuration to the working directory, runs the peer container and waits until
// its control endpoint answers.
func (l *Launcher) Launch(ctx context.Context, spec peer.Spec) (*peer.Peer, error) {
	if spec.WorkDir == "" {
		return nil, fmt.Errorf("launch %s: a docker peer needs a working directory", spec.Role)
	}

	workDir, err := filepath.Abs(spec.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	overlay := spec.Overlay
	if overlay == nil {
		overlay = peer.DefaultOverlayConfig()
	}

	if err = peer.PrepareWorkDir(workDir); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	if _, err = overlay.Write(workDir); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	cmd, err := l.render(TemplateData{
		Role:       spec.Role,
		Port:       spec.Port,
		WorkDir:    containerWorkDir,
		ConfigFile: containerWorkDir + "/" + peer.OverlayConfigFile,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	hostConfig := &dockerclient.HostConfig{
		NetworkMode: hostNetwork,
		Binds:       []string{workDir + ":" + containerWorkDir},
	}

	container, err := l.api.CreateContainer(dockerclient.CreateContainerOptions{
		Name: l.namePrefix + string(spec.Role),
		Config: &dockerclient.Config{
			Image:      l.image,
			Cmd:        cmd,
			WorkingDir: containerWorkDir,
		},
		HostConfig: hostConfig,
		Context:    ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: create container: %w", spec.Role, err)
	}

	p := peer.New(spec.Role, spec.Port, nil, func(ctx context.Context) error {
		return l.remove(ctx, container.ID)
	})
	p.WorkDir = workDir

	if err := l.api.StartContainerWithContext(container.ID, nil, ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("launch %s: start container: %w", spec.Role, err),
			p.Stop(context.Background()))
	}

	logger.Infof("started %s in container %s (%s)", spec.Role, container.ID, l.image)

	if err := l.readiness.WaitReady(ctx, spec.Role, p.Endpoint); err != nil {
		return nil, errors.Join(fmt.Errorf("launch %s: %w", spec.Role, err), p.Stop(context.Background()))
	}

	return p, nil
}

func (l *Launcher) render(data TemplateData) ([]string, error) {
	var buf bytes.Buffer
	if err := l.command.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render command: %w", err)
	}

	return strings.Fields(buf.String()), nil
}

// remove stops the container and removes it with its volumes.
func (l *Launcher) remove(ctx context.Context, id string) error {
	var notRunning *dockerclient.ContainerNotRunning

	if err := l.api.StopContainerWithContext(id, stopTimeout, ctx); err != nil && !errors.As(err, &notRunning) {
		logger.Warnf("stop container %s: %v", id, err)
	}

	err := l.api.RemoveContainer(dockerclient.RemoveContainerOptions{
		ID:            id,
		Force:         true,
		RemoveVolumes: true,
		Context:       ctx,
	})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}

	return nil
}
