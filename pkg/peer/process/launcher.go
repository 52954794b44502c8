/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package process starts overlay peers as local child processes.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/discipl/ipv8-attestation/pkg/peer"
)

// DefaultCommand runs the overlay peer service shipped with the attestation demo.
const DefaultCommand = "python3 -m ipv8_service --rest-port {{.Port}} --config {{.ConfigFile}}"

const killTimeout = 10 * time.Second

var logger = log.New("ipv8-attestation/process")

var errMissingWorkDir = errors.New("a process peer needs a working directory")

// TemplateData is what a command template can refer to.
type TemplateData struct {
	Role       peer.Role
	Port       int
	WorkDir    string
	ConfigFile string
}

// Launcher starts peers by running a command per peer.
type Launcher struct {
	command   *template.Template
	env       []string
	output    io.Writer
	readiness peer.Readiness
}

// Option configures the launcher.
type Option func(opts *Launcher) error

// WithCommand sets the command template, rendered with TemplateData and split on white space.
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

// WithEnv adds KEY=value pairs to the environment of every peer process.
func WithEnv(env ...string) Option {
	return func(opts *Launcher) error {
		opts.env = append(opts.env, env...)

		return nil
	}
}

// WithOutput sends the output of the peer processes to w.
func WithOutput(w io.Writer) Option {
	return func(opts *Launcher) error {
		opts.output = w

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

// NewLauncher creates a launcher running DefaultCommand unless configured otherwise.
func NewLauncher(opts ...Option) (*Launcher, error) {
	l := &Launcher{output: io.Discard}

	for _, opt := range append([]Option{WithCommand(DefaultCommand)}, opts...) {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Launch recreates the working directory, writes the overlay configuration into it, starts the peer process
// there and waits until its control endpoint answers.
func (l *Launcher) Launch(ctx context.Context, spec peer.Spec) (*peer.Peer, error) {
	if spec.WorkDir == "" {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, errMissingWorkDir)
	}

	overlay := spec.Overlay
	if overlay == nil {
		overlay = peer.DefaultOverlayConfig()
	}

	if err := peer.PrepareWorkDir(spec.WorkDir); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	configFile, err := overlay.Write(spec.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	args, err := l.render(TemplateData{Role: spec.Role, Port: spec.Port, WorkDir: spec.WorkDir, ConfigFile: configFile})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), l.env...)
	cmd.Stdout = l.output
	cmd.Stderr = l.output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: start %s: %w", spec.Role, args[0], err)
	}

	logger.Infof("started %s (pid %d): %s", spec.Role, cmd.Process.Pid, strings.Join(args, " "))

	exited := make(chan error, 1)

	go func() {
		exited <- cmd.Wait()
	}()

	p := peer.New(spec.Role, spec.Port, nil, func(ctx context.Context) error {
		return stopProcess(ctx, cmd, exited)
	})
	p.WorkDir = spec.WorkDir

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

	args := strings.Fields(buf.String())
	if len(args) == 0 {
		return nil, errors.New("render command: empty command")
	}

	return args, nil
}

// stopProcess interrupts the process and kills it when it has not exited once ctx is done.
func stopProcess(ctx context.Context, cmd *exec.Cmd, exited <-chan error) error {
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("interrupt pid %d: %w", cmd.Process.Pid, err)
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
	case <-time.After(killTimeout):
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", cmd.Process.Pid, err)
	}

	<-exited

	return nil
}
