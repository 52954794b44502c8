/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/spf13/cobra"

	"github.com/discipl/ipv8-attestation/pkg/config"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/peer/docker"
	"github.com/discipl/ipv8-attestation/pkg/peer/loopback"
	"github.com/discipl/ipv8-attestation/pkg/peer/process"
	"github.com/discipl/ipv8-attestation/pkg/scenario"
)

const envHint = " Alternatively, this can be set with the following environment variable: "

const (
	// log level flag.
	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "IPV8_LOG_LEVEL"
	logLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		envHint + logLevelEnvKey

	// config file flag.
	configFlagName  = "config"
	configEnvKey    = "IPV8_CONFIG"
	configFlagUsage = "YAML file with the run settings. Flags override it." + envHint + configEnvKey

	launcherFlagName  = "launcher"
	launcherEnvKey    = "IPV8_LAUNCHER"
	launcherFlagUsage = "How peers are started: loopback, process or docker." + envHint + launcherEnvKey

	basePortFlagName  = "base-port"
	basePortEnvKey    = "IPV8_BASE_PORT"
	basePortFlagUsage = "API port of the identity owner; the attester and verifier take the next two." +
		" 0 lets the launcher pick free ports." + envHint + basePortEnvKey

	workRootFlagName  = "work-root"
	workRootEnvKey    = "IPV8_WORK_ROOT"
	workRootFlagUsage = "Directory holding one working directory per role." + envHint + workRootEnvKey

	attributeNameFlagName  = "attribute-name"
	attributeNameEnvKey    = "IPV8_ATTRIBUTE_NAME"
	attributeNameFlagUsage = "Name of the attested attribute." + envHint + attributeNameEnvKey

	attributeValueFlagName  = "attribute-value"
	attributeValueEnvKey    = "IPV8_ATTRIBUTE_VALUE"
	attributeValueFlagUsage = "Value of the attested attribute." + envHint + attributeValueEnvKey

	consentFlagName  = "consent"
	consentEnvKey    = "IPV8_CONSENT"
	consentFlagUsage = "Have the identity owner allow the verification request (true/false)." +
		envHint + consentEnvKey
)

var logger = log.New("ipv8-attestation/cli")

var errUnknownRole = errors.New("unknown role")

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func getUserSetVars(cmd *cobra.Command, flagName, envKey string, isOptional bool) ([]string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringSlice(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	var values []string

	if isSet {
		values = strings.Split(value, ",")
	}

	if isOptional || isSet {
		return values, nil
	}

	return nil, fmt.Errorf(" %s not set. "+
		"It must be set via either command line or environment variable", flagName)
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func applyLogLevel(cmd *cobra.Command) error {
	logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
	if err != nil {
		return err
	}

	return setLogLevel(logLevel)
}

func createCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)
}

func createRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(configFlagName, "c", "", configFlagUsage)
	cmd.Flags().StringP(attributeNameFlagName, "", "", attributeNameFlagUsage)
	cmd.Flags().StringP(attributeValueFlagName, "", "", attributeValueFlagUsage)
	cmd.Flags().StringP(consentFlagName, "", "", consentFlagUsage)
}

func createDeployFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(launcherFlagName, "l", "", launcherFlagUsage)
	cmd.Flags().StringP(basePortFlagName, "p", "", basePortFlagUsage)
	cmd.Flags().StringP(workRootFlagName, "w", "", workRootFlagUsage)
}

// loadConfig reads the config file, if any, and applies the flags and environment variables over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := getUserSetVar(cmd, configFlagName, configEnvKey, true)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()

	if path != "" {
		cfg, err = config.FromFile(path)
		if err != nil {
			return nil, err
		}
	}

	overrides := []struct {
		flagName, envKey string
		apply            func(string) error
	}{
		{launcherFlagName, launcherEnvKey, setString(&cfg.Launcher)},
		{workRootFlagName, workRootEnvKey, setString(&cfg.WorkRoot)},
		{basePortFlagName, basePortEnvKey, setInt(&cfg.BasePort)},
		{attributeNameFlagName, attributeNameEnvKey, setString(&cfg.Attribute.Name)},
		{attributeValueFlagName, attributeValueEnvKey, setString(&cfg.Attribute.Value)},
		{consentFlagName, consentEnvKey, setBool(&cfg.Consent)},
	}

	for _, o := range overrides {
		if cmd.Flags().Lookup(o.flagName) == nil {
			continue
		}

		value, err := getUserSetVar(cmd, o.flagName, o.envKey, true)
		if err != nil {
			return nil, err
		}

		if value == "" {
			continue
		}

		if err := o.apply(value); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", o.flagName, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v

		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}

		*dst = n

		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}

		*dst = b

		return nil
	}
}

func newLauncher(cfg *config.Config) (peer.Launcher, error) {
	switch cfg.Launcher {
	case config.ProcessLauncher:
		opts := []process.Option{process.WithEnv(cfg.Process.Env...), process.WithOutput(os.Stdout)}
		if cfg.Process.Command != "" {
			opts = append(opts, process.WithCommand(cfg.Process.Command))
		}

		return process.NewLauncher(opts...)
	case config.DockerLauncher:
		var opts []docker.Option

		if cfg.Docker.Image != "" {
			opts = append(opts, docker.WithImage(cfg.Docker.Image))
		}

		if cfg.Docker.Command != "" {
			opts = append(opts, docker.WithCommand(cfg.Docker.Command))
		}

		if cfg.Docker.NamePrefix != "" {
			opts = append(opts, docker.WithNamePrefix(cfg.Docker.NamePrefix))
		}

		return docker.NewLauncher(opts...)
	default:
		return newLoopbackLauncher(cfg.Loopback), nil
	}
}

func newLoopbackLauncher(cfg config.LoopbackConfig) *loopback.Launcher {
	opts := []loopback.Option{
		loopback.WithNetwork(loopback.NewNetwork(loopback.WithDiscoveryDelay(cfg.DiscoveryDelay))),
		loopback.WithAutoAllowVerify(cfg.AutoAllowVerify),
		loopback.WithProcessingDelay(cfg.ProcessingDelay),
	}

	if cfg.RequestTTL > 0 {
		opts = append(opts, loopback.WithRequestTTL(cfg.RequestTTL))
	}

	if cfg.InMemory {
		opts = append(opts, loopback.WithInMemoryStorage())
	}

	return loopback.NewLauncher(opts...)
}

func scenarioOptions(cfg *config.Config) []scenario.Option {
	opts := []scenario.Option{
		scenario.WithPoller(cfg.Poll.Poller(nil)),
		scenario.WithVerificationPoller(cfg.Verification.Poller(nil)),
		scenario.WithAttribute(cfg.Attribute.Name, cfg.Attribute.Value),
	}

	if cfg.Consent {
		opts = append(opts, scenario.WithConsent())
	}

	return opts
}

func parseRole(v string) (peer.Role, error) {
	for _, role := range peer.Roles() {
		if string(role) == v {
			return role, nil
		}
	}

	return "", fmt.Errorf("%w %q", errUnknownRole, v)
}

// parseMid accepts a base64 mid in plain or transport form. Empty means unknown.
func parseMid(v string) (identity.Mid, error) {
	if v == "" {
		return nil, nil
	}

	if strings.Contains(v, "%") {
		unescaped, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}

		v = unescaped
	}

	return identity.ParseMid(v)
}
