package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/labcommons/pkg/authstate"
	"github.com/tyemirov/labcommons/pkg/labclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configCodeMissingServerURL     = "config.missing_server_url"
	configCodeInvalidServerURL     = "config.invalid_server_url"
	configCodeInvalidInitTimeout   = "config.invalid_init_timeout"
	configCodeInvalidRefreshMargin = "config.invalid_refresh_margin"
	configCodeCredentialsPath      = "config.credentials_path"
)

var (
	errNotSignedIn       = errors.New("cli.not_signed_in")
	errEmptyProfilePatch = errors.New("cli.empty_profile_patch")
	errSessionNotSettled = errors.New("cli.session_not_settled")
	errMissingEmail      = errors.New("cli.missing_email")
)

// ClientConfig is the validated console client configuration.
type ClientConfig struct {
	ServerURL       string
	CredentialsFile string
	InitTimeout     time.Duration
	RefreshMargin   time.Duration
	LogFile         string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labcommons",
		Short:         "Console client for the labcommons equipment, project, and forum directory",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("server_url", "http://localhost:8080", "Base URL of the labcommons server")
	rootCmd.PersistentFlags().String("credentials_file", "", "Session file; empty uses the user config directory")
	rootCmd.PersistentFlags().Duration("init_timeout", authstate.DefaultInitTimeout, "How long to wait for the stored session to be checked")
	rootCmd.PersistentFlags().Duration("refresh_margin", labclient.DefaultRefreshMargin, "Refresh access tokens this long before they expire")
	rootCmd.PersistentFlags().String("log_file", "", "Write diagnostic logs to this file")

	for _, flagName := range []string{"server_url", "credentials_file", "init_timeout", "refresh_margin", "log_file"} {
		_ = viper.BindPFlag(flagName, rootCmd.PersistentFlags().Lookup(flagName))
	}

	viper.SetEnvPrefix("LABCOMMONS")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newSignUpCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newProfileCommand(),
		newBrowseCommand(),
	)
	return rootCmd
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the client configuration from viper.
func LoadClientConfig() (ClientConfig, error) {
	serverURL := strings.TrimSpace(viper.GetString("server_url"))
	if serverURL == "" {
		return ClientConfig{}, configError(configCodeMissingServerURL, "server_url must be provided")
	}
	parsed, parseErr := url.Parse(serverURL)
	if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidServerURL, "server_url must be an absolute http or https URL")
	}

	initTimeout := viper.GetDuration("init_timeout")
	if initTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidInitTimeout, "init_timeout must be greater than zero")
	}

	refreshMargin := viper.GetDuration("refresh_margin")
	if refreshMargin < 0 {
		return ClientConfig{}, configError(configCodeInvalidRefreshMargin, "refresh_margin must not be negative")
	}

	credentialsFile := strings.TrimSpace(viper.GetString("credentials_file"))
	if credentialsFile == "" {
		defaultPath, pathErr := labclient.DefaultCredentialsPath()
		if pathErr != nil {
			return ClientConfig{}, configError(configCodeCredentialsPath, pathErr.Error())
		}
		credentialsFile = defaultPath
	}

	return ClientConfig{
		ServerURL:       serverURL,
		CredentialsFile: credentialsFile,
		InitTimeout:     initTimeout,
		RefreshMargin:   refreshMargin,
		LogFile:         strings.TrimSpace(viper.GetString("log_file")),
	}, nil
}

// newClientLogger writes JSON logs to log_file when set; otherwise warnings go to stderr.
// Interactive commands pass quiet to keep the terminal clean.
func newClientLogger(configuration ClientConfig, quiet bool) (*zap.Logger, error) {
	if configuration.LogFile == "" && quiet {
		return zap.NewNop(), nil
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	loggerConfig.OutputPaths = []string{"stderr"}
	if configuration.LogFile != "" {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		loggerConfig.OutputPaths = []string{configuration.LogFile}
	}
	return loggerConfig.Build()
}
