package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/tyemirov/labcommons/internal/tui"
	"github.com/tyemirov/labcommons/pkg/authstate"
	"github.com/tyemirov/labcommons/pkg/routeguard"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// withSession loads configuration, opens a session and closes it after run returns.
func withSession(command *cobra.Command, quiet bool, run func(ctx context.Context, session *clientSession) error) error {
	configuration, configErr := LoadClientConfig()
	if configErr != nil {
		return configErr
	}
	logger, loggerErr := newClientLogger(configuration, quiet)
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(command.Context())
	defer cancel()
	session, sessionErr := openSession(ctx, configuration, logger)
	if sessionErr != nil {
		return sessionErr
	}
	defer session.Close()
	return run(ctx, session)
}

func newLoginCommand() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			email, _ := command.Flags().GetString("email")
			password, _ := command.Flags().GetString("password")
			if strings.TrimSpace(email) == "" {
				return errMissingEmail
			}
			if password == "" {
				prompted, promptErr := readPassword(command)
				if promptErr != nil {
					return promptErr
				}
				password = prompted
			}
			return withSession(command, false, func(ctx context.Context, session *clientSession) error {
				signedIn, signInErr := session.store.SignIn(ctx, authstate.Credentials{Email: email, Password: password})
				if signInErr != nil {
					return signInErr
				}
				state, awaitErr := session.awaitUser(ctx, signedIn.UserID)
				if awaitErr != nil {
					return awaitErr
				}
				fmt.Fprintf(command.OutOrStdout(), "Signed in as %s\n", describeIdentity(state))
				return nil
			})
		},
	}
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password; prompted when empty")
	return loginCmd
}

func newSignUpCommand() *cobra.Command {
	signUpCmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			email, _ := command.Flags().GetString("email")
			password, _ := command.Flags().GetString("password")
			fullName, _ := command.Flags().GetString("full-name")
			username, _ := command.Flags().GetString("username")
			institution, _ := command.Flags().GetString("institution")
			if strings.TrimSpace(email) == "" {
				return errMissingEmail
			}
			if password == "" {
				prompted, promptErr := readPassword(command)
				if promptErr != nil {
					return promptErr
				}
				password = prompted
			}
			return withSession(command, false, func(ctx context.Context, session *clientSession) error {
				created, signUpErr := session.store.SignUp(ctx, authstate.Credentials{
					Email:    email,
					Password: password,
					Options:  authstate.SignUpOptions{FullName: fullName, Username: username, Institution: institution},
				})
				if signUpErr != nil {
					return signUpErr
				}
				if created == nil {
					fmt.Fprintln(command.OutOrStdout(), "Account created; confirm your email before signing in")
					return nil
				}
				state, awaitErr := session.awaitUser(ctx, created.UserID)
				if awaitErr != nil {
					return awaitErr
				}
				fmt.Fprintf(command.OutOrStdout(), "Welcome, %s\n", describeIdentity(state))
				return nil
			})
		},
	}
	signUpCmd.Flags().String("email", "", "Account email")
	signUpCmd.Flags().String("password", "", "Account password; prompted when empty")
	signUpCmd.Flags().String("full-name", "", "Full name shown on your profile")
	signUpCmd.Flags().String("username", "", "Public username")
	signUpCmd.Flags().String("institution", "", "Home institution")
	return signUpCmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return withSession(command, false, func(ctx context.Context, session *clientSession) error {
				state, awaitErr := session.awaitInitialized(ctx)
				if awaitErr != nil {
					return awaitErr
				}
				if state.User == nil {
					fmt.Fprintln(command.OutOrStdout(), "Not signed in")
					return nil
				}
				if err := session.store.SignOut(ctx); err != nil {
					return err
				}
				if _, awaitErr := session.awaitUser(ctx, ""); awaitErr != nil {
					return awaitErr
				}
				fmt.Fprintln(command.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and profile",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return withSession(command, false, func(ctx context.Context, session *clientSession) error {
				state, awaitErr := session.awaitInitialized(ctx)
				if awaitErr != nil {
					return awaitErr
				}
				writeState(command.OutOrStdout(), state)
				return nil
			})
		},
	}
}

var profileFlags = []struct {
	name  string
	usage string
	set   func(patch *authstate.ProfilePatch, value *string)
}{
	{"username", "Public username", func(patch *authstate.ProfilePatch, value *string) { patch.Username = value }},
	{"full-name", "Full name", func(patch *authstate.ProfilePatch, value *string) { patch.FullName = value }},
	{"institution", "Home institution", func(patch *authstate.ProfilePatch, value *string) { patch.Institution = value }},
	{"university", "University", func(patch *authstate.ProfilePatch, value *string) { patch.University = value }},
	{"avatar-url", "Avatar image URL", func(patch *authstate.ProfilePatch, value *string) { patch.AvatarURL = value }},
	{"bio", "Short biography", func(patch *authstate.ProfilePatch, value *string) { patch.Bio = value }},
	{"research-interests", "Research interests", func(patch *authstate.ProfilePatch, value *string) { patch.ResearchInterests = value }},
	{"orcid", "ORCID identifier", func(patch *authstate.ProfilePatch, value *string) { patch.ORCID = value }},
	{"lattes-url", "Lattes CV URL", func(patch *authstate.ProfilePatch, value *string) { patch.LattesURL = value }},
	{"linkedin-url", "LinkedIn URL", func(patch *authstate.ProfilePatch, value *string) { patch.LinkedInURL = value }},
}

func newProfileCommand() *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
	}
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields; only the flags given are changed",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			var patch authstate.ProfilePatch
			for _, field := range profileFlags {
				if !command.Flags().Changed(field.name) {
					continue
				}
				value, _ := command.Flags().GetString(field.name)
				field.set(&patch, &value)
			}
			if patch.Empty() {
				return errEmptyProfilePatch
			}
			return withSession(command, false, func(ctx context.Context, session *clientSession) error {
				state, awaitErr := session.awaitInitialized(ctx)
				if awaitErr != nil {
					return awaitErr
				}
				if state.User == nil {
					return errNotSignedIn
				}
				updated, updateErr := session.store.UpdateProfile(ctx, patch)
				if updateErr != nil {
					return updateErr
				}
				fmt.Fprintf(command.OutOrStdout(), "Profile updated for %s\n", updated.Username)
				return nil
			})
		},
	}
	for _, field := range profileFlags {
		setCmd.Flags().String(field.name, "", field.usage)
	}
	profileCmd.AddCommand(setCmd)
	return profileCmd
}

func newBrowseCommand() *cobra.Command {
	browseCmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse equipment, projects, and the forum in an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			startPath, _ := command.Flags().GetString("start")
			return withSession(command, true, func(ctx context.Context, session *clientSession) error {
				changes := make(chan struct{}, 1)
				go func() {
					watchErr := session.client.WatchCredentials(ctx, func() {
						select {
						case changes <- struct{}{}:
						default:
						}
					})
					if watchErr != nil {
						session.logger.Warn("credential watch stopped", zap.String("code", "cli.browse.watch_failed"), zap.Error(watchErr))
					}
				}()

				model, modelErr := tui.NewModel(tui.Config{
					Context:           ctx,
					Store:             session.store,
					Directory:         session.client,
					Guard:             routeguard.New(routeguard.Config{}, nil),
					CredentialChanges: changes,
					Logger:            session.logger,
					StartPath:         startPath,
				})
				if modelErr != nil {
					return modelErr
				}
				program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
				_, runErr := program.Run()
				return runErr
			})
		},
	}
	browseCmd.Flags().String("start", tui.PathEquipment, "View to open first")
	return browseCmd
}

func readPassword(command *cobra.Command) (string, error) {
	fmt.Fprint(command.ErrOrStderr(), "Password: ")
	if input, ok := command.InOrStdin().(*os.File); ok && term.IsTerminal(int(input.Fd())) {
		secret, readErr := term.ReadPassword(int(input.Fd()))
		fmt.Fprintln(command.ErrOrStderr())
		if readErr != nil {
			return "", fmt.Errorf("cli.read_password: %w", readErr)
		}
		return string(secret), nil
	}
	line, readErr := bufio.NewReader(command.InOrStdin()).ReadString('\n')
	if readErr != nil && readErr != io.EOF {
		return "", fmt.Errorf("cli.read_password: %w", readErr)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func describeIdentity(state authstate.AuthState) string {
	if state.User == nil {
		return "nobody"
	}
	if state.Profile == nil {
		return state.User.Email
	}
	return fmt.Sprintf("%s <%s> (%s)", state.Profile.Username, state.User.Email, state.Profile.Role)
}

func writeState(output io.Writer, state authstate.AuthState) {
	if state.User == nil {
		fmt.Fprintln(output, "Not signed in")
		return
	}
	fmt.Fprintf(output, "user_id:  %s\n", state.User.UserID)
	fmt.Fprintf(output, "email:    %s\n", state.User.Email)
	fmt.Fprintf(output, "expires:  %s\n", state.User.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	if state.Profile == nil {
		fmt.Fprintln(output, "profile:  none")
		return
	}
	fmt.Fprintf(output, "username: %s\n", state.Profile.Username)
	fmt.Fprintf(output, "name:     %s\n", state.Profile.FullName)
	fmt.Fprintf(output, "role:     %s\n", state.Profile.Role)
	if state.Profile.Institution != "" {
		fmt.Fprintf(output, "institution: %s\n", state.Profile.Institution)
	}
}
