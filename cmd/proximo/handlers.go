package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/proximo/internal/api"
	"github.com/haasonsaas/proximo/internal/config"
	"github.com/haasonsaas/proximo/internal/geo"
	"github.com/haasonsaas/proximo/internal/geolocation"
	"github.com/haasonsaas/proximo/internal/session"
	"github.com/haasonsaas/proximo/internal/store"
	"github.com/haasonsaas/proximo/pkg/models"
)

// Environment variables read by the session commands.
const (
	envEmail    = "PROXIMO_EMAIL"
	envPassword = "PROXIMO_PASSWORD"
)

// errSessionExpired ends "run" when the server rejects the credential.
var errSessionExpired = errors.New("session expired, log in again")

type credentials struct {
	Email    string
	Password string
}

// =============================================================================
// Credentials
// =============================================================================

// resolveCredentials takes the email from the flag or $PROXIMO_EMAIL and the
// password from $PROXIMO_PASSWORD, prompting for it otherwise.
func resolveCredentials(cmd *cobra.Command, email string) (credentials, error) {
	creds := credentials{Email: strings.TrimSpace(email)}
	if creds.Email == "" {
		creds.Email = strings.TrimSpace(os.Getenv(envEmail))
	}
	if creds.Email == "" {
		return creds, fmt.Errorf("email is required (--email or $%s)", envEmail)
	}
	creds.Password = os.Getenv(envPassword)
	if creds.Password == "" {
		creds.Password = promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password")
	}
	if creds.Password == "" {
		return creds, errors.New("password is required")
	}
	return creds, nil
}

// promptPassword prompts for a password without echoing it when in is a terminal.
func promptPassword(in io.Reader, out io.Writer, label string) string {
	fmt.Fprintf(out, "%s: ", label)
	if f, ok := in.(*os.File); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			text, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err == nil {
				return strings.TrimSpace(string(text))
			}
		}
	}
	text, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && text == "" {
		return ""
	}
	return strings.TrimSpace(text)
}

// =============================================================================
// Session Command Handlers
// =============================================================================

// runSession implements the run command: it mounts a session and renders the
// radar until a shutdown signal arrives or the credential is rejected.
func runSession(ctx context.Context, out, errOut io.Writer, configPath string, debug bool, creds credentials) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut, debug)
	logger.Info("starting proximo",
		"version", version,
		"commit", commit,
		"config", path,
		"api", cfg.API.BaseURL(),
		"location_source", cfg.Location.Source,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopMetrics, err := serveMetrics(ctx, cfg.Metrics.Addr, a.metrics, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	sess, err := a.newSession(session.NavigatorFunc(func(route string) {
		logger.Debug("navigate", "route", route)
		if route == session.RouteLogin {
			cancel(errSessionExpired)
		}
	}))
	if err != nil {
		return err
	}
	defer sess.Logout()

	if err := sess.Login(ctx, creds.Email, creds.Password); err != nil {
		return errors.New(api.UserMessage(err, "login failed"))
	}
	if user, ok := sess.User(); ok {
		fmt.Fprintf(out, "Logged in as %s\n", user.DisplayName())
	}

	view := &radarView{out: out, radar: geo.DefaultRadar()}
	offs := []func(){
		sess.Locations.Subscribe(view.update),
		sess.Tracker().OnUserNearby(func(ev models.UserNearbyEvent) {
			fmt.Fprintf(out, "%s entrou no raio (%.0fm)\n", nameOrUnknown(ev.Name), ev.Distance)
		}),
		watchUnread(sess.Chats, out),
	}
	defer func() {
		for _, off := range offs {
			off()
		}
	}()
	view.update(sess.Locations.Snapshot())

	<-ctx.Done()
	if cause := context.Cause(ctx); errors.Is(cause, errSessionExpired) {
		return cause
	}
	logger.Info("shutdown signal received, logging out")
	return nil
}

// watchUnread prints the unread total whenever it grows.
func watchUnread(chats *store.ChatStore, out io.Writer) (off func()) {
	last := chats.Snapshot().UnreadTotal()
	return chats.Subscribe(func(snap store.ChatSnapshot) {
		total := snap.UnreadTotal()
		if total > last {
			fmt.Fprintf(out, "%d mensagens não lidas\n", total)
		}
		last = total
	})
}

// runRadar implements the radar command over REST only.
func runRadar(ctx context.Context, out, errOut io.Writer, configPath string, debug bool, creds credentials, timeout time.Duration) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, errOut, debug)
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := a.api.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return errors.New(api.UserMessage(err, "login failed"))
	}
	a.auth.Set(*resp)
	defer a.auth.Clear()

	locations := store.NewLocationStore()
	locations.SetTracking(store.TrackingAcquiring)
	pos, err := a.provider.CurrentPosition(ctx, samplingOptions(cfg.Location))
	if err != nil {
		return errors.New(geolocation.UserMessage(err))
	}
	locations.SetLocation(pos.Location, pos.Timestamp)
	locations.SetTracking(store.TrackingActive)

	if err := a.api.UpdateLocation(ctx, pos.Location); err != nil {
		return fmt.Errorf("report location: %w", err)
	}
	users, err := a.api.NearbyUsers(ctx)
	if err != nil {
		return fmt.Errorf("load nearby users: %w", err)
	}
	locations.SetNearbyUsers(users)
	renderRadar(out, locations.Snapshot(), geo.DefaultRadar())

	reencounters, err := a.api.Reencounters(ctx)
	if err != nil {
		logger.Warn("re-encounters not loaded", "error", err)
		return nil
	}
	renderReencounters(out, reencounters)
	return nil
}

func renderReencounters(out io.Writer, list []models.Reencounter) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintln(out, "Reencontros:")
	for _, r := range list {
		fmt.Fprintf(out, "  %-20s %dx, último em %s\n", nameOrUnknown(r.Name), r.Count, r.LastSeenAt.Local().Format("02/01 15:04"))
	}
}

// runLogin implements the login command.
func runLogin(ctx context.Context, out, errOut io.Writer, configPath string, creds credentials) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newLogger(cfg, errOut, false))
	if err != nil {
		return err
	}
	resp, err := a.api.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return errors.New(api.UserMessage(err, "login failed"))
	}
	a.auth.Set(*resp)
	defer a.auth.Clear()

	user, ok := a.auth.User()
	if !ok {
		return errors.New("login response carried no user")
	}
	fmt.Fprintf(out, "Logged in as %s <%s>\n", user.DisplayName(), user.Email)
	fmt.Fprintf(out, "User ID: %s\n", a.auth.UserID())
	if exp := a.auth.ExpiresAt(); !exp.IsZero() {
		fmt.Fprintf(out, "Token expires: %s\n", exp.Local().Format(time.RFC3339))
	}
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigValidate(out io.Writer, configPath string) error {
	_, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = "built-in defaults"
	}
	fmt.Fprintf(out, "Configuration OK (%s)\n", path)
	return nil
}

func runConfigShow(out io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}
