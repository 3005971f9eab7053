package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/server"
	"github.com/desertthunder/reelsync/internal/services"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// AuthTrakt performs the OAuth2 authorization-code flow for Trakt.
//
// Starts a local HTTP server on the redirect address, opens the browser for user
// authorization and saves the exchanged tokens to the config file.
func (r *Runner) AuthTrakt(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Trakt
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return fmt.Errorf("%w: Trakt client_id and client_secret must be set in %s", shared.ErrMissingCredentials, r.configPath)
	}

	trakt, err := r.newTrakt()
	if err != nil {
		return fmt.Errorf("failed to create Trakt service: %w", err)
	}

	token, err := r.doOAuth(ctx, trakt, cmd.Duration("timeout"), !cmd.Bool("no-browser"))
	if err != nil {
		return err
	}

	if err := r.saveTokens(token); err != nil {
		return err
	}

	trakt.UseToken(ctx, token)
	if name, err := trakt.Username(ctx); err == nil {
		r.config.Credentials.Trakt.Username = name
		if err := r.saveTokens(token); err != nil {
			r.logger.Warn("failed to save Trakt username", "error", err)
		}
		r.writePlainln("✓ Authorized as %s", name)
	} else {
		r.logger.Warn("could not look up Trakt username", "error", err)
		r.writePlainln("✓ Authorization successful")
	}
	r.writePlain("✓ Tokens saved to %s\n\n", r.configPath)
	r.writePlain("You can now use: reelsync sync --dry-run\n")
	return nil
}

// doOAuth runs the callback server until the redirect arrives or timeout passes.
func (r *Runner) doOAuth(ctx context.Context, svc services.OAuthService, timeout time.Duration, openBrowser bool) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	path := "/callback"
	if u, err := url.Parse(r.config.Credentials.Trakt.RedirectURI); err == nil && u.Host != "" {
		addr = u.Host
		if u.Path != "" {
			path = u.Path
		}
	}

	handler := server.NewOAuthHandler(svc, state, path)
	callback := server.NewCallbackServer(addr, handler, shared.WithLogger(r.logger, "component", "oauth"))
	if err := callback.Start(); err != nil {
		return nil, err
	}

	authURL := svc.AuthURL(state)
	if openBrowser {
		r.writePlain("→ Opening browser for Trakt authorization...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			r.writePlainln("⚠ Could not open browser automatically.")
			r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
		}
	} else {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)
	token, err := callback.Wait(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}
	return token, nil
}

// saveTokens stores token in the loaded config and writes it back when a config path is known.
func (r *Runner) saveTokens(token *oauth2.Token) error {
	if r.config == nil {
		return fmt.Errorf("%w: config is nil", shared.ErrMissingConfig)
	}
	if err := r.config.Credentials.Trakt.Update(token); err != nil {
		return fmt.Errorf("failed to update trakt configuration: %w", err)
	}
	if r.configPath == "" {
		return nil
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// AuthStatus reports whether Trakt tokens are present and which IMDb exports can be read.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Trakt
	r.writePlainHeader("Trakt")
	switch {
	case creds.ClientID == "" || creds.ClientSecret == "":
		r.writePlain("Credentials:    ✗ client_id/client_secret not set\n")
	case creds.AccessToken == "":
		r.writePlain("Credentials:    ✓ configured\n")
		r.writePlain("Authentication: ✗ Not authenticated (run 'reelsync auth trakt')\n")
	default:
		r.writePlain("Credentials:    ✓ configured\n")
		r.writePlain("Authentication: ✓ Authenticated")
		if creds.Username != "" {
			r.writePlain(" as %s", creds.Username)
		}
		r.writePlain("\n")
		if !creds.Expiry.IsZero() {
			r.writePlain("Token expiry:   %s\n", humanize.Time(creds.Expiry))
		}
	}

	imdb := r.config.Credentials.IMDb
	r.writePlainln("")
	r.writePlainHeader("IMDb")
	r.writePlain("WebDriver:      %s\n", imdb.WebDriverURL)
	if imdb.ProfileDir == "" {
		r.writePlain("Profile:        ✗ profile_dir not set; mutations need a signed-in browser profile\n")
	} else {
		r.writePlain("Profile:        %s\n", imdb.ProfileDir)
	}
	for _, cat := range models.Categories {
		path := imdb.ExportPath(cat)
		info, err := os.Stat(path)
		if err != nil {
			r.writePlain("%-15s ✗ %s missing\n", cat.Label()+":", path)
			continue
		}
		r.writePlain("%-15s ✓ %s (%s, updated %s)\n", cat.Label()+":", path,
			humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
	}
	return nil
}
