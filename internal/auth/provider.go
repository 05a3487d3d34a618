package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/model"
)

// ProviderIdentity is a verified external identity: the outcome of a
// completed provider handshake. Subject is the provider-assigned id, stable
// for the lifetime of the external account. Email is the address the
// provider vouches for.
type ProviderIdentity struct {
	Provider model.Provider
	Subject  string
	Email    string
}

// ProviderVerifier is the external-provider capability the Gate consumes.
// Given the authorization code from a provider callback, it returns a
// verified identity or fails with ErrProviderVerification. The Gate never
// sees OAuth mechanics; it only ever handles the verified tuple.
type ProviderVerifier interface {
	Provider() model.Provider
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*ProviderIdentity, error)
}

// GitHubProvider verifies GitHub identities through the authorization-code
// flow. The code-for-token exchange is server-to-server using the client
// secret; the access token never reaches a browser.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string // overridable in tests
}

// githubUser is the slice of GitHub's /user response we consume.
type githubUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"` // empty when the user hides it
}

// githubEmail is one entry of the /user/emails response.
type githubEmail struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Primary  bool   `json:"primary"`
}

// NewGitHubProvider creates a verifier for GitHub. callbackURL must exactly
// match the callback registered on the OAuth app. The read:user and
// user:email scopes cover the profile id and the address list.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: "https://api.github.com",
	}
}

func (p *GitHubProvider) Provider() model.Provider { return model.ProviderGitHub }

// AuthURL returns the authorization redirect target. state is the CSRF
// nonce the handler stores in a cookie and checks on callback.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a verified GitHub identity.
//
// GitHub hides the profile email when the user opts out, so when /user
// returns an empty address we fall back to /user/emails and pick the
// primary verified entry. No usable address at all is a verification
// failure — the identity graph cannot link a subject without one.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %w", apperror.ProviderVerificationFailed("github"), err)
	}

	client := p.config.Client(ctx, token)

	var user githubUser
	if err := getJSON(ctx, client, p.apiBase+"/user", &user); err != nil {
		return nil, fmt.Errorf("%w: fetching profile: %w", apperror.ProviderVerificationFailed("github"), err)
	}
	if user.ID == 0 {
		return nil, apperror.ProviderVerificationFailed("github")
	}

	email := user.Email
	if email == "" {
		var list []githubEmail
		if err := getJSON(ctx, client, p.apiBase+"/user/emails", &list); err != nil {
			return nil, fmt.Errorf("%w: fetching emails: %w", apperror.ProviderVerificationFailed("github"), err)
		}
		for _, e := range list {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
		if email == "" && len(list) > 0 && list[0].Verified {
			email = list[0].Email
		}
	}
	if email == "" {
		return nil, apperror.ProviderVerificationFailed("github")
	}

	return &ProviderIdentity{
		Provider: model.ProviderGitHub,
		Subject:  strconv.FormatInt(user.ID, 10),
		Email:    email,
	}, nil
}

// DiscordProvider verifies Discord identities. Same flow as GitHub, with
// Discord's quirk that /users/@me reports whether the address is verified —
// an unverified Discord address is rejected rather than trusted.
type DiscordProvider struct {
	config  *oauth2.Config
	apiBase string
}

type discordUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// NewDiscordProvider creates a verifier for Discord with the identify and
// email scopes.
func NewDiscordProvider(clientID, clientSecret, callbackURL string) *DiscordProvider {
	return &DiscordProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"identify", "email"},
			Endpoint:     endpoints.Discord,
		},
		apiBase: "https://discord.com/api",
	}
}

func (p *DiscordProvider) Provider() model.Provider { return model.ProviderDiscord }

func (p *DiscordProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a verified Discord identity.
func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %w", apperror.ProviderVerificationFailed("discord"), err)
	}

	client := p.config.Client(ctx, token)

	var user discordUser
	if err := getJSON(ctx, client, p.apiBase+"/users/@me", &user); err != nil {
		return nil, fmt.Errorf("%w: fetching profile: %w", apperror.ProviderVerificationFailed("discord"), err)
	}
	if user.ID == "" || user.Email == "" || !user.Verified {
		return nil, apperror.ProviderVerificationFailed("discord")
	}

	return &ProviderIdentity{
		Provider: model.ProviderDiscord,
		Subject:  user.ID,
		Email:    user.Email,
	}, nil
}

// getJSON performs a GET with the token-bearing client and decodes the
// JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
