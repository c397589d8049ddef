package credential

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// Auth is the canonical resolved authentication material for one stage.
type Auth struct {
	Type         string
	URL          string
	Username     string
	Password     string
	APIKey       string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Auth type values as normalized by the resolver.
const (
	AuthTypeBasic             = "basic"
	AuthTypeAPIKey            = "api_key"
	AuthTypeToken             = "token"
	AuthTypeClientCredentials = "oauth2_client_credentials"
)

// FromFields extracts canonical auth from a raw field map via the alias
// table.
func FromFields(fields domain.Metadata) Auth {
	var a Auth
	a.Type, _ = Lookup(fields, FieldAuthType)
	a.URL, _ = Lookup(fields, FieldURL)
	a.Username, _ = Lookup(fields, FieldUsername)
	a.Password, _ = Lookup(fields, FieldPassword)
	a.APIKey, _ = Lookup(fields, FieldAPIKey)
	a.Token, _ = Lookup(fields, FieldToken)
	a.ClientID, _ = Lookup(fields, FieldClientID)
	a.ClientSecret, _ = Lookup(fields, FieldClientSecret)
	a.TokenURL, _ = Lookup(fields, FieldTokenURL)
	return a
}

// Merge fills the receiver's empty fields from overlay. Fields resolved by
// an earlier, higher-precedence source are never replaced.
func (a Auth) Merge(overlay Auth) Auth {
	if a.Type == "" {
		a.Type = overlay.Type
	}
	if a.URL == "" {
		a.URL = overlay.URL
	}
	if a.Username == "" {
		a.Username = overlay.Username
	}
	if a.Password == "" {
		a.Password = overlay.Password
	}
	if a.APIKey == "" {
		a.APIKey = overlay.APIKey
	}
	if a.Token == "" {
		a.Token = overlay.Token
	}
	if a.ClientID == "" {
		a.ClientID = overlay.ClientID
	}
	if a.ClientSecret == "" {
		a.ClientSecret = overlay.ClientSecret
	}
	if a.TokenURL == "" {
		a.TokenURL = overlay.TokenURL
	}
	return a
}

// Empty reports whether nothing at all was resolved.
func (a Auth) Empty() bool {
	return a == Auth{}
}

// HasSecret reports whether any secret material is present.
func (a Auth) HasSecret() bool {
	return a.Password != "" || a.APIKey != "" || a.Token != "" || a.ClientSecret != ""
}

// Kind normalizes the auth type, inferring one from the populated fields
// when the source did not declare it.
func (a Auth) Kind() string {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case AuthTypeBasic, "basic_auth":
		return AuthTypeBasic
	case AuthTypeAPIKey, "apikey":
		return AuthTypeAPIKey
	case AuthTypeToken, "bearer":
		return AuthTypeToken
	case AuthTypeClientCredentials, "oauth2", "client_credentials":
		return AuthTypeClientCredentials
	}
	switch {
	case a.TokenURL != "" && a.ClientID != "" && a.ClientSecret != "":
		return AuthTypeClientCredentials
	case a.Token != "":
		return AuthTypeToken
	case a.APIKey != "":
		return AuthTypeAPIKey
	case a.Username != "" && a.Password != "":
		return AuthTypeBasic
	default:
		return ""
	}
}

// HTTPClient returns the http client outbound calls must use. For
// client-credential auths this is an oauth2 token-injecting client; every
// other kind decorates requests directly and uses the base client.
func (a Auth) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if a.Kind() != AuthTypeClientCredentials {
		return base
	}
	cfg := clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.TokenURL,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return cfg.Client(ctx)
}

// Decorate sets the request headers for non-oauth auth kinds.
func (a Auth) Decorate(req *http.Request) {
	switch a.Kind() {
	case AuthTypeBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthTypeToken:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthTypeAPIKey:
		if a.Username != "" {
			req.SetBasicAuth(a.Username, a.APIKey)
			return
		}
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
}
