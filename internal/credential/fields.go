package credential

import "github.com/flowdeck-labs/flowdeck-go/internal/domain"

// Field is a logical authentication field name. Every dialect and store may
// spell these differently; the alias table below is the single place that
// precedence is applied.
type Field string

const (
	FieldURL          Field = "url"
	FieldUsername     Field = "username"
	FieldPassword     Field = "password"
	FieldAPIKey       Field = "apiKey"
	FieldToken        Field = "token"
	FieldClientID     Field = "clientId"
	FieldClientSecret Field = "clientSecret"
	FieldTokenURL     Field = "tokenUrl"
	FieldAuthType     Field = "authType"
)

// fieldAliases maps each logical field to its accepted spellings, in
// precedence order. Earlier aliases win.
var fieldAliases = map[Field][]string{
	FieldURL:          {"url", "baseUrl", "base_url", "apiUrl", "host", "URL", "Base URL"},
	FieldUsername:     {"username", "user", "userName", "Username", "User Name"},
	FieldPassword:     {"password", "pass", "Password"},
	FieldAPIKey:       {"apiKey", "api_token", "apiToken", "api_key", "API Key"},
	FieldToken:        {"token", "accessToken", "access_token", "personalAccessToken", "Token"},
	FieldClientID:     {"clientId", "client_id", "Client ID"},
	FieldClientSecret: {"clientSecret", "client_secret", "Client Secret"},
	FieldTokenURL:     {"tokenUrl", "token_url", "tokenServiceUrl", "Token URL"},
	FieldAuthType:     {"authType", "auth_type", "type", "Authentication Type"},
}

// Lookup extracts a logical field value from a raw field map, consulting the
// alias table in fixed precedence.
func Lookup(fields domain.Metadata, field Field) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	for _, alias := range fieldAliases[field] {
		if v, ok := fields.String(alias); ok {
			return v, true
		}
	}
	return "", false
}
