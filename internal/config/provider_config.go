package config

import "time"

type ProviderConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetSignUpURL() string
	GetRecoverURL() string
	GetRevocationURL() string
	GetRefreshLeeway() time.Duration
	GetHTTPTimeout() time.Duration
	GetSignOutWait() time.Duration
	GetOffline() bool
}

type Provider struct {
	IssuerURL     string        `env:"AUTH_ISSUER_URL"`
	ClientID      string        `env:"AUTH_CLIENT_ID"`
	ClientSecret  string        `env:"AUTH_CLIENT_SECRET"`
	Scopes        []string      `env:"AUTH_SCOPES" envSeparator:"," envDefault:"openid,email,offline_access"`
	SignUpURL     string        `env:"AUTH_SIGNUP_URL"`
	RecoverURL    string        `env:"AUTH_RECOVER_URL"`
	RevocationURL string        `env:"AUTH_REVOCATION_URL"`
	RefreshLeeway time.Duration `env:"AUTH_REFRESH_LEEWAY" envDefault:"1m"`
	HTTPTimeout   time.Duration `env:"AUTH_HTTP_TIMEOUT" envDefault:"15s"`
	SignOutWait   time.Duration `env:"AUTH_SIGNOUT_WAIT" envDefault:"5s"`
	Offline       bool          `env:"AUTH_OFFLINE" envDefault:"false"` // Use the in-memory provider
}

var _ ProviderConfig = Provider{}

func (p Provider) GetIssuerURL() string            { return p.IssuerURL }
func (p Provider) GetClientID() string             { return p.ClientID }
func (p Provider) GetClientSecret() string         { return p.ClientSecret }
func (p Provider) GetScopes() []string             { return p.Scopes }
func (p Provider) GetSignUpURL() string            { return p.SignUpURL }
func (p Provider) GetRecoverURL() string           { return p.RecoverURL }
func (p Provider) GetRevocationURL() string        { return p.RevocationURL }
func (p Provider) GetRefreshLeeway() time.Duration { return p.RefreshLeeway }
func (p Provider) GetHTTPTimeout() time.Duration   { return p.HTTPTimeout }
func (p Provider) GetSignOutWait() time.Duration   { return p.SignOutWait }
func (p Provider) GetOffline() bool                { return p.Offline }
