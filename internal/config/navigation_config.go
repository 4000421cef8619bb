package config

type NavigationConfig interface {
	GetHomeRoute() string
	GetSignInRoute() string
	GetAppSegments() []string
	GetAuthSegments() []string
}

type Navigation struct {
	HomeRoute    string   `env:"NAV_HOME_ROUTE" envDefault:"/(app)/dashboard"`
	SignInRoute  string   `env:"NAV_SIGNIN_ROUTE" envDefault:"/(auth)/sign-in"`
	AppSegments  []string `env:"NAV_APP_SEGMENTS" envSeparator:"," envDefault:"(app),app"`
	AuthSegments []string `env:"NAV_AUTH_SEGMENTS" envSeparator:"," envDefault:"(auth),auth"`
}

var _ NavigationConfig = Navigation{}

func (n Navigation) GetHomeRoute() string {
	return n.HomeRoute
}

func (n Navigation) GetSignInRoute() string {
	return n.SignInRoute
}

func (n Navigation) GetAppSegments() []string {
	return n.AppSegments
}

func (n Navigation) GetAuthSegments() []string {
	return n.AuthSegments
}
