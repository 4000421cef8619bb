package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/internal/config"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/navigation"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/provider/oidc"
	fakeprovider "github.com/jrsteele09/go-auth-session/provider/providerfake"
	"github.com/jrsteele09/go-auth-session/securestore"
	"github.com/jrsteele09/go-auth-session/securestore/filestore"
	"github.com/jrsteele09/go-auth-session/securestore/sqlitestore"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	offlineUserEmail    = "demo@example.com"
	offlineUserPassword = "demo-password"
)

type closableRepo interface {
	securestore.Repo
	io.Closer
}

type backgroundRefresher interface {
	Run(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running auth client")
	}
	log.Info().Msg("Auth client stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = apperrors.Wrapf(apperrors.ErrInternal, "panic recovered: %v", r)
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(c.GetEnv(), c.GetLogLevel())
	log.Logger = logger
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Err(err).Msg("Failed to close secure store")
		}
	}()

	persistence, err := sessions.NewPersistence(store,
		sessions.WithStorageKey(c.GetSessionStorageKey()),
		sessions.WithPersistenceLogger(logger.With().Str("component", "persistence").Logger()))
	if err != nil {
		return err
	}

	propagator := credentials.NewPropagator()
	idp, err := newProvider(ctx, c, logger)
	if err != nil {
		return err
	}

	service, err := auth.NewSessionService(auth.Deps{
		Provider:    idp,
		Persistence: persistence,
		Credentials: propagator,
	},
		auth.WithLogger(logger.With().Str("component", "session").Logger()),
		auth.WithSignOutWait(c.GetSignOutWait()),
	)
	if err != nil {
		return err
	}
	defer service.Close()

	guard := newGuard(c, logger)
	guard.SetRoute(c.GetSignInRoute())
	detach := guard.Attach(service)
	defer detach()

	unwatch := service.Watch(func(st auth.State) {
		logger.Debug().
			Stringer("phase", st.Phase).
			Bool("loading", st.IsLoading).
			Uint64("credential_generation", propagator.Generation()).
			Msg("Auth state changed")
	})
	defer unwatch()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("service.Start: %w", err)
	}
	if r, ok := idp.(backgroundRefresher); ok {
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Err(err).Msg("Token refresh loop stopped")
			}
		}()
	}

	if err := service.CheckAuth(ctx); err != nil {
		logger.Warn().Err(err).Msg("Session check failed, continuing signed out")
	}
	if c.GetOffline() && !service.State().IsAuthenticated {
		if err := service.Login(ctx, offlineUserEmail, offlineUserPassword); err != nil {
			logger.Err(err).Msg("Offline sign in failed")
		}
	}

	waitForStopSignal()
	logger.Info().Msg("Shutting down")
	return nil
}

func openStore(c config.StorageConfig) (closableRepo, error) {
	switch c.GetStorageBackend() {
	case config.StorageBackendSQLite:
		return sqlitestore.Open(c.GetSQLitePath(), []byte(c.GetDeviceSecret()))
	case config.StorageBackendMemory:
		return securestore.NewInMemoryRepo(), nil
	default:
		return filestore.Open(c.GetDataFolder(), []byte(c.GetDeviceSecret()))
	}
}

func newProvider(ctx context.Context, c config.ProviderConfig, logger zerolog.Logger) (provider.Client, error) {
	if c.GetOffline() {
		fake := fakeprovider.NewFakeProvider()
		fake.AddUser(offlineUserEmail, offlineUserPassword, "offline-user")
		logger.Warn().Msg("Using the offline identity provider")
		return fake, nil
	}

	return oidc.New(ctx, oidc.Config{
		IssuerURL:    c.GetIssuerURL(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		Scopes:       c.GetScopes(),
		SignUpURL:    c.GetSignUpURL(),
		RecoverURL:   c.GetRecoverURL(),
	},
		oidc.WithHTTPClient(&http.Client{Timeout: c.GetHTTPTimeout()}),
		oidc.WithLogger(logger.With().Str("component", "oidc").Logger()),
		oidc.WithRefreshLeeway(c.GetRefreshLeeway()),
		oidc.WithRevocationURL(c.GetRevocationURL()),
	)
}

func newGuard(c config.NavigationConfig, logger zerolog.Logger) *navigation.Guard {
	var guard *navigation.Guard
	nav := navigation.NavigatorFunc(func(target string) {
		logger.Info().Str("route", target).Msg("Navigate")
		guard.SetRoute(target)
	})
	guard = navigation.NewGuard(nav,
		navigation.WithRoutes(navigation.Routes{Home: c.GetHomeRoute(), SignIn: c.GetSignInRoute()}),
		navigation.WithClassifier(navigation.NewClassifier(c.GetAppSegments(), c.GetAuthSegments())),
		navigation.WithLogger(logger.With().Str("component", "navigation").Logger()),
	)
	return guard
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
