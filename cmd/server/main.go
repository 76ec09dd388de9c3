package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-identity-session/cookiestore"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/jrsteele09/go-identity-session/provider"
	"github.com/jrsteele09/go-identity-session/server"
	"github.com/jrsteele09/go-identity-session/sessions"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $IDENTITY_CONFIG_FILE)")
	flag.Parse()

	for {
		if err := run(*configPath); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run(configPath string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if c.GetValidateConfig() {
		if err := config.Validate(c); err != nil {
			return err
		}
	}

	configureLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	handler, err := newHandler(c)
	if err != nil {
		return err
	}

	server := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(server)
	waitForStopSignal()
	returnError = shutdown(server)
	return returnError
}

// newHandler wires the provider client, session manager and cookie store
// into the HTTP server.
func newHandler(c config.Config) (http.Handler, error) {
	client, err := provider.NewClientFromConfig(c)
	if err != nil {
		return nil, fmt.Errorf("[newHandler] provider client: %w", err)
	}

	manager, err := sessions.NewManagerFromConfig(c, client,
		sessions.WithLogger(zlog.Logger.With().Str("component", "sessions").Logger()))
	if err != nil {
		return nil, fmt.Errorf("[newHandler] session manager: %w", err)
	}

	store, err := cookiestore.NewFromConfig(c)
	if err != nil {
		return nil, fmt.Errorf("[newHandler] cookie store: %w", err)
	}

	return server.New(c, manager, store, client, server.WithOnSignIn(func(s *sessions.Session) {
		zlog.Info().Str("user_id", s.User().ID()).Msg("user signed in")
	}))
}

func configureLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env == "DEV" {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
