package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/internal/env"
	"github.com/luma/msnp/internal/httpapi"
	"github.com/luma/msnp/internal/meta"
	"github.com/luma/msnp/passport"
	"github.com/luma/msnp/session"
	"github.com/luma/msnp/storage"
	"github.com/luma/msnp/transport"
)

const shutdownTimeout = 5 * time.Second

var (
	account        string
	dispatchServer string
	status         string
	storeKind      string
	storePath      string
	httpPort       string

	// The option given to every choice the server asks for
	answer int
)

func init() {
	flags := LoginCmd.Flags()

	flags.StringVarP(&account, "account", "u", "", "The passport to sign in with")
	flags.StringVar(&dispatchServer, "server", "", "The dispatch server host:port")
	flags.StringVarP(&status, "status", "s", "", "The status to announce (NLN, AWY, BSY, HDN...)")
	flags.StringVar(&storeKind, "store", "", "Where the buddy list is remembered: bbolt, json or none")
	flags.StringVar(&storePath, "store-path", "", "The file the buddy list is remembered in")
	flags.StringVar(&httpPort, "http-port", "", "Serve the status API on this port")
	flags.IntVar(&answer, "answer", -1, "Answer authorization requests with this option (0 authorize, 1 deny)")
}

var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and stay online until interrupted",
	Long: `Sign in and stay online until interrupted

The password is read from MSNP_PASSWORD or the config file.

Usage
	msnp login -u alice@hotmail.com --http-port 7362

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		if err := env.ReadConfigFile(conf, configFile); err != nil {
			return err
		}

		applyFlags(cmd, conf)

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer func() {
			_ = log.Sync()
		}()

		store, closeStore, err := openStore(conf, log.Named("storage"))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, closeStore())
		}()

		loop := client.NewLoop(log.Named("loop"))
		ui := newLogUI(answer, log.Named("ui"))

		opts := []session.Option{
			session.WithTicketIssuer(passport.NewClient(passport.Options{
				NexusURL: conf.NexusURL,
				Log:      log.Named("passport"),
			})),
		}

		if store != nil {
			opts = append(opts, session.WithStore(store))
		}

		dialer := transport.NewDialer(transport.Options{
			KeepAlive: 30 * time.Second,
			Log:       log.Named("transport"),
		})

		sess, err := session.New(
			sessionConfig(conf),
			loop,
			session.TCPDialer(dialer),
			ui,
			log.Named("session"),
			opts...,
		)
		if err != nil {
			return err
		}

		loopCtx, stopLoop := context.WithCancel(context.Background())
		defer stopLoop()

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			if err := loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})

		var server *http.Server
		if conf.HTTPPort != "" {
			server = &http.Server{
				Addr:    net.JoinHostPort("127.0.0.1", conf.HTTPPort),
				Handler: httpapi.NewRouter(sess, loop, conf.DebugHTTP, log.Named("http")),
			}

			g.Go(func() error {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("Http server errored: %w", err)
				}

				return nil
			})
		}

		loop.Post(func() {
			if err := sess.Connect(ctx); err != nil {
				log.Error("Failed to connect", zap.Error(err))
			}
		})

		log.Info("Signing in",
			zap.String("account", conf.Account),
			zap.String("server", conf.DispatchServer),
			zap.String("store", conf.Store),
			zap.String("httpPort", conf.HTTPPort))

		select {
		case <-gctx.Done():
		case <-ui.disconnected:
			log.Info("Session ended")
		}

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		signedOut := make(chan struct{})
		loop.Post(func() {
			sess.Disconnect()
			close(signedOut)
		})

		select {
		case <-signedOut:
			// Lets the buddy list snapshot reach the store before it closes
			if werr := loop.WaitAsync(shutdownCtx); werr != nil {
				log.Warn("Background work did not finish in time", zap.Error(werr))
			}

		case <-shutdownCtx.Done():
			log.Warn("Event loop did not sign out in time")
		}

		if server != nil {
			server.SetKeepAlivesEnabled(false)
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				err = multierr.Append(err, serr)
			}
		}

		stopLoop()
		err = multierr.Append(err, g.Wait())

		log.Info("Exiting")
		return err
	},
}

func applyFlags(cmd *cobra.Command, conf *env.Config) {
	flags := cmd.Flags()

	if flags.Changed("account") {
		conf.Account = account
	}

	if flags.Changed("server") {
		conf.DispatchServer = dispatchServer
	}

	if flags.Changed("status") {
		conf.Status = status
	}

	if flags.Changed("store") {
		conf.Store = storeKind
	}

	if flags.Changed("store-path") {
		conf.StorePath = storePath
	}

	if flags.Changed("http-port") {
		conf.HTTPPort = httpPort
	}
}

func sessionConfig(conf *env.Config) session.Config {
	return session.Config{
		Account:            conf.Account,
		Password:           conf.Password,
		DispatchServer:     conf.DispatchServer,
		Versions:           conf.Versions,
		Status:             contacts.Presence(conf.Status),
		TransactionTimeout: conf.TransactionTimeout,
		KeepAlive:          conf.KeepAlive,
		ClientName:         meta.ClientName(),
	}
}

// openStore returns the configured store, nil for "none", and the function
// that flushes and closes it.
func openStore(conf *env.Config, log *zap.Logger) (storage.Store, func() error, error) {
	switch conf.Store {
	case "none", "":
		return nil, func() error { return nil }, nil

	case "bbolt":
		store, err := storage.NewBboltStore(conf.StorePath)
		if err != nil {
			return nil, nil, err
		}

		log.Info("Opened buddy list database", zap.String("path", conf.StorePath))
		return store, store.Close, nil

	case "json":
		store := storage.NewInmemoryStore()

		data, err := os.ReadFile(conf.StorePath)
		switch {
		case err == nil:
			if err := store.Restore(data); err != nil {
				return nil, nil, err
			}
		case !os.IsNotExist(err):
			return nil, nil, err
		}

		closeStore := func() error {
			data, err := store.Backup()
			if err != nil {
				return multierr.Append(err, store.Close())
			}

			log.Info("Writing buddy list backup", zap.String("path", conf.StorePath))

			return multierr.Append(os.WriteFile(conf.StorePath, data, 0600), store.Close())
		}

		return store, closeStore, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", conf.Store)
	}
}
