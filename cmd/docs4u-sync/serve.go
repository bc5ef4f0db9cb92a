package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docs4usync/internal/activity"
	"docs4usync/internal/api"
	"docs4usync/internal/connector"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/specfile"
	"docs4usync/internal/types"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		root     string
		specPath string
		port     int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP upsert/remove API",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := settings(root)
			if err != nil {
				return err
			}
			if specPath == "" {
				specPath = st.SpecFile
			}
			if port == 0 {
				port = st.HTTPPort
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts, err := connectorOptions(st)
			if err != nil {
				return err
			}
			if err := opts.Cache.Initialize(ctx); err != nil {
				return err
			}
			pool, err := connector.NewPool(st.PoolSize, opts, types.ConnectionConfig{RootDirectory: st.RootDirectory})
			if err != nil {
				return err
			}
			go pool.RunPoller(ctx, 10*time.Second)

			journal := activity.NewJournal(0)
			recorder, err := activityRecorder(ctx, st, journal)
			if err != nil {
				return err
			}

			var defaultSpec func() types.Specification
			if specPath != "" {
				cur, err := specfile.NewCurrent(specPath)
				if err != nil {
					return err
				}
				defaultSpec = cur.Get
				log.WithField("description", outputdesc.Encode(cur.Get())).Info("serving specification")
				go func() {
					err := cur.Watch(ctx, func(spec types.Specification) {
						log.WithField("description", outputdesc.Encode(spec)).Info("specification changed")
					})
					if err != nil {
						log.WithError(err).Error("spec file watcher stopped")
					}
				}()
			}

			h := api.NewHandler(pool, recorder, journal, defaultSpec)
			stop, done := api.RunServerInterruptible(port, h)
			select {
			case <-ctx.Done():
				close(stop)
				err = <-done
			case err = <-done:
			}
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer closeCancel()
			if cerr := pool.Close(closeCtx); cerr != nil {
				log.WithError(cerr).Warn("failed to close connectors")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Docs4U repository root (overrides DOCS4U_ROOT)")
	cmd.Flags().StringVar(&specPath, "spec", "", "job specification file used when requests carry no description (overrides SPEC_FILE)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides HTTP_PORT)")
	return cmd
}
