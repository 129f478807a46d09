package cmd

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sahithikokkula/verdict-aqe/pkg/api"
)

func newServeCommand(port string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := openContext(cmd)
			if err != nil {
				return err
			}
			defer vc.Close()

			r := mux.NewRouter()
			api.RegisterRoutes(r, vc)

			addr := ":" + getString(cmd, "listen")
			srv := &http.Server{
				Addr:         addr,
				Handler:      r,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 150 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			log.WithFields(log.Fields{"addr": addr, "backend": vc.Backend().String()}).Info("verdict server listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", port, "port to listen on")
	return cmd
}
