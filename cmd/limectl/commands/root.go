// Package commands wires the limectl CLI, a manual smoke-testing harness
// for the Manager-level API (spec §6's CLI harness), grounded on the
// teacher's cmd/ciphera/commands package: a persistent-flag-built context
// shared by every subcommand, constructed once in PersistentPreRunE.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/manager"
	"limepq/internal/store"
	"limepq/internal/transport"
)

var (
	home      string
	deviceID  string
	algoFlags string
	serverURL string
	useFake   bool

	mgr *manager.Manager
	db  *store.DB
)

// Execute builds the root command and runs it; main.go's only job is to
// call this and map a non-nil error to a nonzero exit code.
func Execute() error {
	root := &cobra.Command{
		Use:   "limectl",
		Short: "Manual smoke-testing harness for the limepq end-to-end encryption library",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".limectl")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			var err error
			db, err = store.Open(filepath.Join(home, "limectl.db"))
			if err != nil {
				return err
			}

			var tr domain.Transport
			if useFake {
				tr = transport.NewFake(func(url, from string, body []byte) (int, []byte) {
					return 200, nil
				})
			} else {
				tr = transport.NewHTTP()
			}

			log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
			mgr = manager.New(db, tr, domain.DefaultConfig, log)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.limectl)")
	root.PersistentFlags().StringVar(&deviceID, "device", "", "this device's id")
	root.PersistentFlags().StringVar(&algoFlags, "algo", "c25519", "comma-separated algorithm name(s), e.g. c25519,c448")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8787", "key-distribution server URL")
	root.PersistentFlags().BoolVar(&useFake, "fake", false, "use an in-process fake transport instead of a real HTTP server")
	_ = root.MarkPersistentFlagRequired("device")

	root.AddCommand(createUserCmd(), updateCmd(), encryptCmd(), decryptCmd(), trustCmd())
	return root.Execute()
}

// parseAlgos splits the --algo flag into a preference-ordered list.
func parseAlgos() ([]domain.AlgoID, error) {
	var out []domain.AlgoID
	for _, name := range strings.Split(algoFlags, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		algo, err := domain.ParseAlgo(name)
		if err != nil {
			return nil, err
		}
		out = append(out, algo)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--algo must name at least one algorithm")
	}
	return out, nil
}
