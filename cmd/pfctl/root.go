package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectfiles/internal/bootstrap"
	"github.com/fruitsalade/projectfiles/internal/config"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/uploads"
	"github.com/fruitsalade/projectfiles/internal/vfs"
)

// app holds the stores opened for one invocation.
type app struct {
	project string
	user    string
	verbose bool

	store   metadata.Store
	backend storage.Backend
	svc     *vfs.Service
	uploads *uploads.Manager
}

func (a *app) ctx(cmd *cobra.Command) context.Context {
	return vfs.WithActor(cmd.Context(), a.user)
}

func (a *app) open(cmd *cobra.Command) error {
	if a.project == "" {
		return errors.New("--project is required")
	}

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.store, err = bootstrap.OpenStore(cfg); err != nil {
		return err
	}
	if a.backend, err = bootstrap.OpenBackend(cmd.Context(), cfg); err != nil {
		a.store.Close()
		return err
	}
	a.svc = vfs.New(a.store, a.backend)
	a.uploads = uploads.NewManager(a.store, a.backend, nil, uploads.Config{MaxSize: cfg.MaxUploadSize})
	return nil
}

func (a *app) close() {
	if a.backend != nil {
		a.backend.Close()
		a.backend = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	logging.Sync()
}

// run adapts fn to a cobra RunE and closes the stores afterwards, also when
// fn fails.
func (a *app) run(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close()
		return fn(a.ctx(cmd), cmd, args)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pfctl",
		Short:         "projectfiles operator tool",
		Long:          `Inspect and change the virtual folder tree of a project directly against the configured stores.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.project, "project", "p", "", "project id")
	flags.StringVar(&a.user, "user", "pfctl", "actor recorded on uploads and folders")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newLsCmd(a),
		newMkdirCmd(a),
		newMvCmd(a),
		newRenameFolderCmd(a),
		newRmFolderCmd(a),
		newRenameFileCmd(a),
		newRmFileCmd(a),
		newExpandCmd(a),
		newPutCmd(a),
	)
	return root
}
