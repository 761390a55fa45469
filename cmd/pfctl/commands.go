package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectfiles/internal/uploads"
	"github.com/fruitsalade/projectfiles/internal/vfs"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

func printBatch(w io.Writer, verb string, r vfs.BatchResult) error {
	fmt.Fprintf(w, "%s: %d succeeded, %d failed\n", verb, r.Succeeded, len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  %s: %s\n", f.Item, f.Reason)
	}
	if len(r.Failed) > 0 {
		return fmt.Errorf("%s: %d item(s) failed", verb, len(r.Failed))
	}
	return nil
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "list one folder level",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			listing, err := a.svc.ListDirectory(ctx, a.project, path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range listing.Folders {
				fmt.Fprintf(tw, "%s/\t\t\n", f.Name)
			}
			for _, f := range listing.Files {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Size, f.ID)
			}
			return tw.Flush()
		}),
	}
}

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			p := vpath.Normalize(args[0])
			if err := a.svc.CreateFolder(ctx, a.project, vpath.Parent(p), vpath.Base(p)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", p)
			return nil
		}),
	}
}

func newMvCmd(a *app) *cobra.Command {
	var (
		files   []string
		folders []string
	)
	cmd := &cobra.Command{
		Use:   "mv --to <folder> [--file id]... [--folder path]...",
		Short: "move files and folders into a folder",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			dest, _ := cmd.Flags().GetString("to")
			result, err := a.svc.MoveEntries(ctx, a.project, vfs.MoveRequest{
				FileIDs:     files,
				FolderPaths: folders,
				Destination: dest,
			})
			if err != nil {
				return err
			}
			return printBatch(cmd.OutOrStdout(), "move", result)
		}),
	}
	cmd.Flags().String("to", vfs.RootDestination, "destination folder ("+vfs.RootDestination+" for the root)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "file id to move")
	cmd.Flags().StringSliceVar(&folders, "folder", nil, "folder path to move")
	return cmd
}

func newRenameFolderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-folder <path> <new-name>",
		Short: "rename a folder and everything below it",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			result, err := a.svc.RenameFolder(ctx, a.project, args[0], args[1])
			if err != nil {
				return err
			}
			return printBatch(cmd.OutOrStdout(), "rename", result)
		}),
	}
}

func newRmFolderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-folder <path>",
		Short: "soft-delete a folder and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			result, err := a.svc.DeleteFolder(ctx, a.project, args[0])
			if err != nil {
				return err
			}
			return printBatch(cmd.OutOrStdout(), "delete", result)
		}),
	}
}

func newRenameFileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-file <id> <new-name>",
		Short: "rename a file in place",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			rec, err := a.svc.RenameFile(ctx, a.project, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed to %s\n", rec.VirtualPath)
			return nil
		}),
	}
}

func newRmFileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-file <id>",
		Short: "soft-delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if err := a.svc.DeleteFile(ctx, a.project, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
}

func newExpandCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <path>",
		Short: "print the ids of every file below a folder",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			ids, err := a.svc.ExpandFolderSelection(ctx, a.project, args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> [folder]",
		Short: "upload a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			folder := ""
			if len(args) == 2 {
				folder = args[1]
			}
			rec, err := a.uploads.Upload(ctx, uploads.Request{
				ProjectID:  a.project,
				FolderPath: folder,
				Name:       filepath.Base(args[0]),
				Size:       info.Size(),
				Body:       f,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.ID, rec.VirtualPath)
			return nil
		}),
	}
}
