package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/b1naryth1ef/sshexplorer"
	"github.com/b1naryth1ef/sshexplorer/cache"
	"github.com/b1naryth1ef/sshexplorer/connections"
	"github.com/b1naryth1ef/sshexplorer/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage saved connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved connections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := connections.Open(cfg.ConnectionsFile)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tUSER\tHOST\tPORT")
		for _, c := range store.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Name, c.User, c.Host, c.Port)
		}
		return w.Flush()
	},
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add USER@HOST[:PORT]",
	Short: "Save a connection, replacing one with the same user@host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := transport.ParseTarget(args[0])
		if err != nil {
			return err
		}
		c, err := connections.New(target.User, target.Host, int(target.Port))
		if err != nil {
			return err
		}
		store, err := connections.Open(cfg.ConnectionsFile)
		if err != nil {
			return err
		}
		if err := store.Add(c); err != nil {
			return err
		}
		fmt.Printf("saved %s\n", c.Name)
		return nil
	},
}

var connectionsRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Delete a saved connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := connections.Open(cfg.ConnectionsFile)
		if err != nil {
			return err
		}
		return store.Remove(args[0])
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls TARGET [PATH]",
	Short: "List a remote directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		dir := "/"
		if len(args) == 2 {
			dir = cache.Clean(args[1])
		}

		a := newApp(appOptions{})
		return a.run(cmd.Context(), target, func(ctx context.Context) error {
			if err := a.explorer.Expand(ctx, dir); err != nil {
				return err
			}
			err := a.await(ctx, func(ev appEvent) (bool, error) {
				if errorFor(ev, dir) {
					return false, ev.Err
				}
				return ev.Type == appEventListed && ev.Path == dir, nil
			})
			if err != nil {
				return err
			}

			var rows []cache.Row
			err = a.explorer.View(ctx, func(tree *cache.Tree) {
				if id, err := tree.Resolve(dir, false); err == nil {
					rows = tree.Rows(id)
				}
			})
			if err != nil {
				return err
			}
			return printRows(os.Stdout, rows)
		})
	},
}

func printRows(out io.Writer, rows []cache.Row) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(cache.Headers, "\t")))
	for _, row := range rows {
		name := row.Name
		if row.Glyph == cache.GlyphDirectory {
			name += "/"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, row.Owner, row.Modified, row.Permissions, row.Size)
	}
	return w.Flush()
}

var getCmd = &cobra.Command{
	Use:   "get TARGET REMOTE [LOCAL]",
	Short: "Download a remote file",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		remote := cache.Clean(args[1])
		local := path.Base(remote)
		if len(args) == 3 {
			local = args[2]
		}

		a := newApp(appOptions{progress: true})
		return a.run(cmd.Context(), target, func(ctx context.Context) error {
			parent := path.Dir(remote)
			if err := a.explorer.Refresh(ctx, parent); err != nil {
				return err
			}
			err := a.await(ctx, func(ev appEvent) (bool, error) {
				if errorFor(ev, parent) {
					return false, ev.Err
				}
				return ev.Type == appEventListed && ev.Path == parent, nil
			})
			if err != nil {
				return err
			}

			if err := a.explorer.Open(ctx, remote); err != nil {
				return err
			}

			var received string
			err = a.await(ctx, func(ev appEvent) (bool, error) {
				if errorFor(ev, remote) {
					return false, ev.Err
				}
				if ev.Type == appEventFile && ev.Path == remote {
					received = ev.LocalPath
					return true, nil
				}
				return false, nil
			})
			if err != nil {
				return err
			}
			return moveFile(received, local)
		})
	},
}

// moveFile moves a finished download out of the private cache, copying when
// a rename crosses filesystems.
func moveFile(src, dst string) error {
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

var putCmd = &cobra.Command{
	Use:   "put TARGET LOCAL REMOTE",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		local := args[1]
		remote := cache.Clean(args[2])

		a := newApp(appOptions{progress: true})
		return a.run(cmd.Context(), target, func(ctx context.Context) error {
			if err := a.explorer.Upload(ctx, local, remote); err != nil {
				return err
			}
			return a.await(ctx, func(ev appEvent) (bool, error) {
				if errorFor(ev, remote) {
					return false, ev.Err
				}
				return ev.Type == appEventSent && ev.Path == remote, nil
			})
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve TARGET",
	Short: "Serve the remote tree over a local HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		listen, _ := cmd.Flags().GetString("listen")

		a := newApp(appOptions{})
		return a.run(cmd.Context(), target, func(ctx context.Context) error {
			httpServer := &http.Server{
				Addr:    listen,
				Handler: sshexplorer.NewServer(a.explorer, nil),
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logrus.Infof("serving %s on http://%s", target, listen)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			return g.Wait()
		})
	},
}

func init() {
	connectionsCmd.AddCommand(connectionsListCmd, connectionsAddCmd, connectionsRemoveCmd)
	serveCmd.Flags().String("listen", "localhost:9594", "address to serve the HTTP API on")
}
