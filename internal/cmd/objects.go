package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/match"
	"github.com/lakefront/s3console/pkg/remotestore"
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Manage objects",
}

var objectsListCmd = &cobra.Command{
	Use:   "list <bucket>",
	Short: "List objects at a prefix",
	Long: `List the objects and folders directly under a prefix.

Glob patterns and metadata filters narrow the listing client-side after
the page is fetched; the prefix itself narrows it server-side.

Examples:
  # Top level of a bucket
  s3console objects list docs

  # PDFs anywhere under reports/
  s3console objects list docs --prefix reports/ --include "**/*.pdf"

  # Large recent files
  s3console objects list docs --min-size 10MB --after 2026-01-01`,
	Args: cobra.ExactArgs(1),
	RunE: runObjectsList,
}

var objectsPutCmd = &cobra.Command{
	Use:   "put <bucket> <file> [key]",
	Short: "Upload a file",
	Long: `Upload a local file. The key defaults to the file's base name;
pass a key ending in / to upload into that folder.

Examples:
  s3console objects put docs ./report.pdf
  s3console objects put docs ./report.pdf archive/2026/report.pdf`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runObjectsPut,
}

var objectsDeleteCmd = &cobra.Command{
	Use:   "delete <bucket> <key>",
	Short: "Delete an object",
	Args:  cobra.ExactArgs(2),
	RunE:  runObjectsDelete,
}

var objectsMkdirCmd = &cobra.Command{
	Use:   "mkdir <bucket> <path>",
	Short: "Create an empty folder marker",
	Args:  cobra.ExactArgs(2),
	RunE:  runObjectsMkdir,
}

func init() {
	rootCmd.AddCommand(objectsCmd)
	objectsCmd.AddCommand(objectsListCmd)
	objectsCmd.AddCommand(objectsPutCmd)
	objectsCmd.AddCommand(objectsDeleteCmd)
	objectsCmd.AddCommand(objectsMkdirCmd)

	f := objectsListCmd.Flags()
	f.String("prefix", "", "Key prefix to list under")
	f.Bool("json", false, "Output as JSON")
	f.StringSlice("include", nil, "Glob patterns to include (repeatable)")
	f.StringSlice("exclude", nil, "Glob patterns to exclude (repeatable)")
	f.Bool("hidden", false, "Include dotfiles")
	f.String("min-size", "", "Minimum object size (e.g. 10MB)")
	f.String("max-size", "", "Maximum object size")
	f.String("after", "", "Only objects modified on or after (RFC3339 or YYYY-MM-DD)")
	f.String("before", "", "Only objects modified before")
	f.String("key-regex", "", "Only keys matching the regular expression")
}

func runObjectsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket := args[0]
	prefix, _ := cmd.Flags().GetString("prefix")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	matcher, filter, err := listFilters(cmd)
	if err != nil {
		return err
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var listing *remotestore.ObjectListing
	err = s.tracker.Run(ctx, history.OpObjectList, bucket, prefix, func(ctx context.Context) error {
		var opErr error
		listing, opErr = s.store.GetObjects(ctx, bucket, prefix)
		return opErr
	})
	if err != nil {
		return err
	}

	objects := listing.Objects
	if matcher != nil || filter != nil {
		objects = objects[:0:0]
		for _, o := range listing.Objects {
			if matcher != nil && !matcher.Match(o.Key) {
				continue
			}
			if filter != nil && !filter.Match(o) {
				continue
			}
			objects = append(objects, o)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(remotestore.ObjectListing{Objects: objects, Prefixes: listing.Prefixes})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
	for _, p := range listing.Prefixes {
		_, _ = fmt.Fprintf(w, "%s\t-\t-\n", p)
	}
	for _, o := range objects {
		modified := "-"
		if !o.LastModified.IsZero() {
			modified = o.LastModified.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", o.Key, match.FormatSize(o.Size), modified)
	}
	return w.Flush()
}

// listFilters builds the client-side matcher and metadata filter from flags.
// Both are nil when no filtering flags were given.
func listFilters(cmd *cobra.Command) (*match.Matcher, *match.CompositeFilter, error) {
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	hidden, _ := cmd.Flags().GetBool("hidden")

	var matcher *match.Matcher
	if len(include) > 0 || len(exclude) > 0 || hidden {
		m, err := match.New(match.Config{
			Includes:      include,
			Excludes:      exclude,
			IncludeHidden: hidden,
		})
		if err != nil {
			return nil, nil, err
		}
		matcher = m
	}

	minSize, _ := cmd.Flags().GetString("min-size")
	maxSize, _ := cmd.Flags().GetString("max-size")
	after, _ := cmd.Flags().GetString("after")
	before, _ := cmd.Flags().GetString("before")
	keyRegex, _ := cmd.Flags().GetString("key-regex")

	filter, err := match.NewFilterFromConfig(&match.FilterConfig{
		MinSize:  minSize,
		MaxSize:  maxSize,
		After:    after,
		Before:   before,
		KeyRegex: keyRegex,
	})
	if err != nil {
		return nil, nil, err
	}
	return matcher, filter, nil
}

func runObjectsPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket, localPath := args[0], args[1]

	key := filepath.Base(localPath)
	if len(args) == 3 {
		key = args[2]
		if key == "" {
			return fmt.Errorf("empty object key")
		}
		if key[len(key)-1] == '/' {
			key += filepath.Base(localPath)
		}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id := s.tracker.Begin(ctx, history.OpObjectUpload, bucket, key)
	body := newProgressReader(file, info.Size(), func(percent int) {
		s.tracker.Progress(ctx, id, percent)
	})

	_, uploadErr := s.store.Upload(ctx, remotestore.UploadInput{
		Bucket:      bucket,
		Key:         key,
		Body:        body,
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
	}, id)
	s.tracker.Finish(ctx, id, uploadErr)
	if uploadErr != nil {
		return uploadErr
	}

	fmt.Printf("Uploaded %s to %s/%s (%s)\n", localPath, bucket, key, match.FormatSize(info.Size()))
	return nil
}

func runObjectsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket, key := args[0], args[1]

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.tracker.Run(ctx, history.OpObjectDelete, bucket, key, func(ctx context.Context) error {
		return s.store.DeleteObject(ctx, bucket, key)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %s/%s\n", bucket, key)
	return nil
}

func runObjectsMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket, path := args[0], args[1]

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.tracker.Run(ctx, history.OpFolderCreate, bucket, path, func(ctx context.Context) error {
		return s.store.CreateFolder(ctx, bucket, path)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created folder %s/%s\n", bucket, path)
	return nil
}
