package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/remotestore"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Manage buckets",
}

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buckets",
	Long: `List the buckets visible to the current credentials.

Results are served from the client cache when fresh.

Examples:
  # List buckets
  s3console buckets list

  # List with JSON output
  s3console buckets list --json`,
	Args: cobra.NoArgs,
	RunE: runBucketsList,
}

var bucketsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a bucket",
	Long: `Create a bucket, optionally with versioning, encryption or object
lock enabled from the start.

Examples:
  # Plain bucket
  s3console buckets create docs

  # Versioned and encrypted
  s3console buckets create docs --versioning --encryption`,
	Args: cobra.ExactArgs(1),
	RunE: runBucketsCreate,
}

var bucketsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an empty bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runBucketsDelete,
}

var bucketsVersioningCmd = &cobra.Command{
	Use:   "versioning <name> <on|off>",
	Short: "Toggle bucket versioning",
	Args:  cobra.ExactArgs(2),
	RunE:  runBucketsVersioning,
}

var bucketsEncryptionCmd = &cobra.Command{
	Use:   "encryption <name> <on|off>",
	Short: "Toggle bucket default encryption",
	Args:  cobra.ExactArgs(2),
	RunE:  runBucketsEncryption,
}

var bucketsConfigCmd = &cobra.Command{
	Use:   "config <set|delete> <bucket> <kind> [file]",
	Short: "Manage bucket configuration documents",
	Long: `Set or delete a bucket configuration document.

Supported kinds: policy, acl, cors, website, lifecycle, object-lock.
The set form reads the JSON document from the given file, or stdin
when the file argument is "-".

Examples:
  # Apply a bucket policy
  s3console buckets config set docs policy ./policy.json

  # Remove the CORS configuration
  s3console buckets config delete docs cors`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runBucketsConfig,
}

func init() {
	rootCmd.AddCommand(bucketsCmd)
	bucketsCmd.AddCommand(bucketsListCmd)
	bucketsCmd.AddCommand(bucketsCreateCmd)
	bucketsCmd.AddCommand(bucketsDeleteCmd)
	bucketsCmd.AddCommand(bucketsVersioningCmd)
	bucketsCmd.AddCommand(bucketsEncryptionCmd)
	bucketsCmd.AddCommand(bucketsConfigCmd)

	bucketsListCmd.Flags().Bool("json", false, "Output as JSON")

	bucketsCreateCmd.Flags().Bool("versioning", false, "Enable versioning")
	bucketsCreateCmd.Flags().Bool("encryption", false, "Enable default encryption")
	bucketsCreateCmd.Flags().Bool("object-lock", false, "Enable object lock")
}

func runBucketsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var buckets []remotestore.Bucket
	err = s.tracker.Run(ctx, history.OpBucketList, "", "", func(ctx context.Context) error {
		var opErr error
		buckets, opErr = s.store.GetBuckets(ctx)
		return opErr
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buckets)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tREGION\tCREATED")
	for _, b := range buckets {
		created := "-"
		if !b.CreatedAt.IsZero() {
			created = b.CreatedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, b.Region, created)
	}
	return w.Flush()
}

func runBucketsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]
	versioning, _ := cmd.Flags().GetBool("versioning")
	encryption, _ := cmd.Flags().GetBool("encryption")
	objectLock, _ := cmd.Flags().GetBool("object-lock")

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.tracker.Run(ctx, history.OpBucketCreate, name, "", func(ctx context.Context) error {
		return s.store.CreateBucket(ctx, remotestore.CreateBucketInput{
			Name:              name,
			VersioningEnabled: versioning,
			EncryptionEnabled: encryption,
			ObjectLockEnabled: objectLock,
		})
	})
	if err != nil {
		return err
	}

	fmt.Printf("Bucket %s created\n", name)
	return nil
}

func runBucketsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.tracker.Run(ctx, history.OpBucketDelete, name, "", func(ctx context.Context) error {
		return s.store.DeleteBucket(ctx, name)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Bucket %s deleted\n", name)
	return nil
}

func runBucketsVersioning(cmd *cobra.Command, args []string) error {
	return runBucketToggle(cmd, args, history.OpBucketVersioning, func(s *session) func(context.Context, string, bool) error {
		return s.store.SetVersioning
	})
}

func runBucketsEncryption(cmd *cobra.Command, args []string) error {
	return runBucketToggle(cmd, args, history.OpBucketEncryption, func(s *session) func(context.Context, string, bool) error {
		return s.store.SetEncryption
	})
}

func runBucketToggle(cmd *cobra.Command, args []string, op history.OperationType, pick func(*session) func(context.Context, string, bool) error) error {
	ctx := cmd.Context()
	name := args[0]

	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("expected on or off, got %q", args[1])
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.tracker.Run(ctx, op, name, "", func(ctx context.Context) error {
		return pick(s)(ctx, name, enabled)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Bucket %s updated\n", name)
	return nil
}

// configKinds maps CLI kind names to store config kinds and history ops.
var configKinds = map[string]struct {
	kind  remotestore.ConfigKind
	setOp history.OperationType
	delOp history.OperationType
}{
	"policy":      {remotestore.ConfigPolicy, history.OpBucketPolicyPut, history.OpBucketPolicyDel},
	"acl":         {remotestore.ConfigACL, history.OpBucketACLPut, history.OpBucketACLDel},
	"cors":        {remotestore.ConfigCORS, history.OpBucketCORSPut, history.OpBucketCORSDel},
	"website":     {remotestore.ConfigWebsite, history.OpBucketWebsitePut, history.OpBucketWebsiteDel},
	"lifecycle":   {remotestore.ConfigLifecycle, history.OpBucketLifecycle, history.OpBucketLifecycle},
	"object-lock": {remotestore.ConfigObjectLock, history.OpBucketObjectLock, history.OpBucketObjectLock},
}

func runBucketsConfig(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	action, bucket, kindName := args[0], args[1], args[2]

	entry, ok := configKinds[kindName]
	if !ok {
		return fmt.Errorf("unknown config kind %q", kindName)
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	switch action {
	case "set":
		if len(args) != 4 {
			return fmt.Errorf("set requires a document file argument")
		}
		doc, err := readDocument(args[3])
		if err != nil {
			return err
		}
		err = s.tracker.Run(ctx, entry.setOp, bucket, "", func(ctx context.Context) error {
			return s.store.PutBucketConfig(ctx, bucket, entry.kind, doc)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Bucket %s %s configuration applied\n", bucket, kindName)
		return nil

	case "delete":
		err = s.tracker.Run(ctx, entry.delOp, bucket, "", func(ctx context.Context) error {
			return s.store.DeleteBucketConfig(ctx, bucket, entry.kind)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Bucket %s %s configuration removed\n", bucket, kindName)
		return nil
	}

	return fmt.Errorf("unknown action %q, expected set or delete", action)
}

func readDocument(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	return data, nil
}
