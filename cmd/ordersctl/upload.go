package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kevingbb/processorders/config"
	"github.com/kevingbb/processorders/gateway"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/storage"
	"github.com/kevingbb/processorders/storage/objectstore"
)

// openSourcesFunc opens the order file store described by cfg. The returned
// close function releases the connection.
type openSourcesFunc func(ctx context.Context, cfg *config.Config) (storage.Store, func(), error)

// openSources is replaced in tests.
var openSources openSourcesFunc = openObjectStore

func openObjectStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.Sources.Backend != config.BackendObjectStore {
		return nil, nil, NewExitError(ExitCommandError,
			fmt.Sprintf("sources backend %q cannot be reached from the CLI", cfg.Sources.Backend))
	}

	opts := []natsclient.ClientOption{natsclient.WithName("ordersctl")}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}
	client, err := natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "nats client", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "connect to nats", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(ctx)
	}

	store, err := objectstore.NewStore(ctx, client, objectstore.Config{
		Bucket:   cfg.Sources.Bucket,
		Replicas: cfg.Sources.Replicas,
		MaxBytes: cfg.Sources.MaxBytes,
	}, slog.Default())
	if err != nil {
		closeFn()
		return nil, nil, WrapExitError(ExitCommandError, "open object store", err)
	}
	return store, closeFn, nil
}

// UploadResult describes one uploaded file.
type UploadResult struct {
	Object    string `json:"object" yaml:"object"`
	URL       string `json:"url" yaml:"url"`
	Bytes     int    `json:"bytes" yaml:"bytes"`
	Notified  bool   `json:"notified" yaml:"notified"`
	EventID   string `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	Status    int    `json:"status,omitempty" yaml:"status,omitempty"`
	BatchKey  string `json:"batch_key" yaml:"batch_key"`
	FileType  string `json:"file_type" yaml:"file_type"`
	Container string `json:"container" yaml:"container"`
}

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	BlobBase string
	Notify   bool
	NATSURLs []string
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Put order files into the object store",
		Long: `Upload order CSV files into the object store bucket the service reads
sources from. With --notify a BlobCreated event is posted to the service for
each file, which stands in for the storage account event subscription.`,
		Example: `  ordersctl upload -c service.yaml 20240101-OrderHeaderDetails.csv
  ordersctl upload -c service.yaml --notify ./batch/*.csv`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.BlobBase, "blob-base", "", "URL prefix for announced blobs (default https://local/<bucket>)")
	cmd.Flags().StringSliceVar(&opts.NATSURLs, "nats", nil, "NATS server URLs, overriding the service config")
	cmd.Flags().BoolVar(&opts.Notify, "notify", false, "post a BlobCreated event to the service per file")
	return cmd
}

func runUpload(cmd *cobra.Command, opts *UploadOptions, files []string) error {
	cfg, err := loadServiceConfig(opts.Config)
	if err != nil {
		return err
	}
	if len(opts.NATSURLs) > 0 {
		cfg.NATS.URLs = opts.NATSURLs
		cfg.Sources.Backend = config.BackendObjectStore
	}

	base := strings.TrimSuffix(opts.BlobBase, "/")
	if base == "" {
		base = "https://local/" + cfg.Sources.Bucket
	}

	// Validate every name before touching the store.
	refs := make([]message.FileReference, len(files))
	for i, f := range files {
		ref, ok := message.ParseFileReference(base + "/" + filepath.Base(f))
		if !ok || !ref.FileType.Known() {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s is not an order file name", f))
		}
		refs[i] = ref
	}

	var client *adminClient
	if opts.Notify {
		if client, err = newAdminClient(opts.RootOptions); err != nil {
			return err
		}
	}

	ctx, cancel := withTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	store, closeFn, err := openSources(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	results := make([]UploadResult, 0, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return WrapExitError(ExitCommandError, "read "+f, err)
		}
		ref := refs[i]
		name, err := objectstore.ObjectName(ref.FullURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "object name", err)
		}
		if err := store.Put(ctx, name, data); err != nil {
			return WrapExitError(ExitFailure, "upload "+f, err)
		}

		res := UploadResult{
			Object:    name,
			URL:       ref.FullURL,
			Bytes:     len(data),
			BatchKey:  ref.BatchPrefix,
			FileType:  ref.FileType.String(),
			Container: ref.ContainerName,
		}
		if client != nil {
			id, status, err := notify(ctx, client, cfg.Gateway.Path, ref.FullURL, len(data))
			if err != nil {
				return err
			}
			res.Notified, res.EventID, res.Status = true, id, status
		}
		results = append(results, res)
	}

	return writeOutput(cmd.OutOrStdout(), opts.Format, results)
}

// notify posts a one-event BlobCreated batch for url.
func notify(ctx context.Context, client *adminClient, path, url string, size int) (string, int, error) {
	data, err := json.Marshal(gateway.BlobCreatedData{
		API:           gateway.APIPutBlob,
		ContentType:   "text/csv",
		ContentLength: int64(size),
		BlobType:      "BlockBlob",
		URL:           url,
	})
	if err != nil {
		return "", 0, err
	}
	id := uuid.NewString()
	batch := []gateway.Event{{
		ID:          id,
		EventType:   gateway.EventTypeBlobCreated,
		Subject:     url,
		EventTime:   time.Now().UTC(),
		Data:        data,
		DataVersion: "1",
	}}
	body, err := json.Marshal(batch)
	if err != nil {
		return "", 0, err
	}
	status, err := client.do(ctx, http.MethodPost, path, bytes.NewReader(body), nil)
	return id, status, err
}
