package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imageq/internal/broker"
	"imageq/internal/models"
	"imageq/internal/upload"
)

var resubmitFlags struct {
	objectName        string
	sourceBucket      string
	destinationBucket string
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit",
	Short: "Queue a stored original for processing again",
	Long: `Publish a task for an object that is already in the object store, for
example one found in the drop journal.

Examples:
  imageq resubmit --object-name 1700000000_0123456789ab_cat.png
  imageq resubmit --object-name k.png --source-bucket staging --destination-bucket staging-out`,
	Args: cobra.NoArgs,
	RunE: runResubmit,
}

func init() {
	rootCmd.AddCommand(resubmitCmd)

	resubmitCmd.Flags().StringVar(&resubmitFlags.objectName, "object-name", "", "Key of the original object")
	resubmitCmd.Flags().StringVar(&resubmitFlags.sourceBucket, "source-bucket", "", "Bucket holding the original (default MINIO_BUCKET_ORIGINAL)")
	resubmitCmd.Flags().StringVar(&resubmitFlags.destinationBucket, "destination-bucket", "", "Bucket for the result (default MINIO_BUCKET_PROCESSED)")
	_ = resubmitCmd.MarkFlagRequired("object-name")
}

func runResubmit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig("resubmit")
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher := broker.NewPublisher(newSupervisor(cfg, "imageq-resubmit"), cfg.Broker.Queue)
	defer publisher.Close()
	if err := publisher.Start(ctx); err != nil {
		return err
	}

	svc := upload.New(upload.Config{
		Store:           store,
		Publisher:       publisher,
		OriginalBucket:  cfg.Storage.BucketOriginal,
		ProcessedBucket: cfg.Storage.BucketProcessed,
	})

	env, err := svc.Resubmit(ctx, resubmitFlags.sourceBucket, resubmitFlags.destinationBucket, resubmitFlags.objectName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s/%s -> %s/%s\n",
		env.SourceBucket, env.ObjectKey, env.DestinationBucket, models.ResultKey(env.ObjectKey))
	return nil
}
