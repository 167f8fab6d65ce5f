package config

import (
	"context"
	"errors"
	"os"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// NewPubSubClient returns a Pub/Sub client for projectID.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is empty (set PUBSUB_PROJECT_ID)")
	}
	var opts []option.ClientOption
	if creds := os.Getenv("PUBSUB_CREDENTIALS_JSON"); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return pubsub.NewClient(ctx, projectID, opts...)
}
