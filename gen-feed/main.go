package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/kelseyhightower/envconfig"

	"github.com/mlafeldt/xkcd-vk/archive"
	"github.com/mlafeldt/xkcd-vk/history"
)

// Input is the input passed to the Lambda function.
type Input struct{}

// Output is the output returned by the Lambda function.
type Output struct {
	FeedURL string `json:"feed_url"`
	Items   int    `json:"items"`
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, input Input) (*Output, error) {
	var env struct {
		HistoryTable  string `envconfig:"HISTORY_TABLE" required:"true"`
		ArchiveBucket string `envconfig:"ARCHIVE_BUCKET" required:"true"`
		FeedPath      string `envconfig:"FEED_PATH" default:"feed.xml"`
		FeedLength    int    `envconfig:"FEED_LENGTH" default:"30"`
	}
	if err := envconfig.Process("", &env); err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] env = %+v", env)

	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	return publishFeed(ctx,
		history.NewDynamoStore(sess, env.HistoryTable),
		archive.New(sess, env.ArchiveBucket, ""),
		env.FeedPath, env.FeedLength, time.Now())
}

type feedUploader interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

func publishFeed(ctx context.Context, store history.Store, up feedUploader, feedPath string, feedLength int, now time.Time) (*Output, error) {
	log.Printf("[INFO] Generating feed of the last %d posts ...", feedLength)
	records, err := store.List(ctx, feedLength)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := generateFeed(&buf, records, now); err != nil {
		return nil, err
	}

	log.Printf("[INFO] Uploading feed to %q ...", feedPath)
	feedURL, err := up.Upload(ctx, feedPath, &buf, "text/xml; charset=utf-8")
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Upload completed: %s", feedURL)
	return &Output{FeedURL: feedURL, Items: len(records)}, nil
}
