// Command summaryhandler is the Lambda entry point. It serves both S3
// transcription notifications and API Gateway summary queries.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"transcript-summaries/pkg/config"
	"transcript-summaries/pkg/db"
	"transcript-summaries/pkg/handler"
	"transcript-summaries/pkg/logging"
	"transcript-summaries/pkg/objectstore"
	"transcript-summaries/pkg/summarizer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	objects := objectstore.NewS3Reader(s3.NewFromConfig(awsCfg), cfg.AWS.ObjectTimeout)
	tagger := summarizer.NewComprehendTagger(comprehend.NewFromConfig(awsCfg), cfg.Summary.LanguageCode, cfg.AWS.SyntaxTimeout)

	// The connection is opened lazily by the first invocation and then
	// reused for the life of the container.
	manager := db.NewManager(cfg.Mongo, logger)
	store := db.NewSummaryStore(manager, cfg.Mongo.OperationTimeout, logger)

	h := handler.New(store, objects, summarizer.New(tagger), logger)

	logger.Info("summary handler ready", "database", cfg.Mongo.Database, "collection", cfg.Mongo.Collection)
	lambda.Start(h.Handle)
}
