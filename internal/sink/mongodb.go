package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cwsf/cwsf/internal/config"
)

const mongoDatabase = "cwsf"

// MongoDBSink writes records as documents into a collection named after
// the site.
type MongoDBSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	site       string
	mode       config.OutputMode
	modeDone   bool
}

// NewMongoDBSink treats cfg.Output.Destination as a mongodb:// connection
// URI and writes into the cwsf database, in a collection named by
// sanitizedTableName(site_name).
func NewMongoDBSink(cfg *config.Config) (Sink, error) {
	if cfg.Output.Destination == "" {
		return nil, fmt.Errorf("output destination (connection URI) is required for the mongodb sink")
	}
	collectionName, err := sanitizedTableName(cfg.SiteName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Output.Destination))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb sink: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb sink: %w", err)
	}

	collection := client.Database(mongoDatabase).Collection(collectionName)
	return &MongoDBSink{client: client, collection: collection, site: cfg.SiteName, mode: cfg.Output.Mode}, nil
}

func (s *MongoDBSink) Write(records []map[string]interface{}) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.mode == config.OutputModeOverwrite && !s.modeDone {
		if _, err := s.collection.DeleteMany(ctx, bson.M{"site_name": s.site}); err != nil {
			return fmt.Errorf("clear existing documents for overwrite: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	docs := make([]interface{}, 0, len(records))
	for _, rec := range records {
		doc := bson.M{
			"site_name":        s.site,
			"source_url":       rec["source_url"],
			"scrape_timestamp": now,
		}
		for k, v := range rec {
			if k == "source_url" {
				continue
			}
			doc[k] = v
		}
		docs = append(docs, doc)
	}

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert documents into %s: %w", s.collection.Name(), err)
	}
	s.modeDone = true
	return nil
}

func (s *MongoDBSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
