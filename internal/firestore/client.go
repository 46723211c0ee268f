package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var ErrInvalidEntry = errors.New("invalid history entry")

// Client is the search-history store. Rows are insert-only.
type Client struct {
	client *firestore.Client
	cfg    config.FirestoreConfig
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	if cfg.HistoryCollection == "" {
		cfg.HistoryCollection = "search_history"
	}

	logger.Info("firestore client connected",
		zap.String("project", cfg.ProjectID),
		zap.String("collection", cfg.HistoryCollection),
	)

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Record inserts one history row.
func (c *Client) Record(ctx context.Context, entry models.SearchHistoryEntry) error {
	if err := validateEntry(&entry); err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "firestore.record_history",
		attribute.String("collection", c.cfg.HistoryCollection),
		attribute.String("service_type", entry.ServiceType),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if _, _, err := c.client.Collection(c.cfg.HistoryCollection).Add(ctx, entry); err != nil {
		span.RecordError(err)
		return fmt.Errorf("firestore add history row: %w", err)
	}
	return nil
}

// Recent returns the user's newest entries first.
func (c *Client) Recent(ctx context.Context, userID string, limit int) ([]models.SearchHistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidEntry)
	}
	limit = clampLimit(limit)

	ctx, span := observability.StartSpan(ctx, "firestore.recent_history",
		attribute.String("collection", c.cfg.HistoryCollection),
		attribute.Int("limit", limit),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	iter := c.client.Collection(c.cfg.HistoryCollection).
		Where("user_id", "==", userID).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	entries := make([]models.SearchHistoryEntry, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query history: %w", err)
		}
		var e models.SearchHistoryEntry
		if err := doc.DataTo(&e); err != nil {
			c.logger.Warn("skipping malformed history row", zap.String("doc_id", doc.Ref.ID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func validateEntry(e *models.SearchHistoryEntry) error {
	e.UserID = strings.TrimSpace(e.UserID)
	e.Query = strings.TrimSpace(e.Query)
	if e.UserID == "" || e.Query == "" {
		return fmt.Errorf("%w: user id and query required", ErrInvalidEntry)
	}
	if e.ServiceType == "" {
		e.ServiceType = models.CategoryGeneral.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultHistoryLimit
	case n > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return n
	}
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := c.client.Collection(c.cfg.HistoryCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty; Firestore is reachable.
	if err != nil && err != iterator.Done {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
