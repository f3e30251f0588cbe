package bank

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
	"github.com/qdrant/go-client/qdrant"
	"gorm.io/gorm"
)

const collectionName = "visual_tokens"

// Store is the Postgres-backed Bank. Token rows are the source of truth;
// qdrant carries a flattened descriptor vector per token so large banks can
// be pre-filtered before exact matching.
type Store struct {
	db     *gorm.DB
	qdrant *qdrant.Client
	dims   int
	log    *slog.Logger
}

func NewStore(db *gorm.DB, qdrantClient *qdrant.Client, clusterCount int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		qdrant: qdrantClient,
		dims:   VectorDims(clusterCount),
		log:    logger.With("component", "bank-store"),
	}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&token.VisualToken{})
}

// EnsureCollection creates the qdrant collection when it does not exist yet.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if s.qdrant == nil {
		return nil
	}

	exists, err := s.qdrant.CollectionExists(ctx, collectionName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return s.qdrant.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dims),
			Distance: qdrant.Distance_Euclid,
		}),
	})
}

func (s *Store) Register(ctx context.Context, tenantID string, tok *token.VisualToken) error {
	if tok.TenantID != tenantID {
		return &TenantMismatchError{BankTenant: tenantID, TokenTenant: tok.TenantID}
	}

	if err := s.db.WithContext(ctx).Create(tok).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrConflict
		}
		return err
	}

	// The token row is the source of truth; matching falls back to a full
	// scan when the index misses a point. Index write failures are logged,
	// never returned, so a landed registration is not re-run.
	if err := s.upsertVector(ctx, tok); err != nil {
		s.log.Warn("vector index upsert failed", "error", err, "token_id", tok.ID)
	}
	return nil
}

func (s *Store) TokensFor(ctx context.Context, tenantID string) ([]*token.VisualToken, error) {
	var tokens []*token.VisualToken
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

func (s *Store) TokensForProduct(ctx context.Context, tenantID, productID string) ([]*token.VisualToken, error) {
	var tokens []*token.VisualToken
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

// CountFor reports the bank size for a tenant.
func (s *Store) CountFor(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&token.VisualToken{}).
		Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, err
}

// SearchByDescriptor pre-filters a tenant's bank through the qdrant index
// and returns the nearest tokens. Results are candidates only; callers
// rescore them exactly with the matcher.
func (s *Store) SearchByDescriptor(ctx context.Context, tenantID string, desc *descriptor.ColorDescriptor, limit int) ([]*token.VisualToken, error) {
	if s.qdrant == nil {
		return nil, errors.New("qdrant client not configured")
	}

	results, err := s.qdrant.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName,
		Query:          qdrant.NewQuery(Vectorize(desc.Canonical())...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
			},
		},
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if id := r.Payload["token_id"].GetStringValue(); id != "" {
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return []*token.VisualToken{}, nil
	}

	var tokens []*token.VisualToken
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&tokens).Error
	return tokens, err
}

func (s *Store) upsertVector(ctx context.Context, tok *token.VisualToken) error {
	if s.qdrant == nil {
		return nil
	}

	pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(tok.ID)).String()

	_, err := s.qdrant.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID),
				Vectors: qdrant.NewVectors(Vectorize(&tok.Descriptor.ColorDescriptor)...),
				Payload: qdrant.NewValueMap(map[string]any{
					"token_id":   tok.ID,
					"tenant_id":  tok.TenantID,
					"product_id": tok.ProductID,
				}),
			},
		},
	})
	return err
}
