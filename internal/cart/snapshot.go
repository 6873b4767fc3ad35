package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// Line is one (product, quantity) pair read from the buyer's cart.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// Snapshot is the cart as it stood when checkout read it.
type Snapshot struct {
	CartID uuid.UUID
	UserID uuid.UUID
	Lines  []Line
}

func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// SnapshotReader reads carts. The cart service owns every write; checkout
// never clears or marks a cart consumed.
type SnapshotReader interface {
	WithTx(tx *gorm.DB) SnapshotReader
	FindByUser(ctx context.Context, userID uuid.UUID) (*Snapshot, error)
}

type snapshotReader struct {
	db *gorm.DB
}

// NewSnapshotReader binds the reader to the provided GORM handle.
func NewSnapshotReader(db *gorm.DB) SnapshotReader {
	return &snapshotReader{db: db}
}

func (r *snapshotReader) WithTx(tx *gorm.DB) SnapshotReader {
	if tx == nil {
		return r
	}
	return &snapshotReader{db: tx}
}

// FindByUser returns NotFound when the user has no cart. Entries for the same
// product are merged so each product appears once.
func (r *snapshotReader) FindByUser(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	var record models.Cart
	err := r.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("user_id = ?", userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	snapshot := &Snapshot{CartID: record.ID, UserID: record.UserID}
	index := map[uuid.UUID]int{}
	for _, entry := range record.Entries {
		if entry.Quantity <= 0 {
			continue
		}
		if i, ok := index[entry.ProductID]; ok {
			snapshot.Lines[i].Quantity += entry.Quantity
			continue
		}
		index[entry.ProductID] = len(snapshot.Lines)
		snapshot.Lines = append(snapshot.Lines, Line{ProductID: entry.ProductID, Quantity: entry.Quantity})
	}
	return snapshot, nil
}
