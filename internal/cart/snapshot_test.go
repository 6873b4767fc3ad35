package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

func TestFindByUserMissingCart(t *testing.T) {
	conn := dbtest.Open(t)
	reader := NewSnapshotReader(conn)

	_, err := reader.FindByUser(context.Background(), uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestFindByUserMergesDuplicateProducts(t *testing.T) {
	conn := dbtest.Open(t)
	user := dbtest.MustCreateUser(t, conn)
	a, b := uuid.New(), uuid.New()
	dbtest.MustCreateCart(t, conn, user.ID,
		dbtest.CartLine{ProductID: a, Quantity: 1},
		dbtest.CartLine{ProductID: b, Quantity: 2},
		dbtest.CartLine{ProductID: a, Quantity: 3},
		dbtest.CartLine{ProductID: uuid.New(), Quantity: 0},
	)

	snapshot, err := NewSnapshotReader(conn).FindByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, snapshot.IsEmpty())
	require.Len(t, snapshot.Lines, 2)

	byProduct := map[uuid.UUID]int{}
	for _, line := range snapshot.Lines {
		byProduct[line.ProductID] = line.Quantity
	}
	require.Equal(t, 4, byProduct[a])
	require.Equal(t, 2, byProduct[b])
}

func TestFindByUserEmptyCart(t *testing.T) {
	conn := dbtest.Open(t)
	user := dbtest.MustCreateUser(t, conn)
	dbtest.MustCreateCart(t, conn, user.ID)

	snapshot, err := NewSnapshotReader(conn).FindByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, snapshot.IsEmpty())
}
