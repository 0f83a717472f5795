package product

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decrementSQL = `UPDATE products SET qty = qty - $2 WHERE id = $1 AND qty >= $2`

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mockDB.ExpectationsWereMet(), "expectations were not met")
		mockDB.Close()
	})
	return NewRepository(mockDB), mockDB
}

func TestDecrementStock_Applied(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	mockDB.ExpectExec(regexp.QuoteMeta(decrementSQL)).
		WithArgs(int64(1), int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.DecrementStock(context.Background(), 1, 6)

	require.NoError(t, err)
	assert.True(t, applied)
}

func TestDecrementStock_InsufficientStock(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	mockDB.ExpectExec(regexp.QuoteMeta(decrementSQL)).
		WithArgs(int64(2), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := repo.DecrementStock(context.Background(), 2, 5)

	require.NoError(t, err)
	assert.False(t, applied)
}

func TestDecrementStock_DBError(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	dbError := errors.New("database connection error")
	mockDB.ExpectExec(regexp.QuoteMeta(decrementSQL)).
		WithArgs(int64(2), int64(5)).
		WillReturnError(dbError)

	applied, err := repo.DecrementStock(context.Background(), 2, 5)

	assert.ErrorIs(t, err, dbError)
	assert.False(t, applied)
}

func TestGetProductByID_Success(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "name", "price", "qty", "created_at"}).
		AddRow(int64(1), "Keyboard", int64(500), int64(10), createdAt)
	mockDB.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, price, qty, created_at FROM products WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	p, err := repo.GetProductByID(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, &Product{ID: 1, Name: "Keyboard", Price: 500, Qty: 10, CreatedAt: createdAt}, p)
}

func TestGetProductByID_NotFound(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	mockDB.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, price, qty, created_at FROM products`)).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	p, err := repo.GetProductByID(context.Background(), 99)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, p)
}

func TestGetProductByID_DBError(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	dbError := errors.New("query execution failed")
	mockDB.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, price, qty, created_at FROM products`)).
		WithArgs(int64(1)).
		WillReturnError(dbError)

	p, err := repo.GetProductByID(context.Background(), 1)

	assert.ErrorIs(t, err, dbError)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Nil(t, p)
}

func TestCreateProduct(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	createdAt := time.Now().UTC()
	mockDB.ExpectQuery(regexp.QuoteMeta(`INSERT INTO products (name, price, qty) VALUES ($1, $2, $3) RETURNING id, created_at`)).
		WithArgs("Mouse", int64(150), int64(30)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), createdAt))

	p, err := repo.CreateProduct(context.Background(), &Product{Name: "Mouse", Price: 150, Qty: 30})

	require.NoError(t, err)
	assert.Equal(t, int64(12), p.ID)
	assert.Equal(t, createdAt, p.CreatedAt)
}

func TestEnsureSchema(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	mockDB.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS products`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
}
