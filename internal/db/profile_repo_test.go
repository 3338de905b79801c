package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"modelpass/internal/types"
)

func TestProfileRepo_GetStripeCustomerID(t *testing.T) {
	tests := []struct {
		name string
		row  *mockRow
		want string
	}{
		{"linked", &mockRow{scanFn: func(dest ...any) error {
			id := "cus_123"
			*dest[0].(**string) = &id
			return nil
		}}, "cus_123"},
		{"null column", &mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**string) = nil
			return nil
		}}, ""},
		{"no profile", &mockRow{scanErr: pgx.ErrNoRows}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewProfileRepo(db)
			ctx := context.Background()

			db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user-1"}).Return(tt.row)

			got, err := repo.GetStripeCustomerID(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProfileRepo_UserIDByCustomer(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"cus_123"}).Return(&mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user-1"
			return nil
		},
	})
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"cus_unknown"}).Return(&mockRow{scanErr: pgx.ErrNoRows})

	userID, err := repo.UserIDByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	userID, err = repo.UserIDByCustomer(ctx, "cus_unknown")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestProfileRepo_LinkCustomer(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "INSERT INTO profiles", "ON CONFLICT (user_id) DO UPDATE")
	}), []any{"user-1", "cus_123"}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.LinkCustomer(ctx, "user-1", "cus_123"))
	db.AssertExpectations(t)
}

func TestProfileRepo_Errors(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("boom"))
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{scanErr: errors.New("boom")})

	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(repo.SetStripeCustomerID(ctx, "user-1", "cus_1")))
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(repo.UpsertEmail(ctx, "user-1", "a@example.com")))

	_, err := repo.GetStripeCustomerID(ctx, "user-1")
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	_, err = repo.UserIDByCustomer(ctx, "cus_1")
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
