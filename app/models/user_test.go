package models

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	require.NotEmpty(t, key)

	assert.Len(t, key, 64) // 32 random bytes, hex
	assert.Equal(t, HashAPIKey(key), hash)
	assert.NotEqual(t, key, hash)

	key2, hash2, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, key2)
	assert.NotEqual(t, hash, hash2)
}

func TestCreateUserCreatesFreeLedger(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &SubscriptionLedger{}, &PlanHistoryEntry{}))

	user, err := CreateUser(db, "Asha Patel", "asha@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	assert.Equal(t, ROLE_USER, user.Role)
	assert.True(t, CheckPasswordHash("s3cret-pass", user.Password))
	assert.False(t, CheckPasswordHash("wrong", user.Password))

	var ledger SubscriptionLedger
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&ledger).Error)
	assert.Equal(t, "free", ledger.Plan)
	assert.False(t, ledger.IsPaymentVerified)

	// Invalid input never leaves partial state behind.
	_, err = CreateUser(db, "X", "not-an-email", "s3cret-pass")
	require.Error(t, err)
	var users int64
	require.NoError(t, db.Model(&User{}).Count(&users).Error)
	assert.EqualValues(t, 1, users)
}
