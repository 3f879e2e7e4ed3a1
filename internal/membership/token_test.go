package membership

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	u := &User{ID: uuid.New(), Username: "teacher1", Role: RoleTeacher}

	token, expires, err := issuer.Issue(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "teacher1", claims.Username)
	assert.Equal(t, RoleTeacher, claims.Role)

	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
}

func TestTokenRejections(t *testing.T) {
	u := &User{ID: uuid.New(), Username: "student1", Role: RoleStudent}

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewTokenIssuer("one", time.Hour).Issue(u)
		require.NoError(t, err)
		_, err = NewTokenIssuer("two", time.Hour).Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		issuer := NewTokenIssuer("secret", -time.Minute)
		token, _, err := issuer.Issue(u)
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := NewTokenIssuer("secret", time.Hour).Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		issuer := NewTokenIssuer("secret", time.Hour)
		token, _, err := issuer.Issue(&User{ID: uuid.New(), Username: "x", Role: "janitor"})
		require.NoError(t, err)
		_, err = issuer.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
