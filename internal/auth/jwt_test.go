package auth

import (
	"testing"
	"time"

	"auction-engine/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	InitJWT("test-secret", time.Hour)

	user := &models.User{
		Username: "alice",
		Email:    "alice@test.local",
		Role:     models.RoleSeller,
	}
	user.ID = 42

	token, err := GenerateToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, uint(42), claims.UserID)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "alice@test.local", claims.Email)
	require.Equal(t, models.RoleSeller, claims.Role)
}

func TestValidateTokenExpired(t *testing.T) {
	InitJWT("test-secret", time.Hour)

	claims := &Claims{
		UserID:   7,
		Username: "bob",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ValidateToken(signed)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenTampered(t *testing.T) {
	InitJWT("test-secret", time.Hour)

	claims := &Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = ValidateToken(signed)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = ValidateToken("not-a-token")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestFailureThrottleLocksOut(t *testing.T) {
	ft := NewFailureThrottle(3, 15*time.Minute)

	require.True(t, ft.Allow("10.0.0.1"))
	ft.RecordFailure("10.0.0.1")
	ft.RecordFailure("10.0.0.1")
	require.True(t, ft.Allow("10.0.0.1"))
	ft.RecordFailure("10.0.0.1")
	require.False(t, ft.Allow("10.0.0.1"))

	// other addresses are unaffected
	require.True(t, ft.Allow("10.0.0.2"))

	ft.RecordSuccess("10.0.0.1")
	require.True(t, ft.Allow("10.0.0.1"))
}

func TestFailureThrottleWindowExpires(t *testing.T) {
	ft := NewFailureThrottle(2, 50*time.Millisecond)

	ft.RecordFailure("10.0.0.3")
	ft.RecordFailure("10.0.0.3")
	require.False(t, ft.Allow("10.0.0.3"))

	time.Sleep(60 * time.Millisecond)
	require.True(t, ft.Allow("10.0.0.3"))
}

func TestFailureThrottleStop(t *testing.T) {
	ft := NewFailureThrottle(2, 50*time.Millisecond)

	ft.RecordFailure("10.0.0.4")
	ft.Stop()
	ft.Stop() // second stop is a no-op

	// the throttle keeps enforcing after the cleanup goroutine exits
	ft.RecordFailure("10.0.0.4")
	require.False(t, ft.Allow("10.0.0.4"))

	// pruning drops an address whose failures all left the window
	time.Sleep(60 * time.Millisecond)
	ft.prune()
	ft.mutex.RLock()
	_, tracked := ft.failures["10.0.0.4"]
	ft.mutex.RUnlock()
	require.False(t, tracked)
	require.True(t, ft.Allow("10.0.0.4"))
}
