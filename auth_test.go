package main

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthManager(t *testing.T) {
	signingKey, _ := crypto.GenerateKey()
	authManager, err := NewAuthManager(signingKey)
	require.NoError(t, err)
	require.NotNil(t, authManager)

	// Generate a challenge
	token, err := authManager.GenerateChallenge("0x1234567890123456789012345678901234567890", "test_app")
	require.NoError(t, err)
	require.NotEqual(t, uuid.UUID{}, token)

	// Verify challenge exists
	authManager.challengesMu.RLock()
	savedChallenge, exists := authManager.challenges[token]
	authManager.challengesMu.RUnlock()
	require.True(t, exists)
	assert.False(t, savedChallenge.Completed)
	assert.Equal(t, "test_app", savedChallenge.Application)
}

func TestAuthManagerChallengeLifecycle(t *testing.T) {
	signingKey, _ := crypto.GenerateKey()
	authManager, err := NewAuthManager(signingKey)
	require.NoError(t, err)

	address := "0x1234567890123456789012345678901234567890"
	token, err := authManager.GenerateChallenge(address, "test_app")
	require.NoError(t, err)

	// Wrong signer must be rejected
	err = authManager.ValidateChallenge(token, "0x0000000000000000000000000000000000000001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address mismatch")

	// Case-insensitive match on the challenged address
	err = authManager.ValidateChallenge(token, "0x1234567890123456789012345678901234567890")
	require.NoError(t, err)

	// A completed challenge cannot be replayed
	err = authManager.ValidateChallenge(token, address)
	require.Error(t, err)

	// Unknown token
	err = authManager.ValidateChallenge(uuid.New(), address)
	require.Error(t, err)
}

func TestAuthManagerSessionManagement(t *testing.T) {
	am := &AuthManager{
		challenges:    make(map[uuid.UUID]*Challenge),
		challengeTTL:  250 * time.Millisecond,
		authSessions:  make(map[string]time.Time),
		sessionTTL:    500 * time.Millisecond,
		cleanupTicker: time.NewTicker(10 * time.Minute),
		maxChallenges: 1000,
	}

	// Add a test session
	testAddr := "0x1234567890123456789012345678901234567890"
	am.registerAuthSession(testAddr)

	// Verify session is valid
	valid := am.ValidateSession(testAddr)
	assert.True(t, valid)

	// Update session
	time.Sleep(125 * time.Millisecond)
	updated := am.UpdateSession(testAddr)
	assert.True(t, updated)

	// Verify still valid
	valid = am.ValidateSession(testAddr)
	assert.True(t, valid)

	// Wait for session to expire
	time.Sleep(500 * time.Millisecond)
	valid = am.ValidateSession(testAddr)
	assert.False(t, valid)
}

func TestAuthManagerJwtManagement(t *testing.T) {
	signingKey, _ := crypto.GenerateKey()
	authManager, err := NewAuthManager(signingKey)
	require.NoError(t, err)
	require.NotNil(t, authManager)

	walletAddr := "0x1234567890123456789012345678901234567890"
	application := "test_application"

	// Before JWT verification, session should not be valid
	valid := authManager.ValidateSession(walletAddr)
	assert.False(t, valid, "Session should not be valid before JWT verification")

	_, token, err := authManager.GenerateJWT(walletAddr, application)
	require.NoError(t, err)

	// After JWT generation but before verification, session should still not be valid
	valid = authManager.ValidateSession(walletAddr)
	assert.False(t, valid, "Session should not be valid after JWT generation but before verification")

	claims, err := authManager.VerifyJWT(token)
	require.NoError(t, err)

	// Basic JWT verification
	assert.Equal(t, walletAddr, claims.Policy.Wallet)
	assert.Equal(t, application, claims.Policy.Application)

	// After JWT verification, session should be valid
	valid = authManager.ValidateSession(walletAddr)
	assert.True(t, valid, "Session should be valid after JWT verification")

	// Update session should work
	updated := authManager.UpdateSession(walletAddr)
	assert.True(t, updated, "Should be able to update session after JWT verification")
}

func TestAuthManagerJwtRejectsWrongIssuer(t *testing.T) {
	signingKey, _ := crypto.GenerateKey()
	authManager, err := NewAuthManager(signingKey)
	require.NoError(t, err)

	claims := JWTClaims{
		Policy: Policy{
			Wallet:    "0x1234567890123456789012345678901234567890",
			ExpiresAt: time.Now().Add(time.Hour),
		},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "someone-else",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tokenString, err := token.SignedString(signingKey)
	require.NoError(t, err)

	_, err = authManager.VerifyJWT(tokenString)
	require.Error(t, err)
}

func TestAuthManagerJwtExpiration(t *testing.T) {
	signingKey, _ := crypto.GenerateKey()

	// We're testing session expiration, not JWT expiration,
	// so keep the JWT valid for longer than the session
	am := &AuthManager{
		challenges:     make(map[uuid.UUID]*Challenge),
		challengeTTL:   5 * time.Minute,
		authSessions:   make(map[string]time.Time),
		sessionTTL:     250 * time.Millisecond, // Short TTL for testing
		cleanupTicker:  time.NewTicker(10 * time.Minute),
		maxChallenges:  1000,
		authSigningKey: signingKey,
	}

	walletAddr := "0x1234567890123456789012345678901234567890"

	claims := JWTClaims{
		Policy: Policy{
			Wallet:    walletAddr,
			ExpiresAt: time.Now().Add(5 * time.Minute), // Longer expiration for JWT
		},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    jwtIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tokenString, err := token.SignedString(am.authSigningKey)
	require.NoError(t, err)

	// Verify JWT should register a session
	_, err = am.VerifyJWT(tokenString)
	require.NoError(t, err)

	// Session should be valid immediately
	valid := am.ValidateSession(walletAddr)
	assert.True(t, valid, "Session should be valid after JWT verification")

	// Wait for session to expire
	time.Sleep(300 * time.Millisecond)

	// Session should be invalid after expiration
	valid = am.ValidateSession(walletAddr)
	assert.False(t, valid, "Session should be invalid after expiration")
}
