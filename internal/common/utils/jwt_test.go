package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

var testJWT = JWTOptions{Secret: "test-secret", Issuer: "i-spoon-backend", Audience: "i-spoon-mobile"}

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT(testJWT, 42, "cook@example.com", TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testJWT)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, "cook@example.com", claims.Email)
	require.Equal(t, TokenTypeAccess, claims.Type)
}

func TestValidateJWTRejects(t *testing.T) {
	expired, err := GenerateJWT(testJWT, 1, "", TokenTypeAccess, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, testJWT)
	require.Error(t, err)

	otherIssuer := testJWT
	otherIssuer.Issuer = "someone-else"
	foreign, err := GenerateJWT(otherIssuer, 1, "", TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(foreign, testJWT)
	require.True(t, errors.Is(err, ErrInvalidToken))

	otherAudience := testJWT
	otherAudience.Audience = "web"
	web, err := GenerateJWT(otherAudience, 1, "", TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(web, testJWT)
	require.True(t, errors.Is(err, ErrInvalidToken))

	wrongSecret := testJWT
	wrongSecret.Secret = "nope"
	forged, err := GenerateJWT(wrongSecret, 1, "", TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(forged, testJWT)
	require.Error(t, err)
}

func TestValidateJWTRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, JWTClaims{
		UserID: 7,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			Audience:  jwt.ClaimStrings{testJWT.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)

	_, err = ValidateJWT(signed, testJWT)
	require.Error(t, err)
}
