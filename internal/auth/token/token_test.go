package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "perroquet/pkg/domain-errors"
)

var tokenService = NewService("test-signing-key", time.Minute)

func Test_MintAndVerify(t *testing.T) {
	signed, err := tokenService.Mint("user-1", PurposeNone)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := tokenService.Verify(signed, PurposeNone, true)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt, time.Minute)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt, time.Minute)
}

func Test_Verify_PurposeIsolation(t *testing.T) {
	purposes := []Purpose{PurposeNone, PurposeVerifyEmail, PurposeEditEmail, PurposeEditPassword}

	for _, mintedWith := range purposes {
		signed, err := tokenService.Mint("user-1", mintedWith)
		require.NoError(t, err)

		for _, verifiedWith := range purposes {
			claims, err := tokenService.Verify(signed, verifiedWith, true)
			if mintedWith == verifiedWith {
				require.NoError(t, err)
				assert.Equal(t, "user-1", claims.Subject)
				continue
			}
			require.Error(t, err, "token minted with %q must not verify with %q", mintedWith, verifiedWith)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		}
	}
}

func Test_Verify_Expiry(t *testing.T) {
	expired := NewService("test-signing-key", -time.Minute)
	signed, err := expired.Mint("user-1", PurposeNone)
	require.NoError(t, err)

	_, err = expired.Verify(signed, PurposeNone, true)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))

	// Same signature material passes once expiry checking is disabled.
	claims, err := expired.Verify(signed, PurposeNone, false)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func Test_Verify_MalformedToken(t *testing.T) {
	_, err := tokenService.Verify("not-a-token", PurposeNone, true)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Verify_WrongBaseSecret(t *testing.T) {
	other := NewService("other-signing-key", time.Minute)
	signed, err := other.Mint("user-1", PurposeNone)
	require.NoError(t, err)

	_, err = tokenService.Verify(signed, PurposeNone, true)
	require.Error(t, err)
}

func Test_DeriveKey(t *testing.T) {
	base := []byte("base-secret")

	assert.Equal(t, base, DeriveKey(base, PurposeNone))
	assert.Equal(t, []byte("base-secretverify-email"), DeriveKey(base, PurposeVerifyEmail))
	assert.Equal(t, []byte("base-secretedit-email"), DeriveKey(base, PurposeEditEmail))
	assert.Equal(t, []byte("base-secretedit-password"), DeriveKey(base, PurposeEditPassword))

	// Derivation never aliases two purposes onto one key.
	seen := map[string]Purpose{}
	for _, p := range []Purpose{PurposeNone, PurposeVerifyEmail, PurposeEditEmail, PurposeEditPassword} {
		key := string(DeriveKey(base, p))
		if prev, ok := seen[key]; ok {
			t.Fatalf("purposes %q and %q derive the same key", prev, p)
		}
		seen[key] = p
	}
}

func Test_Mint_EmptySubject(t *testing.T) {
	_, err := tokenService.Mint("", PurposeNone)
	require.Error(t, err)
}
