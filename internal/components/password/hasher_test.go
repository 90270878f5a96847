package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
)

var testParams = Params{Time: 1, Memory: 8 * 1024, Threads: 1}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(testParams)
	require.NoError(t, err)
	return h
}

func TestNewHasher_FromConfig(t *testing.T) {
	h, err := NewHasher(&config.Config{Argon2Time: 1, Argon2Memory: 64 * 1024, Argon2Threads: 4})
	require.NoError(t, err)
	assert.Equal(t, TagArgon2id, h.Tag())

	_, err = New(Params{Time: 0, Memory: 1024, Threads: 1})
	assert.Error(t, err)
}

func TestHasher_HashVerify(t *testing.T) {
	h := newTestHasher(t)
	salt, err := h.NewSalt()
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	digest := h.Hash("correct horse", salt)
	assert.Len(t, digest, KeySize)
	assert.NotContains(t, string(digest), "correct horse")

	assert.True(t, h.Verify("correct horse", salt, digest, h.Tag()))
	assert.False(t, h.Verify("correct horsf", salt, digest, h.Tag()))
	assert.False(t, h.Verify("", salt, digest, h.Tag()))
	assert.False(t, h.Verify("correct horse", salt, digest, "md5"))
	assert.False(t, h.Verify("correct horse", nil, digest, h.Tag()))
}

func TestHasher_SingleCharacterMutations(t *testing.T) {
	h := newTestHasher(t)
	salt, err := h.NewSalt()
	require.NoError(t, err)

	const secret = "s3cret!"
	digest := h.Hash(secret, salt)

	for i := range secret {
		mutated := []byte(secret)
		mutated[i]++
		assert.False(t, h.Verify(string(mutated), salt, digest, h.Tag()), "mutation at %d", i)
	}
	assert.False(t, h.Verify(secret[:len(secret)-1], salt, digest, h.Tag()))
	assert.False(t, h.Verify(secret+"x", salt, digest, h.Tag()))
}

func TestHasher_SaltsDiffer(t *testing.T) {
	h := newTestHasher(t)
	a, err := h.NewSalt()
	require.NoError(t, err)
	b, err := h.NewSalt()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, h.Hash("same", a), h.Hash("same", b))
}

func TestHasher_VerifiesOtherParams(t *testing.T) {
	old, err := New(Params{Time: 2, Memory: 4 * 1024, Threads: 1})
	require.NoError(t, err)
	current := newTestHasher(t)

	salt, err := old.NewSalt()
	require.NoError(t, err)
	digest := old.Hash("pw", salt)

	assert.Equal(t, "argon2id:t=2,m=4096,p=1", old.Tag())
	assert.True(t, current.Verify("pw", salt, digest, old.Tag()))
	assert.True(t, current.NeedsRehash(old.Tag()))
	assert.False(t, current.NeedsRehash(current.Tag()))
}

func TestHasher_Bcrypt(t *testing.T) {
	h := newTestHasher(t)
	digest, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	salt, err := BcryptSalt(digest)
	require.NoError(t, err)
	assert.Len(t, salt, 22)
	assert.Equal(t, string(digest[7:29]), string(salt))

	assert.True(t, h.Verify("password123", salt, digest, TagBcrypt))
	assert.False(t, h.Verify("password124", salt, digest, TagBcrypt))
	assert.True(t, h.NeedsRehash(TagBcrypt))

	_, err = BcryptSalt([]byte("$2a$10$short"))
	assert.ErrorIs(t, err, ErrMalformedDigest)
}

func TestHasher_VerifyDecoy(t *testing.T) {
	h := newTestHasher(t)
	assert.False(t, h.VerifyDecoy("anything"))
	assert.False(t, h.VerifyDecoy(""))
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag     string
		want    Params
		wantErr bool
	}{
		{tag: "argon2id", want: DefaultParams},
		{tag: "argon2id:t=3,m=2048,p=2", want: Params{Time: 3, Memory: 2048, Threads: 2}},
		{tag: "argon2id:t=0,m=2048,p=2", wantErr: true},
		{tag: "argon2id:garbage", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := parseTag(tt.tag)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedDigest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
