package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxen-io/session-push-notification-server/pkg/sig"
	"github.com/oxen-io/session-push-notification-server/pkg/swarmpubkey"
)

func nonSessionAccount(t *testing.T) *swarmpubkey.Account {
	t.Helper()
	id := make([]byte, swarmpubkey.IDSize)
	id[0] = 0x03
	for i := 1; i < len(id); i++ {
		id[i] = byte(i)
	}
	account, err := swarmpubkey.New(id, nil)
	require.NoError(t, err)
	return account
}

func validSubscription(t *testing.T, now time.Time) *Subscription {
	t.Helper()
	return &Subscription{
		Account:    nonSessionAccount(t),
		Namespaces: []int16{0, 5, 10},
		WantData:   true,
		SigTS:      now.Unix(),
		Signature:  make([]byte, 64),
		EncKey:     make([]byte, 32),
		Service:    "apns",
	}
}

func TestValidateFields_AcceptsWellFormedSubscription(t *testing.T) {
	now := time.Now()
	sub := validSubscription(t, now)
	assert.NoError(t, sub.ValidateFields(now))
}

func TestValidateFields_RejectsEmptyNamespaces(t *testing.T) {
	now := time.Now()
	sub := validSubscription(t, now)
	sub.Namespaces = nil
	assert.ErrorIs(t, sub.ValidateFields(now), ErrNamespacesEmpty)
}

func TestValidateFields_RejectsUnsortedOrDuplicateNamespaces(t *testing.T) {
	now := time.Now()
	sub := validSubscription(t, now)
	sub.Namespaces = []int16{5, 1, 10}
	assert.ErrorIs(t, sub.ValidateFields(now), ErrNamespacesUnsorted)

	sub.Namespaces = []int16{1, 1, 2}
	assert.ErrorIs(t, sub.ValidateFields(now), ErrNamespacesUnsorted)
}

func TestValidateFields_RejectsBadLengths(t *testing.T) {
	now := time.Now()

	sub := validSubscription(t, now)
	sub.Signature = make([]byte, 10)
	assert.ErrorIs(t, sub.ValidateFields(now), ErrBadSignatureLen)

	sub = validSubscription(t, now)
	sub.SubkeyTag = make([]byte, 5)
	assert.ErrorIs(t, sub.ValidateFields(now), ErrBadSubkeyTagLen)

	sub = validSubscription(t, now)
	sub.EncKey = make([]byte, 16)
	assert.ErrorIs(t, sub.ValidateFields(now), ErrBadEncKeyLen)
}

func TestValidateFields_SigTSWindow(t *testing.T) {
	now := time.Now()

	t.Run("zero timestamp rejected", func(t *testing.T) {
		sub := validSubscription(t, now)
		sub.SigTS = 0
		assert.ErrorIs(t, sub.ValidateFields(now), ErrBadSigTS)
	})

	t.Run("too far in the past rejected", func(t *testing.T) {
		sub := validSubscription(t, now)
		sub.SigTS = now.Add(-SignatureExpiry - time.Hour).Unix()
		assert.ErrorIs(t, sub.ValidateFields(now), ErrBadSigTS)
	})

	t.Run("beyond future grace rejected", func(t *testing.T) {
		sub := validSubscription(t, now)
		sub.SigTS = now.Add(SignatureFutureGrace + time.Hour).Unix()
		assert.ErrorIs(t, sub.ValidateFields(now), ErrBadSigTS)
	})

	t.Run("just inside future grace accepted", func(t *testing.T) {
		sub := validSubscription(t, now)
		sub.SigTS = now.Add(SignatureFutureGrace - time.Minute).Unix()
		assert.NoError(t, sub.ValidateFields(now))
	})
}

func TestSubscription_VerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	id := make([]byte, swarmpubkey.IDSize)
	id[0] = 0x03
	copy(id[1:], pub)
	account, err := swarmpubkey.New(id, nil)
	require.NoError(t, err)

	sub := &Subscription{
		Account:    account,
		Namespaces: []int16{0, 1},
		WantData:   true,
		SigTS:      time.Now().Unix(),
	}
	msg := sig.MonitorMessage(account.ID(), sub.SigTS, sub.WantData, sub.Namespaces)
	sub.Signature = ed25519.Sign(priv, msg)

	assert.NoError(t, sub.VerifySignature())

	t.Run("tampered namespace list invalidates signature", func(t *testing.T) {
		tampered := *sub
		tampered.Namespaces = []int16{0, 2}
		assert.Error(t, tampered.VerifySignature())
	})
}

func TestSubscription_IsSame(t *testing.T) {
	now := time.Now()
	a := validSubscription(t, now)
	b := validSubscription(t, now)
	assert.True(t, a.IsSame(b), "same account/subkey/enckey/wantdata/namespaces must compare equal regardless of signature")

	b.WantData = false
	assert.False(t, a.IsSame(b))
}

func TestSubscription_Covers(t *testing.T) {
	now := time.Now()

	t.Run("superset namespace set covers a subset request", func(t *testing.T) {
		existing := validSubscription(t, now)
		existing.Namespaces = []int16{-32, 0, 5, 10}

		incoming := validSubscription(t, now)
		incoming.Namespaces = []int16{0, 5}

		assert.True(t, existing.Covers(incoming))
	})

	t.Run("missing a requested namespace does not cover", func(t *testing.T) {
		existing := validSubscription(t, now)
		existing.Namespaces = []int16{0, 5}

		incoming := validSubscription(t, now)
		incoming.Namespaces = []int16{0, 5, 10}

		assert.False(t, existing.Covers(incoming))
	})

	t.Run("want_data=false existing cannot cover a want_data=true request", func(t *testing.T) {
		existing := validSubscription(t, now)
		existing.WantData = false

		incoming := validSubscription(t, now)
		incoming.WantData = true

		assert.False(t, existing.Covers(incoming))
	})

	t.Run("different subkey tag never covers", func(t *testing.T) {
		existing := validSubscription(t, now)
		incoming := validSubscription(t, now)
		incoming.SubkeyTag = make([]byte, 32)
		incoming.SubkeyTag[0] = 1

		assert.False(t, existing.Covers(incoming))
	})
}

func TestSubscription_IsExpired(t *testing.T) {
	now := time.Now()
	sub := validSubscription(t, now)
	sub.SigTS = now.Add(-SignatureExpiry - time.Second).Unix()
	assert.True(t, sub.IsExpired(now))

	sub.SigTS = now.Add(-time.Hour).Unix()
	assert.False(t, sub.IsExpired(now))
}

func TestSubscription_IsNewer(t *testing.T) {
	now := time.Now()
	older := validSubscription(t, now)
	older.SigTS = now.Add(-time.Hour).Unix()
	newer := validSubscription(t, now)
	newer.SigTS = now.Unix()

	assert.True(t, newer.IsNewer(older))
	assert.False(t, older.IsNewer(newer))
}

func TestSubscription_SubscriptionKey(t *testing.T) {
	now := time.Now()
	sub := validSubscription(t, now)
	sub.ServiceID = "device-123-abcdefghijklmnopqrstuv"

	key := sub.SubscriptionKey()
	assert.Equal(t, sub.Service, key.Service)
	assert.Equal(t, sub.ServiceID, key.ServiceID)
	assert.EqualValues(t, sub.Account.ID(), key.Account[:])
}
