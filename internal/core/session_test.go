package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratedesk/pkg/domain"
)

func TestBannersExpirePerLevel(t *testing.T) {
	sess := newSession(domain.VariantCommission, baseTime)
	sess.AddBanner(BannerSuccess, "saved", baseTime)
	sess.AddBanner(BannerError, "failed", baseTime)

	require.Equal(t, []string{"saved", "failed"}, bannerMessages(sess.Banners(baseTime.Add(2*time.Second))))
	require.Equal(t, []string{"failed"}, bannerMessages(sess.Banners(baseTime.Add(SuccessBannerTTL))))
	require.Empty(t, sess.Banners(baseTime.Add(ErrorBannerTTL)))
}

func TestResetKeepsViewAndBanners(t *testing.T) {
	sess := newSession(domain.VariantCommission, baseTime)
	sess.Selection = Selection{Organization: "Acme", Program: "P1", Products: []string{"A"}, Measure: 3}
	sess.View = &View{ID: "v1"}
	sess.AddBanner(BannerInfo, "hello", baseTime)

	sess.Reset()
	require.Equal(t, SubmitStateEmpty, sess.Selection.State())
	require.True(t, sess.Selection.Active)
	require.True(t, sess.Selection.ResetFlag)
	require.Equal(t, "v1", sess.View.ID)
	require.Len(t, sess.Banners(baseTime), 1)
}

func TestSessionRegistryScopesByVariant(t *testing.T) {
	reg := NewSessionRegistry(2, time.Hour)
	sess := reg.Create(domain.VariantULR, baseTime)

	got, err := reg.Get(domain.VariantULR, sess.ID)
	require.NoError(t, err)
	require.Same(t, sess, got)

	_, err = reg.Get(domain.VariantCommission, sess.ID)
	require.True(t, errors.Is(err, ErrSessionNotFound))

	reg.Delete(sess.ID)
	_, err = reg.Get(domain.VariantULR, sess.ID)
	require.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSessionRegistryEvictsOldest(t *testing.T) {
	reg := NewSessionRegistry(2, time.Hour)
	first := reg.Create(domain.VariantULR, baseTime)
	reg.Create(domain.VariantULR, baseTime)
	reg.Create(domain.VariantULR, baseTime)
	require.Equal(t, 2, reg.Len())
	_, err := reg.Get(domain.VariantULR, first.ID)
	require.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestWithSessionUnknownIDs(t *testing.T) {
	f := newFixture(t)
	err := f.svc.WithSession(domain.VariantCommission, "missing", func(*Session) error { return nil })
	require.True(t, errors.Is(err, ErrSessionNotFound))

	err = f.svc.WithSession("nope", "missing", func(*Session) error { return nil })
	require.True(t, errors.Is(err, ErrUnknownVariant))
}
