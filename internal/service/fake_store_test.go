package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"referral-coupons-api/internal/database"
	"referral-coupons-api/internal/models"
)

// fakeStore is an in-memory database.Store. InTx snapshots every table and
// restores the snapshot when fn fails.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users     map[string]models.User
	coupons   map[string]models.Coupon
	referrals []models.Referral
	purchases []models.Purchase
	seq       map[string]int

	// failOn makes the named method return the error.
	failOn map[string]error
}

var _ database.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]models.User),
		coupons: make(map[string]models.Coupon),
		seq:     make(map[string]int),
		failOn:  make(map[string]error),
	}
}

type fakeSnapshot struct {
	users     map[string]models.User
	coupons   map[string]models.Coupon
	referrals []models.Referral
	purchases []models.Purchase
}

func (f *fakeStore) snapshot() fakeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := fakeSnapshot{
		users:     make(map[string]models.User, len(f.users)),
		coupons:   make(map[string]models.Coupon, len(f.coupons)),
		referrals: append([]models.Referral(nil), f.referrals...),
		purchases: append([]models.Purchase(nil), f.purchases...),
	}
	for k, v := range f.users {
		s.users[k] = v
	}
	for k, v := range f.coupons {
		s.coupons[k] = v
	}
	return s
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.users = s.users
	f.coupons = s.coupons
	f.referrals = s.referrals
	f.purchases = s.purchases
}

func (f *fakeStore) fail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failOn[method]
}

func (f *fakeStore) InTx(ctx context.Context, fn func(repo database.Repository) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	snap := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, tgID, username string, now time.Time) error {
	if err := f.fail("UpsertUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[tgID]
	if !ok {
		u = models.User{TgID: tgID, CreatedAt: now}
	}
	if username != "" {
		u.Username = username
	}
	f.users[tgID] = u
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, tgID string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[tgID]
	if !ok {
		return models.User{}, database.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) IncrementUserCounter(ctx context.Context, tgID string, counter models.UserCounter) error {
	if err := f.fail("IncrementUserCounter"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[tgID]
	if !ok {
		return nil
	}
	switch counter {
	case models.CounterTotalInvites:
		u.TotalInvites++
	case models.CounterTotalPurchases:
		u.TotalPurchases++
	default:
		return errors.New("unknown counter")
	}
	f.users[tgID] = u
	return nil
}

func (f *fakeStore) GetCoupon(ctx context.Context, code string) (models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.coupons[code]
	if !ok {
		return models.Coupon{}, database.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) InsertCoupon(ctx context.Context, coupon models.Coupon) error {
	if err := f.fail("InsertCoupon"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.coupons[coupon.Code]; ok {
		return database.ErrDuplicateCode
	}
	f.seq[coupon.Code] = len(f.seq)
	f.coupons[coupon.Code] = coupon
	return nil
}

func (f *fakeStore) MarkCouponUsed(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.coupons[code]
	if !ok || c.Status != models.CouponStatusActive {
		return false, nil
	}
	c.Status = models.CouponStatusUsed
	c.UsedAt = &usedAt
	f.coupons[code] = c
	return true, nil
}

func (f *fakeStore) ListCouponsWithOwnerNames(ctx context.Context) ([]models.CouponView, error) {
	if err := f.fail("ListCouponsWithOwnerNames"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	views := []models.CouponView{}
	for _, c := range f.coupons {
		views = append(views, models.CouponView{
			Coupon:          c,
			OwnerUsername:   f.users[c.OwnerTgID].Username,
			InviterUsername: f.users[c.InviterTgID].Username,
			InvitedUsername: f.users[c.InvitedTgID].Username,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return f.seq[a.Code] > f.seq[b.Code]
	})
	return views, nil
}

func (f *fakeStore) DeleteCoupon(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.coupons[code]; !ok {
		return false, nil
	}
	delete(f.coupons, code)
	return true, nil
}

func (f *fakeStore) InsertReferral(ctx context.Context, referral models.Referral) error {
	if err := f.fail("InsertReferral"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.referrals = append(f.referrals, referral)
	return nil
}

func (f *fakeStore) GetReferralByInvitedCoupon(ctx context.Context, code string) (models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.referrals {
		if r.InvitedCouponCode == code {
			return r, nil
		}
	}
	return models.Referral{}, database.ErrNotFound
}

func (f *fakeStore) MarkReferralCompleted(ctx context.Context, invitedCouponCode string, completedAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for i, r := range f.referrals {
		if r.InvitedCouponCode != invitedCouponCode {
			continue
		}
		at := completedAt
		f.referrals[i].Status = models.ReferralStatusCompleted
		f.referrals[i].CompletedAt = &at
		n++
	}
	return n, nil
}

func (f *fakeStore) InsertPurchase(ctx context.Context, purchase models.Purchase) error {
	if err := f.fail("InsertPurchase"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.purchases = append(f.purchases, purchase)
	return nil
}

func (f *fakeStore) ListPurchasesByBuyer(ctx context.Context, buyerTgID string) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []models.Purchase{}
	for _, p := range f.purchases {
		if p.BuyerTgID == buyerTgID {
			out = append(out, p)
		}
	}
	return out, nil
}
