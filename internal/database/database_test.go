package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"referral-coupons-api/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func testCoupon(code, owner string, createdAt time.Time) models.Coupon {
	return models.Coupon{
		Code:            code,
		Type:            models.CouponTypeInvitedDiscount,
		DiscountPercent: 20,
		StarsCount:      10,
		MinStars:        10,
		OwnerTgID:       owner,
		InviterTgID:     "100",
		InvitedTgID:     owner,
		Status:          models.CouponStatusActive,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.AddDate(0, 0, 30),
	}
}

func TestNewDB_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.UpsertUser(ctx, "1", "alice", time.Now()); err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}
	db.Close()

	db, err = NewDB(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	user, err := db.GetUser(ctx, "1")
	if err != nil {
		t.Fatalf("Failed to get user after reopen: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Expected username alice, got %q", user.Username)
	}
}

func TestUpsertUser_NameSemantics(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

	if err := db.UpsertUser(ctx, "42", "", now); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	user, err := db.GetUser(ctx, "42")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Username != "" {
		t.Errorf("Expected empty username, got %q", user.Username)
	}
	if !user.CreatedAt.Equal(now) {
		t.Errorf("Expected created_at %v, got %v", now, user.CreatedAt)
	}

	if err := db.UpsertUser(ctx, "42", "bob", now.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to update user: %v", err)
	}
	if err := db.UpsertUser(ctx, "42", "", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("Failed to upsert user without name: %v", err)
	}

	user, err = db.GetUser(ctx, "42")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Username != "bob" {
		t.Errorf("Expected username bob to survive an empty upsert, got %q", user.Username)
	}
	if !user.CreatedAt.Equal(now) {
		t.Errorf("created_at must not change on upsert, got %v", user.CreatedAt)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestIncrementUserCounter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertUser(ctx, "7", "", time.Now()); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := db.IncrementUserCounter(ctx, "7", models.CounterTotalInvites); err != nil {
			t.Fatalf("Failed to increment invites: %v", err)
		}
	}
	if err := db.IncrementUserCounter(ctx, "7", models.CounterTotalPurchases); err != nil {
		t.Fatalf("Failed to increment purchases: %v", err)
	}

	user, err := db.GetUser(ctx, "7")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.TotalInvites != 3 || user.TotalPurchases != 1 {
		t.Errorf("Expected 3 invites / 1 purchase, got %d / %d", user.TotalInvites, user.TotalPurchases)
	}

	if err := db.IncrementUserCounter(ctx, "7", models.UserCounter("balance")); err == nil {
		t.Error("Expected error for unknown counter")
	}
}

func TestCoupon_InsertGetAndDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 123456000, time.UTC)

	coupon := testCoupon("ABCDE", "200", now)
	if err := db.InsertCoupon(ctx, coupon); err != nil {
		t.Fatalf("Failed to insert coupon: %v", err)
	}

	got, err := db.GetCoupon(ctx, "ABCDE")
	if err != nil {
		t.Fatalf("Failed to get coupon: %v", err)
	}
	if got.OwnerTgID != "200" || got.DiscountPercent != 20 || got.Status != models.CouponStatusActive {
		t.Errorf("Unexpected coupon: %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(now.AddDate(0, 0, 30)) {
		t.Errorf("Timestamps did not round-trip: %v / %v", got.CreatedAt, got.ExpiresAt)
	}
	if got.UsedAt != nil {
		t.Errorf("Expected nil used_at, got %v", got.UsedAt)
	}

	err = db.InsertCoupon(ctx, testCoupon("ABCDE", "300", now))
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("Expected ErrDuplicateCode, got %v", err)
	}

	if _, err := db.GetCoupon(ctx, "ZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestMarkCouponUsed_CompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

	if err := db.InsertCoupon(ctx, testCoupon("CDEFG", "200", now)); err != nil {
		t.Fatalf("Failed to insert coupon: %v", err)
	}

	ok, err := db.MarkCouponUsed(ctx, "CDEFG", now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("Expected first transition to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = db.MarkCouponUsed(ctx, "CDEFG", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected second transition to report false")
	}

	got, err := db.GetCoupon(ctx, "CDEFG")
	if err != nil {
		t.Fatalf("Failed to get coupon: %v", err)
	}
	if got.Status != models.CouponStatusUsed {
		t.Errorf("Expected status used, got %s", got.Status)
	}
	if got.UsedAt == nil || !got.UsedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected used_at from the first transition, got %v", got.UsedAt)
	}
}

func TestListCouponsWithOwnerNames(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

	if err := db.UpsertUser(ctx, "100", "inviter", base); err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}
	if err := db.UpsertUser(ctx, "200", "", base); err != nil {
		t.Fatalf("Failed to upsert user: %v", err)
	}

	codes := []string{"AAAAA", "BBBBB", "CCCCC"}
	for i, code := range codes {
		if err := db.InsertCoupon(ctx, testCoupon(code, "200", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Failed to insert coupon %s: %v", code, err)
		}
	}

	views, err := db.ListCouponsWithOwnerNames(ctx)
	if err != nil {
		t.Fatalf("Failed to list coupons: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("Expected 3 coupons, got %d", len(views))
	}

	want := []string{"CCCCC", "BBBBB", "AAAAA"}
	for i, v := range views {
		if v.Code != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], v.Code)
		}
		if v.InviterUsername != "inviter" {
			t.Errorf("Expected inviter username, got %q", v.InviterUsername)
		}
		if v.OwnerUsername != "" {
			t.Errorf("Expected empty owner username, got %q", v.OwnerUsername)
		}
	}
}

func TestDeleteCoupon(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, code := range []string{"DDDDD", "EEEEE"} {
		if err := db.InsertCoupon(ctx, testCoupon(code, "200", now)); err != nil {
			t.Fatalf("Failed to insert coupon: %v", err)
		}
	}

	deleted, err := db.DeleteCoupon(ctx, "XXXXX")
	if err != nil || deleted {
		t.Fatalf("Expected no deletion for missing code, got deleted=%v err=%v", deleted, err)
	}

	deleted, err = db.DeleteCoupon(ctx, "DDDDD")
	if err != nil || !deleted {
		t.Fatalf("Expected deletion, got deleted=%v err=%v", deleted, err)
	}

	if _, err := db.GetCoupon(ctx, "DDDDD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected deleted coupon to be gone, got %v", err)
	}
	if _, err := db.GetCoupon(ctx, "EEEEE"); err != nil {
		t.Errorf("Expected other coupon to remain, got %v", err)
	}
}

func TestReferral_InsertAndComplete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

	referral := models.Referral{
		ID:                uuid.New().String(),
		InviterTgID:       "100",
		InvitedTgID:       "200",
		InviterCouponCode: "RRRRR",
		InvitedCouponCode: "VVVVV",
		Status:            models.ReferralStatusPending,
		CreatedAt:         now,
	}
	if err := db.InsertReferral(ctx, referral); err != nil {
		t.Fatalf("Failed to insert referral: %v", err)
	}

	n, err := db.MarkReferralCompleted(ctx, "RRRRR", now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("Inviter coupon must not complete a referral, %d rows changed", n)
	}

	n, err = db.MarkReferralCompleted(ctx, "VVVVV", now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Expected one completed referral, got n=%d err=%v", n, err)
	}

	got, err := db.GetReferralByInvitedCoupon(ctx, "VVVVV")
	if err != nil {
		t.Fatalf("Failed to get referral: %v", err)
	}
	if got.Status != models.ReferralStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Unexpected completed_at %v", got.CompletedAt)
	}
}

func TestPurchase_InsertAndList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	code := "PPPPP"

	purchases := []models.Purchase{
		{ID: uuid.New().String(), BuyerTgID: "300", StarsCount: 1, CreatedAt: now},
		{ID: uuid.New().String(), BuyerTgID: "300", StarsCount: 5, CouponCode: &code, DiscountPercent: 15, CreatedAt: now.Add(time.Second)},
	}
	for _, p := range purchases {
		if err := db.InsertPurchase(ctx, p); err != nil {
			t.Fatalf("Failed to insert purchase: %v", err)
		}
	}

	got, err := db.ListPurchasesByBuyer(ctx, "300")
	if err != nil {
		t.Fatalf("Failed to list purchases: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 purchases, got %d", len(got))
	}
	if got[0].CouponCode != nil || got[0].DiscountPercent != 0 {
		t.Errorf("Expected first purchase without coupon, got %+v", got[0])
	}
	if got[1].CouponCode == nil || *got[1].CouponCode != code || got[1].DiscountPercent != 15 {
		t.Errorf("Unexpected second purchase %+v", got[1])
	}
}

func TestInTx_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(repo Repository) error {
		if err := repo.InsertCoupon(ctx, testCoupon("TTTTT", "200", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := db.GetCoupon(ctx, "TTTTT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected rolled back coupon to be absent, got %v", err)
	}

	err = db.InTx(ctx, func(repo Repository) error {
		return repo.InsertCoupon(ctx, testCoupon("UUUUU", "200", time.Now()))
	})
	if err != nil {
		t.Fatalf("Expected commit, got %v", err)
	}
	if _, err := db.GetCoupon(ctx, "UUUUU"); err != nil {
		t.Errorf("Expected committed coupon, got %v", err)
	}
}
