package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/quantumfx/ea-license-service/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestConsumeValidationSlotFixedWindow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewLicenseRepository(db)

	now := time.Now().UTC()
	lic := &domain.License{
		LicenseKey:            "key-rate",
		Status:                domain.LicenseStatusActive,
		LicenseType:           domain.LicenseTypeIndividualEA,
		MaxValidationsPerHour: 3,
		LastHourReset:         now,
	}
	if err := db.Create(lic).Error; err != nil {
		t.Fatalf("create license: %v", err)
	}

	for i := 0; i < 3; i++ {
		allowed, err := repo.ConsumeValidationSlot(ctx, lic.ID, now, time.Hour)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := repo.ConsumeValidationSlot(ctx, lic.ID, now, time.Hour)
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if allowed {
		t.Fatal("4th call within the window must be denied")
	}

	var stored domain.License
	if err := db.First(&stored, lic.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.LastHourValidations != 3 {
		t.Fatalf("denied call must not increment, got %d", stored.LastHourValidations)
	}

	// Once the window lapses the counter resets to 1 and the call is
	// allowed again.
	later := now.Add(time.Hour + time.Minute)
	allowed, err = repo.ConsumeValidationSlot(ctx, lic.ID, later, time.Hour)
	if err != nil {
		t.Fatalf("consume after window: %v", err)
	}
	if !allowed {
		t.Fatal("call after window reset must be allowed")
	}
	if err := db.First(&stored, lic.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.LastHourValidations != 1 {
		t.Fatalf("expected counter reset to 1, got %d", stored.LastHourValidations)
	}
}

func TestBindFingerprintOnlyOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewLicenseRepository(db)

	lic := &domain.License{
		LicenseKey:  "key-bind",
		Status:      domain.LicenseStatusActive,
		LicenseType: domain.LicenseTypeIndividualEA,
	}
	if err := db.Create(lic).Error; err != nil {
		t.Fatalf("create license: %v", err)
	}

	bound, err := repo.BindFingerprint(ctx, lic.ID, "fp-one")
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if !bound {
		t.Fatal("first bind must succeed")
	}

	bound, err = repo.BindFingerprint(ctx, lic.ID, "fp-two")
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if bound {
		t.Fatal("second bind must be rejected")
	}

	var stored domain.License
	if err := db.First(&stored, lic.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.HardwareFingerprint != "fp-one" {
		t.Fatalf("stored fingerprint changed to %q", stored.HardwareFingerprint)
	}
}

func TestMarkExpiredOnlyTouchesActive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewLicenseRepository(db)

	active := &domain.License{LicenseKey: "key-a", Status: domain.LicenseStatusActive, LicenseType: domain.LicenseTypeIndividualEA}
	suspended := &domain.License{LicenseKey: "key-s", Status: domain.LicenseStatusSuspended, LicenseType: domain.LicenseTypeIndividualEA}
	for _, lic := range []*domain.License{active, suspended} {
		if err := db.Create(lic).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := repo.MarkExpired(ctx, active.ID); err != nil {
		t.Fatalf("mark expired: %v", err)
	}
	if err := repo.MarkExpired(ctx, suspended.ID); err != nil {
		t.Fatalf("mark expired suspended: %v", err)
	}

	var stored domain.License
	if err := db.First(&stored, active.ID).Error; err != nil {
		t.Fatalf("reload active: %v", err)
	}
	if stored.Status != domain.LicenseStatusExpired {
		t.Fatalf("expected expired, got %s", stored.Status)
	}
	// A fresh struct avoids gorm treating the previous reload's primary
	// key as an additional query condition.
	var storedSuspended domain.License
	if err := db.First(&storedSuspended, suspended.ID).Error; err != nil {
		t.Fatalf("reload suspended: %v", err)
	}
	if storedSuspended.Status != domain.LicenseStatusSuspended {
		t.Fatalf("suspended license must not transition, got %s", storedSuspended.Status)
	}
}

func TestFindByKeyPreloadsCatalog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewLicenseRepository(db)

	product := &domain.EAProduct{ProductCode: "TRENDFURY", Name: "Trend Fury", MaxConcurrentSessions: 2, IsActive: true}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	lic := &domain.License{
		LicenseKey:  "key-prod",
		Status:      domain.LicenseStatusActive,
		LicenseType: domain.LicenseTypeIndividualEA,
		ProductID:   &product.ID,
	}
	if err := db.Create(lic).Error; err != nil {
		t.Fatalf("create license: %v", err)
	}

	got, err := repo.FindByKey(ctx, "key-prod")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Product == nil || got.Product.ProductCode != "TRENDFURY" {
		t.Fatalf("expected preloaded product, got %+v", got.Product)
	}

	if _, err := repo.FindByKey(ctx, "no-such-key"); err != ErrLicenseNotFound {
		t.Fatalf("expected ErrLicenseNotFound, got %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.EAProduct{},
		&domain.SubscriptionTier{},
		&domain.License{},
		&domain.LicenseSession{},
		&domain.LicenseValidation{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
