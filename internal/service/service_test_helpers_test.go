package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/repository"
)

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

type serviceFixture struct {
	db      *gorm.DB
	svc     *ValidationService
	clock   *fakeClock
	product *domain.EAProduct
	tier    *domain.SubscriptionTier
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newServiceFixture(t *testing.T) *serviceFixture {
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

	product := &domain.EAProduct{ProductCode: "FOO", Name: "Foo EA", MaxConcurrentSessions: 1, RequiresHardwareBinding: true, IsActive: true}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	tier := &domain.SubscriptionTier{
		TierCode:              "PRO",
		Name:                  "Pro",
		IncludedEAs:           domain.ProductCodes{"FOO", "BAZ"},
		MaxConcurrentSessions: 2,
		IsActive:              true,
	}
	if err := db.Create(tier).Error; err != nil {
		t.Fatalf("create tier: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc := NewValidationService(
		repository.NewLicenseRepository(db),
		repository.NewSessionRepository(db),
		repository.NewValidationRepository(db),
		NewInMemoryKeyMissCache(),
		time.Minute,
		24*time.Hour,
	)
	svc.now = clock.Now

	return &serviceFixture{db: db, svc: svc, clock: clock, product: product, tier: tier}
}

func (f *serviceFixture) createLicense(t *testing.T, key string, mutate func(*domain.License)) *domain.License {
	t.Helper()
	lic := &domain.License{
		LicenseKey:            key,
		Status:                domain.LicenseStatusActive,
		LicenseType:           domain.LicenseTypeIndividualEA,
		ProductID:             &f.product.ID,
		MaxValidationsPerHour: 60,
		LastHourReset:         f.clock.Now(),
		IssuedAt:              f.clock.Now(),
	}
	if mutate != nil {
		mutate(lic)
	}
	if err := f.db.Create(lic).Error; err != nil {
		t.Fatalf("create license: %v", err)
	}
	return lic
}

func (f *serviceFixture) auditCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&domain.LicenseValidation{}).Count(&count).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return count
}

func (f *serviceFixture) lastAudit(t *testing.T) *domain.LicenseValidation {
	t.Helper()
	var record domain.LicenseValidation
	if err := f.db.Order("id DESC").First(&record).Error; err != nil {
		t.Fatalf("load last audit row: %v", err)
	}
	return &record
}
