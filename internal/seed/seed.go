// Package seed is the single source of startup fixtures. Nothing else in the
// platform writes bootstrap rows.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"gorm.io/gorm"

	authdomain "github.com/zimmerhq/zimmer/internal/auth/domain"
	"github.com/zimmerhq/zimmer/internal/auth/password"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	paymentdomain "github.com/zimmerhq/zimmer/internal/payment/domain"
)

const (
	defaultAdminEmail    = "admin@zimmer.local"
	defaultAdminPassword = "admin"
	defaultAdminDisplay  = "Zimmer Admin"

	demoAutomationName = "Telegram Assistant"
)

// AutoMigrate creates the schema for dialects the versioned migrations do
// not cover.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&authdomain.User{},
		&automationdomain.Automation{},
		&ledgerdomain.UserAutomationGrant{},
		&ledgerdomain.UsageEvent{},
		&paymentdomain.Payment{},
	)
}

// EnsureDemoFixtures seeds the admin account and a sample automation so a
// fresh install is explorable. Idempotent.
func EnsureDemoFixtures(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAdminTx(ctx, tx, node); err != nil {
			return err
		}
		return ensureDemoAutomationTx(ctx, tx, node)
	})
}

func ensureAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var user authdomain.User
	err := tx.WithContext(ctx).Where("email = ?", defaultAdminEmail).First(&user).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := password.Hash(defaultAdminPassword)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(&authdomain.User{
		ID:           node.Generate(),
		Email:        defaultAdminEmail,
		PasswordHash: hash,
		DisplayName:  defaultAdminDisplay,
		Role:         authdomain.RoleAdmin,
		IsActive:     true,
	}).Error
}

func ensureDemoAutomationTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	demoSlug := slug.Make(demoAutomationName)

	var automation automationdomain.Automation
	err := tx.WithContext(ctx).Where("slug = ?", demoSlug).First(&automation).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.WithContext(ctx).Create(&automationdomain.Automation{
		ID:           node.Generate(),
		Name:         demoAutomationName,
		Slug:         demoSlug,
		Description:  "Sample automation for local development.",
		Capabilities: pq.StringArray{automationdomain.CapabilityKnowledgeBase},
		HealthStatus: automationdomain.HealthUnknown,
		IsListed:     true,
	}).Error
}
