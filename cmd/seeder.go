package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dydact/scrive-aci-sub002/internal/auth"
	clientDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/client"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	serviceTypePostgres "github.com/dydact/scrive-aci-sub002/internal/servicetype/postgres"
	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

var (
	seedAdminUserID int64
	seedAdminEmail  string
	seedSample      bool
	seedTokenTTL    time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the service catalog and the bootstrap administrator",
	Long:  `Loads the waiver service catalog, grants the administrator role to the bootstrap user and, in development, prints a signed token for that user.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		lg := logger.LoggerWrapper()

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		ctx := context.Background()
		catalog := servicetype.NewService(serviceTypePostgres.NewServiceTypeRepository(gormDB), lg)
		for _, st := range []*servicetype.ServiceType{
			servicetype.NewServiceType("W1727", "IISS", "Intensive individual support services", 2500),
			servicetype.NewServiceType("W1728", "Respite", "Respite care", 1800),
			servicetype.NewServiceType("W7061", "Therapeutic Integration", "Therapeutic integration services", 3000),
			servicetype.NewServiceType("W7235", "Family Consultation", "Family training and consultation", 4200),
			servicetype.NewServiceType("W1726", "Adult Life Planning", "Adult life planning", 2800),
		} {
			if _, err := catalog.Upsert(ctx, st); err != nil {
				log.Fatalf("failed to seed service type %s: %v", st.Code, err)
			}
		}
		fmt.Println("Service catalog seeded")

		if err := seedAdministrator(gormDB, seedAdminUserID); err != nil {
			log.Fatalf("failed to seed administrator: %v", err)
		}
		fmt.Println("Administrator role granted to user", seedAdminUserID)

		if seedSample {
			if err := seedClients(gormDB); err != nil {
				log.Fatalf("failed to seed clients: %v", err)
			}
			fmt.Println("Sample clients seeded")
		}

		if cfg.Security.JWTSecret != "" {
			token, err := auth.SignHS256(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, seedAdminUserID, seedAdminEmail, seedTokenTTL)
			if err != nil {
				log.Fatalf("failed to sign development token: %v", err)
			}
			fmt.Println("Development token:", token)
		}
	},
}

// seedAdministrator grants the bootstrap role directly, since AssignRole
// itself requires an administrator.
func seedAdministrator(db *gorm.DB, userID int64) error {
	var count int64
	if err := db.Model(&auth.RoleAssignment{}).
		Where("user_id = ? AND active = ?", userID, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.Create(&auth.RoleAssignment{
		UserID:    userID,
		Role:      auth.RoleAdministrator,
		Active:    true,
		GrantedBy: userID,
		GrantedAt: time.Now().UTC(),
	}).Error
}

func seedClients(db *gorm.DB) error {
	clients := []clientDatamodel.Client{
		{FirstName: "Jordan", LastName: "Reyes", MedicaidID: "MA100200300"},
		{FirstName: "Avery", LastName: "Kim", MedicaidID: "MA100200301"},
		{FirstName: "Sam", LastName: "Okafor", MedicaidID: "MA100200302"},
	}
	for i := range clients {
		var count int64
		if err := db.Model(&clientDatamodel.Client{}).Where("medicaid_id = ?", clients[i].MedicaidID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&clients[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func init() {
	seedCmd.Flags().Int64Var(&seedAdminUserID, "admin-user-id", 1, "host user id to grant the administrator role")
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", "admin@example.org", "email placed in the development token")
	seedCmd.Flags().BoolVar(&seedSample, "sample", false, "also insert sample clients")
	seedCmd.Flags().DurationVar(&seedTokenTTL, "token-ttl", 24*time.Hour, "lifetime of the development token")
}
