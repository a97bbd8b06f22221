package migrations_test

import (
	"path/filepath"

	"github.com/oceanomics/seqtrack/internal/config"
	"github.com/oceanomics/seqtrack/internal/store"
	"github.com/oceanomics/seqtrack/pkg/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("migrations", func() {
	var gormdb *gorm.DB

	BeforeEach(func() {
		cfg := config.NewDefault()
		cfg.Database.Name = filepath.Join(GinkgoT().TempDir(), "seqtrack.db")
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		gormdb = db
	})

	AfterEach(func() {
		sqlDB, err := gormdb.DB()
		Expect(err).To(BeNil())
		_ = sqlDB.Close()
	})

	tableExists := func(name string) bool {
		count := 0
		tx := gormdb.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
		Expect(tx.Error).To(BeNil())
		return count == 1
	}

	It("fails for an unknown database type", func() {
		err := migrations.MigrateStore(gormdb, "oracle")
		Expect(err).To(MatchError(ContainSubstring("no migrations")))
	})

	It("successfully migrates the db", func() {
		Expect(migrations.MigrateStore(gormdb, config.DBTypeSqlite)).To(Succeed())
		Expect(tableExists("jobs")).To(BeTrue())

		version, err := migrations.Version(gormdb, config.DBTypeSqlite)
		Expect(err).To(BeNil())
		Expect(version).To(BeNumerically("==", 1))
	})

	It("is idempotent", func() {
		Expect(migrations.MigrateStore(gormdb, config.DBTypeSqlite)).To(Succeed())
		Expect(migrations.MigrateStore(gormdb, config.DBTypeSqlite)).To(Succeed())
		Expect(tableExists("jobs")).To(BeTrue())
	})

	It("ships migrations for both dialects", func() {
		for _, typ := range []string{config.DBTypeSqlite, config.DBTypePostgres} {
			files, err := migrations.Files(typ)
			Expect(err).To(BeNil())
			Expect(files).To(ContainElement(HaveSuffix("00001_create_jobs.sql")))
		}
	})
})
