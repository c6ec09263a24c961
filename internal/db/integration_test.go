//go:build integration

package db

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/checksumhq/danny/internal/config"
	"github.com/checksumhq/danny/internal/models"
	"gorm.io/gorm"
)

// mysqlConfig returns the MySQL server to test against, read from
// DANNY_TEST_MYSQL_ADDR (host:port, default 127.0.0.1:3306) and
// DANNY_TEST_MYSQL_USER (default root). The test is skipped when nothing
// is listening there.
func mysqlConfig(t *testing.T, database string) config.DatabaseConfig {
	t.Helper()
	addr := os.Getenv("DANNY_TEST_MYSQL_ADDR")
	if addr == "" {
		addr = "127.0.0.1:3306"
	}
	user := os.Getenv("DANNY_TEST_MYSQL_USER")
	if user == "" {
		user = "root"
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("DANNY_TEST_MYSQL_ADDR %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("DANNY_TEST_MYSQL_ADDR %q: %v", addr, err)
	}
	waitForServer(t, addr)
	return config.DatabaseConfig{Driver: config.DriverMySQL, Host: host, Port: port, User: user, Name: database}
}

// waitForServer skips the test unless addr accepts TCP connections.
func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Skipf("no MySQL server on %s", addr)
}

// freshDatabase creates an empty database, migrates it, and drops it when
// the test completes.
func freshDatabase(t *testing.T, name string) *gorm.DB {
	t.Helper()
	cfg := mysqlConfig(t, fmt.Sprintf("%s_%d", name, time.Now().UnixNano()%100000))

	adminDB, err := ConnectAdmin(cfg)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	if err := CreateDatabase(adminDB, cfg.Name); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	t.Cleanup(func() { DropDatabase(adminDB, cfg.Name) })

	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestIntegration_AutoMigrate(t *testing.T) {
	db := freshDatabase(t, "danny_migrate")

	expectedTables := []string{
		"monitored_channels",
		"channel_cursors",
		"conversation_sessions",
		"conversation_threads",
		"customer_repos",
		"deployments",
	}

	var tables []string
	if err := db.Raw("SHOW TABLES").Scan(&tables).Error; err != nil {
		t.Fatalf("SHOW TABLES: %v", err)
	}
	tableSet := make(map[string]bool)
	for _, tbl := range tables {
		tableSet[tbl] = true
	}
	for _, want := range expectedTables {
		if !tableSet[want] {
			t.Errorf("table %q not found after AutoMigrate; got %v", want, tables)
		}
	}

	// Running it again must be a no-op.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
}

func TestIntegration_DuplicateThreadIsDuplicateKey(t *testing.T) {
	db := freshDatabase(t, "danny_dup")

	sess := models.ConversationSession{Phase: "sales"}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	first := models.ConversationThread{ThreadTS: "100.000001", ChannelID: "C01", SessionID: sess.ID}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("create thread: %v", err)
	}

	dup := models.ConversationThread{ThreadTS: "100.000001", ChannelID: "C01", SessionID: sess.ID}
	err := db.Create(&dup).Error
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !IsDuplicateKey(err) {
		t.Errorf("IsDuplicateKey(%v) = false, want true", err)
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("err = %v, want gorm.ErrDuplicatedKey via TranslateError", err)
	}
}

func TestIntegration_SeedChannels(t *testing.T) {
	db := freshDatabase(t, "danny_seed")

	channels := []config.ChannelConfig{
		{ID: "C01", Name: "checksum-danny", Phase: "sales"},
		{ID: "C02", Phase: "customer"},
	}
	for i := 0; i < 2; i++ {
		if err := SeedChannels(db, channels); err != nil {
			t.Fatalf("SeedChannels #%d: %v", i, err)
		}
	}

	var rows []models.MonitoredChannel
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load channels: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("channels = %d, want 2", len(rows))
	}
	if rows[1].Name != "C02" || rows[1].Phase != "customer" {
		t.Errorf("C02 = %+v", rows[1])
	}
}

func TestIntegration_HistoryHoldsLargeBlobs(t *testing.T) {
	db := freshDatabase(t, "danny_blob")

	sess := models.ConversationSession{Phase: "sales"}
	db.Create(&sess)
	big := make([]byte, 200_000)
	for i := range big {
		big[i] = 'x'
	}
	th := models.ConversationThread{ThreadTS: "1", ChannelID: "C01", SessionID: sess.ID, History: string(big)}
	if err := db.Create(&th).Error; err != nil {
		t.Fatalf("create thread with large history: %v", err)
	}

	var got models.ConversationThread
	db.First(&got, th.ID)
	if len(got.History) != len(big) {
		t.Errorf("history length = %d, want %d", len(got.History), len(big))
	}
}
