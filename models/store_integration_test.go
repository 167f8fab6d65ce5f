package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// A webhook and a poll racing on one business id converge on a single row on the server databases too.
func TestOrderUpsertConvergesOnServerDatabases(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	for _, driver := range []string{"mysql", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			db := startDatabase(t, driver)
			ctx := context.Background()
			require.NoError(t, models.MigrateTable(ctx, db))
			store := models.NewOrderStore(db)

			var wg sync.WaitGroup
			ids := make([]uint, 2)
			errs := make([]error, 2)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := store.Upsert(ctx, "ORD-1001", models.OrderPayload{OrderId: "ORD-1001", CustomerMessage: fmt.Sprint(i)})
					ids[i], errs[i] = res.ID, err
				}(i)
			}
			wg.Wait()

			for i := range ids {
				require.NoError(t, errs[i])
				assert.Equal(t, ids[0], ids[i])
			}
			all, err := store.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, models.OrderStatusUnprinted, all[0].Status)
		})
	}
}

func startDatabase(t *testing.T, driver string) *gorm.DB {
	t.Helper()
	s := config.Settings{DBDriver: driver, DBUser: "root", DBPassword: "testpw", DBHost: "127.0.0.1", DBName: "orders_test"}

	var name string
	switch driver {
	case "mysql":
		name = fmt.Sprintf("orders-test-mysql-%d", time.Now().UnixNano())
		out, err := dockerRun("run", "-d", "--name", name,
			"-e", "MYSQL_ROOT_PASSWORD=testpw", "-e", "MYSQL_DATABASE=orders_test",
			"-p", "127.0.0.1:0:3306", "mysql:8.0")
		require.NoError(t, err, out)
		t.Cleanup(func() { _ = dockerRmForce(name) })
		s.DBPort, err = dockerHostPort(name, "3306/tcp")
		require.NoError(t, err)
	case "postgres":
		name = fmt.Sprintf("orders-test-postgres-%d", time.Now().UnixNano())
		s.DBUser = "postgres"
		out, err := dockerRun("run", "-d", "--name", name,
			"-e", "POSTGRES_PASSWORD=testpw", "-e", "POSTGRES_DB=orders_test",
			"-p", "127.0.0.1:0:5432", "postgres:16")
		require.NoError(t, err, out)
		t.Cleanup(func() { _ = dockerRmForce(name) })
		s.DBPort, err = dockerHostPort(name, "5432/tcp")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	db, err := config.ConnectDatabaseWithRetry(ctx, s)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
