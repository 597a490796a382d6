package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	testMongoURI  string
	testRedisAddr string
)

func init() {
	loadTestEnv()
}

// loadTestEnv loads the .env file and reads test backend addresses. Tests that
// need a backend skip when it is not configured.
func loadTestEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		godotenv.Load()
	}

	testMongoURI = os.Getenv("MONGO_URI_TEST")
	testRedisAddr = os.Getenv("REDIS_ADDR_TEST")
}

// SetupTestDB creates a test MongoDB database connection and drops the given
// collections for a clean state. Skips the test when MONGO_URI_TEST is unset.
func SetupTestDB(t *testing.T, dbName string, collections ...string) *mongo.Database {
	t.Helper()
	if testMongoURI == "" {
		t.Skip("MONGO_URI_TEST not set; skipping MongoDB-backed test")
	}

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	db := client.Database(dbName)

	for _, collection := range collections {
		_ = db.Collection(collection).Drop(context.Background())
	}

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return db
}

// SetupTestRedis returns a Redis client for tests, skipping when
// REDIS_ADDR_TEST is unset.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testRedisAddr == "" {
		t.Skip("REDIS_ADDR_TEST not set; skipping Redis-backed test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	require.NoError(t, rdb.Ping(context.Background()).Err(), "Failed to connect to Redis")

	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return rdb
}
