package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

// Runs against a real server when REDIS_URL is set.
func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	c, err := NewRedisClient(url, 0)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	id := "test-" + time.Now().Format("150405.000000")
	seen := time.Now().Truncate(time.Millisecond)
	if err := c.SetLastSeen(id, seen, time.Minute); err != nil {
		t.Fatal(err)
	}
	ms, err := c.rdb.Get(context.Background(), keyPrefix+"last_seen:"+id).Int64()
	if err != nil || !time.UnixMilli(ms).Equal(seen) {
		t.Errorf("Expected %v, got %v (err=%v)", seen, time.UnixMilli(ms), err)
	}

	if err := c.SetStatus(id, "ONLINE"); err != nil {
		t.Fatal(err)
	}
	if status, _ := c.rdb.Get(context.Background(), keyPrefix+"status:"+id).Result(); status != "ONLINE" {
		t.Errorf("Expected ONLINE, got %q", status)
	}

	for i := int64(1); i <= 3; i++ {
		n, err := c.IncrWithTTL("test:"+id, time.Minute)
		if err != nil || n != i {
			t.Errorf("Expected count %d, got %d (err=%v)", i, n, err)
		}
	}
}

func TestNewRedisClientRequiresURL(t *testing.T) {
	if _, err := NewRedisClient("", 0); err == nil {
		t.Error("Expected error without a URL")
	}
}
