package indexer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MTES-MCT/trackdechets-sub030/logger"
)

// File d'indexation consommée par le worker de synchronisation vers le
// moteur de recherche. Ce module ne fait que produire : best-effort,
// appelé uniquement après commit, jamais bloquant pour la mutation.
const queueKey = "queue:bsds:index"

type job struct {
	Type  string `json:"type"`
	BsdID string `json:"bsdId"`
	At    int64  `json:"at"`
}

func enqueue(ctx context.Context, rdb *redis.Client, jobType, bsdID string) {
	payload, err := json.Marshal(job{Type: jobType, BsdID: bsdID, At: time.Now().Unix()})
	if err != nil {
		return
	}
	if err := rdb.LPush(ctx, queueKey, payload).Err(); err != nil {
		logger.Get().WithError(err).WithField("bsd_id", bsdID).Warn("échec de mise en file d'indexation")
	}
}

func EnqueueCreatedBsd(ctx context.Context, rdb *redis.Client, bsdID string) {
	enqueue(ctx, rdb, "index_created", bsdID)
}

func EnqueueUpdatedBsd(ctx context.Context, rdb *redis.Client, bsdID string) {
	enqueue(ctx, rdb, "index_updated", bsdID)
}

func EnqueueBsdToDelete(ctx context.Context, rdb *redis.Client, bsdID string) {
	enqueue(ctx, rdb, "delete", bsdID)
}
