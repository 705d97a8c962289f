package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/MTES-MCT/trackdechets-sub030/logger"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

const keyPrefix = "lock:"

// Valeurs par défaut ; l'appelant peut les surcharger (la demande
// d'administration utilise un TTL de 10s).
const (
	DefaultTTL           = 30 * time.Second
	DefaultTimeout       = 5 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
)

// releaseScript supprime la clé seulement si elle contient encore notre
// jeton. Exécuté côté serveur pour éviter la course lecture-puis-suppression :
// un verrou expiré puis repris par un autre détenteur ne doit jamais être
// relâché par l'ancien.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock est un verrou d'exclusion mutuelle nommé, adossé à Redis.
// Le jeton identifie le détenteur pour la libération conditionnelle.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire tente un SET NX EX sur la clé dérivée de name, en réessayant
// toutes les retryInterval jusqu'à timeout. Échoue avec ErrLockTimeout.
func Acquire(ctx context.Context, rdb *redis.Client, name string, ttl, timeout, retryInterval time.Duration) (*Lock, error) {
	l := &Lock{
		rdb:   rdb,
		key:   keyPrefix + name,
		token: xid.New().String(),
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := rdb.SetNX(ctx, l.key, l.token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return nil, utils.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release supprime la clé si le jeton correspond encore. Au mieux :
// les échecs sont journalisés, jamais remontés.
func (l *Lock) Release(ctx context.Context) {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		logger.Get().WithError(err).WithField("key", l.key).Warn("échec de libération du verrou")
		return
	}
	if deleted == 0 {
		// TTL expiré, éventuellement repris par un autre détenteur.
		logger.Get().WithField("key", l.key).Debug("verrou déjà expiré à la libération")
	}
}

// WithLock exécute fn sous le verrou name et le relâche quoi qu'il arrive.
func WithLock(ctx context.Context, rdb *redis.Client, name string, ttl, timeout time.Duration, fn func() error) error {
	l, err := Acquire(ctx, rdb, name, ttl, timeout, DefaultRetryInterval)
	if err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn()
}
