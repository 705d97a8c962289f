package database

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MTES-MCT/trackdechets-sub030/config"
)

// Redis sert au verrou distribué, au cache des rôles et à la file
// d'indexation. Même instance partagée que les autres services de la
// plateforme.
var Redis *redis.Client

func ConnectRedis() {
	opts, err := redis.ParseURL(config.Load().RedisURL)
	if err != nil {
		log.Fatal("Erreur configuration Redis:", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Erreur connexion Redis:", err)
	}

	Redis = client
	log.Println("📦 Redis connecté sur", opts.Addr)
}
