package config

import (
	"context"
	"fmt"
	"time"

	"solar_monitor/pkg/logger"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Database is a closable backend connection
type Database interface {
	Close() error
	GetType() string
}

// MongoDatabase wraps MongoDB client
type MongoDatabase struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// InfluxDatabase wraps InfluxDB v3 client
type InfluxDatabase struct {
	Client   *influxdb3.Client
	Database string
}

// RedisDatabase wraps the go-redis client
type RedisDatabase struct {
	Client *redis.Client
}

// InitMongo connects and pings MongoDB
func InitMongo(cfg *Config) (*MongoDatabase, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMaxPoolSize(50).
		SetMinPoolSize(5)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	logger.Infof("MongoDB connected: %s", cfg.MongoDatabase)

	return &MongoDatabase{
		Client:   client,
		Database: client.Database(cfg.MongoDatabase),
	}, nil
}

func (m *MongoDatabase) Close() error {
	if m.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.Client.Disconnect(ctx)
	}
	return nil
}

func (m *MongoDatabase) GetType() string {
	return "mongo"
}

// InitInflux creates the InfluxDB v3 client used by the telemetry archive
func InitInflux(cfg *Config) (*InfluxDatabase, error) {
	if cfg.InfluxURL == "" {
		return nil, fmt.Errorf("INFLUXDB_URL is required")
	}
	if cfg.InfluxDatabase == "" {
		return nil, fmt.Errorf("INFLUXDB_DATABASE is required")
	}

	logger.WithFields(map[string]interface{}{
		"url":      cfg.InfluxURL,
		"database": cfg.InfluxDatabase,
		"token":    maskToken(cfg.InfluxToken),
	}).Info("Initializing InfluxDB v3 connection")

	clientConfig := influxdb3.ClientConfig{
		Host:     cfg.InfluxURL,
		Database: cfg.InfluxDatabase,
		WriteOptions: &influxdb3.WriteOptions{
			DefaultTags: map[string]string{
				"source": "solar_monitor",
			},
		},
	}

	// InfluxDB v3 Core may run without auth
	if cfg.InfluxToken != "" {
		clientConfig.Token = cfg.InfluxToken
	}

	client, err := influxdb3.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("influx client creation failed: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("influx client is nil after creation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iterator, err := client.Query(ctx, "SHOW TABLES")
	if err != nil {
		logger.Warnf("InfluxDB test query failed: %v (ok if database is empty)", err)
	} else {
		count := 0
		for iterator.Next() {
			count++
		}
		logger.Infof("InfluxDB connected: %s (%d tables)", cfg.InfluxDatabase, count)
	}

	return &InfluxDatabase{
		Client:   client,
		Database: cfg.InfluxDatabase,
	}, nil
}

func (i *InfluxDatabase) Close() error {
	if i.Client != nil {
		return i.Client.Close()
	}
	return nil
}

func (i *InfluxDatabase) GetType() string {
	return "influx"
}

// InitRedis connects the cooldown store backend
func InitRedis(cfg *Config) (*RedisDatabase, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Infof("Redis connected: %s db=%d", cfg.RedisAddr, cfg.RedisDB)
	return &RedisDatabase{Client: client}, nil
}

func (r *RedisDatabase) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

func (r *RedisDatabase) GetType() string {
	return "redis"
}

// Helper to mask token in logs
func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
