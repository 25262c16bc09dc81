// Command debug-cache dumps the embercord Redis keyspace for inspection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
)

func main() {
	addr := flag.String("addr", "localhost:6379", "redis address")
	username := flag.String("username", "", "redis username")
	password := flag.String("password", "", "redis password")
	db := flag.Int("db", 0, "redis database")
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{
		Addr:     *addr,
		Username: *username,
		Password: *password,
		DB:       *db,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to cache at %s: %v", *addr, err)
	}

	iter := rdb.Scan(ctx, 0, "embercord:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fmt.Printf("\n--- Key: %s ---\n", key)
		keyType, err := rdb.Type(ctx, key).Result()
		if err != nil {
			log.Printf("Failed to get type for key %s: %v", key, err)
			continue
		}
		fmt.Printf("Type: %s\n", keyType)

		switch keyType {
		case "string":
			val, err := rdb.Get(ctx, key).Result()
			if err != nil {
				log.Printf("Failed to get string value for key %s: %v", key, err)
				continue
			}
			fmt.Printf("Value: %s\n", val)
		case "list":
			vals, err := rdb.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				log.Printf("Failed to get list value for key %s: %v", key, err)
				continue
			}
			fmt.Println("Values:")
			for _, val := range vals {
				fmt.Printf("  - %s\n", val)
			}
		case "hash":
			vals, err := rdb.HGetAll(ctx, key).Result()
			if err != nil {
				log.Printf("Failed to get hash value for key %s: %v", key, err)
				continue
			}
			fmt.Println("Fields:")
			for field, val := range vals {
				fmt.Printf("  - %s: %s\n", field, prettyValue(key, val))
			}
		case "zset":
			vals, err := rdb.ZRevRangeWithScores(ctx, key, 0, -1).Result()
			if err != nil {
				log.Printf("Failed to get sorted set for key %s: %v", key, err)
				continue
			}
			fmt.Println("Members:")
			for _, z := range vals {
				fmt.Printf("  - %v (score %.0f)\n", z.Member, z.Score)
			}
		default:
			fmt.Println("Value: (unsupported type for printing)")
		}
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("Failed to scan keys: %v", err)
	}
}

// prettyValue summarizes known entity payloads instead of dumping raw JSON.
func prettyValue(key, val string) string {
	switch {
	case strings.Contains(key, ":messages"):
		var msg discordgo.Message
		if err := json.Unmarshal([]byte(val), &msg); err == nil && msg.Author != nil {
			return fmt.Sprintf("%s: %s", msg.Author.Username, msg.Content)
		}
	case strings.Contains(key, ":users"):
		var user discordgo.User
		if err := json.Unmarshal([]byte(val), &user); err == nil {
			return user.Username
		}
	case strings.Contains(key, ":guilds"):
		var guild discordgo.Guild
		if err := json.Unmarshal([]byte(val), &guild); err == nil {
			return fmt.Sprintf("%s (%d members)", guild.Name, guild.MemberCount)
		}
	}
	return val
}
