package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"parcel-queue-service/internal/adapters/audit"
	"parcel-queue-service/internal/adapters/cache"
	"parcel-queue-service/internal/adapters/repositories"
	"parcel-queue-service/internal/config"
	"parcel-queue-service/internal/domain"
	"parcel-queue-service/internal/platform/db"
	"parcel-queue-service/internal/platform/obs"
	"parcel-queue-service/internal/services"
)

// parcelctl is the application composition root: it wires the store,
// allocator, audit sink, and optional redis cache behind the lifecycle
// manager and exposes its operations as subcommands.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	conn, store, auditLog, err := openStore()
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	sink := audit.NewAsyncSink(auditLog, config.GetInt("AUDIT_BUFFER", 64))
	defer sink.Close()

	format := domain.TicketFormat{
		Prefix: config.Get("TICKET_PREFIX", domain.DefaultTicketFormat.Prefix),
		Width:  config.GetInt("TICKET_WIDTH", domain.DefaultTicketFormat.Width),
	}

	var ticketCache *cache.RedisTicketCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		ticketCache = cache.NewRedisTicketCache(client, cache.DefaultTTL)
	}

	svc := newParcels(store, format, sink, ticketCache)
	actor := config.Get("PARCEL_ACTOR", config.Get("USER", "staff"))

	ctx := obs.WithRequestID(context.Background(), fmt.Sprintf("cli-%d", time.Now().UnixNano()))

	cmd, args := os.Args[1], os.Args[2:]
	if err := run(ctx, cmd, args, store, svc, actor); err != nil {
		log.Fatal(err)
	}
}

// newParcels exists so run stays testable against any Store.
func newParcels(store *repositories.SQLStore, format domain.TicketFormat, sink *audit.AsyncSink, ticketCache *cache.RedisTicketCache) *services.Parcels {
	alloc := services.NewAllocator(format)
	if ticketCache == nil {
		return services.NewParcels(store, alloc, sink, nil)
	}
	return services.NewParcels(store, alloc, sink, ticketCache)
}

// openStore picks postgres when DATABASE_URL is set, otherwise the local
// sqlite file (the default single-station deployment).
func openStore() (*sql.DB, *repositories.SQLStore, *repositories.SQLAuditLog, error) {
	if databaseURL := os.Getenv("DATABASE_URL"); strings.TrimSpace(databaseURL) != "" {
		conn, err := db.OpenPostgres(databaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return conn, repositories.NewPostgresStore(conn), repositories.NewPostgresAuditLog(conn), nil
	}

	path := config.Get("PARCEL_DB", "data/parcel.db")
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return conn, repositories.NewSQLiteStore(conn), repositories.NewSQLiteAuditLog(conn), nil
}

func run(ctx context.Context, cmd string, args []string, store *repositories.SQLStore, svc *services.Parcels, actor string) error {
	switch cmd {
	case "init":
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
		fmt.Println("schema ready")
		return nil

	case "checkin":
		fs := flag.NewFlagSet("checkin", flag.ExitOnError)
		tracking := fs.String("tracking", "", "tracking number (required)")
		carrier := fs.String("carrier", "", "carrier code")
		name := fs.String("name", "", "recipient name")
		phone := fs.String("phone", "", "recipient phone")
		provisional := fs.Bool("provisional", false, "check in as PENDING (deletable)")
		_ = fs.Parse(args)

		res, err := svc.Create(ctx, services.CreateRequest{
			TrackingNumber: *tracking,
			Carrier:        *carrier,
			RecipientName:  *name,
			RecipientPhone: *phone,
			Provisional:    *provisional,
			Actor:          actor,
		})
		if err != nil {
			return err
		}
		fmt.Printf("id=%d queue=%s status=%s\n", res.ID, res.QueueNumber, res.Status)
		return nil

	case "confirm":
		tracking, err := trackingArg(args)
		if err != nil {
			return err
		}
		res, err := svc.ConfirmPending(ctx, tracking, actor)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s status=%s changed=%t\n", res.QueueNumber, res.Status, res.Changed)
		return nil

	case "pickup":
		fs := flag.NewFlagSet("pickup", flag.ExitOnError)
		tracking := fs.String("tracking", "", "tracking number (required)")
		name := fs.String("name", "", "recipient name override")
		_ = fs.Parse(args)
		if *tracking == "" {
			return fmt.Errorf("pickup: -tracking is required")
		}

		res, err := svc.ConfirmPickup(ctx, *tracking, *name, actor)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s status=%s recipient=%s changed=%t\n", res.QueueNumber, res.Status, res.RecipientName, res.Changed)
		return nil

	case "delete":
		tracking, err := trackingArg(args)
		if err != nil {
			return err
		}
		if err := svc.DeleteProvisional(ctx, tracking, actor); err != nil {
			return err
		}
		fmt.Println("deleted (queue number recycled)")
		return nil

	case "purge":
		fs := flag.NewFlagSet("purge", flag.ExitOnError)
		idList := fs.String("ids", "", "comma-separated parcel ids")
		trackingList := fs.String("trackings", "", "comma-separated tracking numbers")
		_ = fs.Parse(args)

		ids, err := parseIDs(*idList)
		if err != nil {
			return err
		}
		trackings := splitList(*trackingList)
		if len(ids) == 0 && len(trackings) == 0 {
			return fmt.Errorf("purge: -ids or -trackings is required")
		}

		deleted, err := svc.BulkDelete(ctx, ids, trackings, actor)
		if err != nil {
			return err
		}
		fmt.Printf("deleted=%d\n", deleted)
		return nil

	case "show":
		tracking, err := trackingArg(args)
		if err != nil {
			return err
		}
		p, err := svc.Get(ctx, tracking)
		if err != nil {
			return err
		}
		fmt.Printf("id=%d tracking=%s carrier=%s queue=%s status=%s recipient=%s created=%s\n",
			p.ID, p.TrackingNumber, p.Carrier, p.QueueNumber, p.Status, p.RecipientName,
			p.CreatedAt.Format(time.RFC3339))
		return nil

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		limit := fs.Int("limit", services.DefaultListLimit, "max rows")
		_ = fs.Parse(args)

		parcels, err := svc.List(ctx, *limit)
		if err != nil {
			return err
		}
		for _, p := range parcels {
			fmt.Printf("%s\t%s\t%s\t%s\n", p.QueueNumber, p.TrackingNumber, p.Status, p.RecipientName)
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func trackingArg(args []string) (string, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("a tracking number argument is required")
	}
	return args[0], nil
}

func parseIDs(list string) ([]int64, error) {
	parts := splitList(list)
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(list string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: parcelctl <command> [flags]

commands:
  init                               create the database schema
  checkin  -tracking T [-carrier C] [-name N] [-phone P] [-provisional]
  confirm  <tracking>                promote PENDING to RECEIVED
  pickup   -tracking T [-name N]     mark picked up (idempotent)
  delete   <tracking>                delete a PENDING parcel, recycle its ticket
  purge    [-ids 1,2] [-trackings A,B]
  show     <tracking>
  list     [-limit N]`)
}
